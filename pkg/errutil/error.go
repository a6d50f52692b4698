package errutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

func (e BaseError) Status() CoreStatus {
	return e.Code
}

func (e BaseError) JSON() interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.PublicMessage(),
			"details": e.Details,
		},
	}
}

// PublicMessage is the text safe to hand to a client. Causes of server-side
// failures stay in the logs.
func (e BaseError) PublicMessage() string {
	if e.Code.HTTPStatus() >= 500 {
		return e.Message
	}
	return e.messageWithErr()
}

func (e BaseError) Unwrap() error {
	return e.Err
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.messageWithErr())
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e BaseError) messageWithErr() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(be *BaseError) { be.Details = details }
}

func WithErr(err error) Option {
	return func(be *BaseError) { be.Err = err }
}

func New(code CoreStatus, message string, opts ...Option) error {
	be := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

func wrap(code CoreStatus, msg string, err error, options []Option) error {
	if err != nil {
		options = append([]Option{WithErr(err)}, options...)
	}
	return New(code, msg, options...)
}

func NotFound(msg string, err error, options ...Option) error {
	return wrap(StatusNotFound, msg, err, options)
}

func UnprocessableEntity(msg string, err error, options ...Option) error {
	return wrap(StatusUnprocessableEntity, msg, err, options)
}

func Conflict(msg string, err error, options ...Option) error {
	return wrap(StatusConflict, msg, err, options)
}

func BadRequest(msg string, err error, options ...Option) error {
	return wrap(StatusBadRequest, msg, err, options)
}

func ValidationFailed(msg string, err error, options ...Option) error {
	return wrap(StatusValidationFailed, msg, err, options)
}

func Internal(msg string, err error, options ...Option) error {
	return wrap(StatusInternal, msg, err, options)
}

func Unavailable(msg string, err error, options ...Option) error {
	return wrap(StatusServiceUnavailable, msg, err, options)
}

func Timeout(msg string, err error, options ...Option) error {
	return wrap(StatusTimeout, msg, err, options)
}

func Forbidden(msg string, err error, options ...Option) error {
	return wrap(StatusForbidden, msg, err, options)
}

func TooManyRequest(msg string, err error, options ...Option) error {
	return wrap(StatusTooManyRequests, msg, err, options)
}

func ClientClosedRequest(msg string, err error, options ...Option) error {
	return wrap(StatusClientClosedRequest, msg, err, options)
}

// Field builds a single-field detail for validation errors.
func Field(field, message string) Option {
	return WithDetails(Detail{Field: field, Message: message})
}

// Coder is implemented by domain errors that know their transport class.
type Coder interface {
	Status() CoreStatus
}

// StatusOf extracts the CoreStatus from err, StatusUnknown when err carries none.
func StatusOf(err error) CoreStatus {
	var coder Coder
	if errors.As(err, &coder) {
		return coder.Status()
	}
	return StatusUnknown
}

// Normalize turns any error into a BaseError for the transports. Context
// errors and Coder values keep their class; anything else is internal.
func Normalize(err error) BaseError {
	var base BaseError
	if errors.As(err, &base) {
		return base
	}

	var coder Coder
	switch {
	case errors.Is(err, context.Canceled):
		return BaseError{Code: StatusClientClosedRequest, Message: "request cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return BaseError{Code: StatusTimeout, Message: "request timed out", Err: err}
	case errors.As(err, &coder):
		be := BaseError{Code: coder.Status(), Message: err.Error()}
		if be.Code.HTTPStatus() >= 500 {
			be.Message, be.Err = strings.ReplaceAll(string(be.Code), "_", " "), err
		}
		return be
	default:
		return BaseError{Code: StatusInternal, Message: "internal error", Err: err}
	}
}
