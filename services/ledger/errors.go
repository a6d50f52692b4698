package ledger

import (
	"errors"

	"habitcoin/pkg/errutil"
)

// Error is a ledger sentinel that carries its transport class, so the HTTP
// and gRPC layers render it without knowing this package.
type Error struct {
	msg    string
	status errutil.CoreStatus
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Status() errutil.CoreStatus { return e.status }

var (
	// ErrConflict means another writer already applied the same idempotency key.
	ErrConflict = &Error{"ledger: idempotency conflict", errutil.StatusConflict}
	// ErrStore wraps transient store failures; callers may retry.
	ErrStore                  = &Error{"ledger: store failure", errutil.StatusServiceUnavailable}
	ErrInsufficientBalance    = &Error{"ledger: insufficient balance", errutil.StatusUnprocessableEntity}
	ErrInvalidAmount          = &Error{"ledger: amount must be positive", errutil.StatusValidationFailed}
	ErrUnknownTransactionType = &Error{"ledger: unknown transaction type", errutil.StatusInternal}
	ErrSelfTransfer           = &Error{"ledger: sender and receiver are the same user", errutil.StatusValidationFailed}
)

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStore)
}
