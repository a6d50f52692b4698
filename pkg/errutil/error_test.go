package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type codedError struct {
	msg  string
	code CoreStatus
}

func (e *codedError) Error() string      { return e.msg }
func (e *codedError) Status() CoreStatus { return e.code }

var (
	errBusy  = &codedError{"store failure", StatusServiceUnavailable}
	errTaken = &codedError{"already applied", StatusConflict}
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		code    CoreStatus
		http    int
		grpc    codes.Code
		message string
	}{
		{"base error", NotFound("habit not found", nil), StatusNotFound, http.StatusNotFound, codes.NotFound, "habit not found"},
		{"client coder", fmt.Errorf("gift: %w", errTaken), StatusConflict, http.StatusConflict, codes.AlreadyExists, "gift: already applied"},
		{"server coder", fmt.Errorf("%w: commit: disk I/O", errBusy), StatusServiceUnavailable, http.StatusServiceUnavailable, codes.Unavailable, "service unavailable"},
		{"cancelled", fmt.Errorf("read: %w", context.Canceled), StatusClientClosedRequest, 499, codes.Canceled, "request cancelled: read: context canceled"},
		{"deadline", context.DeadlineExceeded, StatusTimeout, http.StatusGatewayTimeout, codes.DeadlineExceeded, "request timed out"},
		{"plain", errors.New("dsn password=hunter2"), StatusInternal, http.StatusInternalServerError, codes.Internal, "internal error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			be := Normalize(tc.err)
			require.Equal(t, tc.code, be.Code)
			require.Equal(t, tc.http, be.Code.HTTPStatus())
			require.Equal(t, tc.message, be.PublicMessage())
			require.Equal(t, tc.code, StatusOf(be))

			st, ok := status.FromError(ToGRPCError(tc.err))
			require.True(t, ok)
			require.Equal(t, tc.grpc, st.Code())
			require.Equal(t, tc.message, st.Message())
		})
	}
}

func TestPublicMessageHidesServerCauses(t *testing.T) {
	err := Unavailable("ledger store unavailable", errors.New("dial tcp 10.0.0.5:5432"))
	be := Normalize(err)
	require.Equal(t, "ledger store unavailable", be.PublicMessage())
	require.Contains(t, be.Error(), "10.0.0.5", "the cause stays available for logs")

	err = ValidationFailed("date must be YYYY-MM-DD", errors.New("parsing time"))
	require.Equal(t, "date must be YYYY-MM-DD: parsing time", Normalize(err).PublicMessage())
}

func TestToGRPCErrorKeepsStatusErrors(t *testing.T) {
	require.NoError(t, ToGRPCError(nil))

	in := status.Error(codes.ResourceExhausted, "slow down")
	require.Equal(t, in, ToGRPCError(in))
}
