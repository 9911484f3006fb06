package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientError marks an error as retryable regardless of its cause.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// retryableStates lists SQLSTATEs outside class 08 that clear on their own.
var retryableStates = map[string]bool{
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

// connectionLost matches driver errors that only survive as text.
var connectionLost = []string{
	"connection reset by peer",
	"broken pipe",
	"i/o timeout",
	"conn closed",
	"failed to connect",
}

// IsTransient reports whether err came from the connection or server state
// rather than from the query itself. Bad SQL, missing relations and
// context cancellation are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var marked *TransientError
	if errors.As(err, &marked) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception.
		return strings.HasPrefix(pgErr.Code, "08") || retryableStates[pgErr.Code]
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNABORTED):
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range connectionLost {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
