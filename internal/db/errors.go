package db

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUnavailable means the connect retry budget is exhausted. Recoverable:
	// request-boundary callers map it to a 503, they never crash the process.
	ErrUnavailable = errors.New("db: connection unavailable")

	// ErrQueryFailed wraps an execution error that survived the single
	// reconnect-and-retry pass.
	ErrQueryFailed = errors.New("db: query failed")

	// ErrConfig indicates missing or invalid connection settings. Fatal at
	// first use, but never at boot: the connection is lazy.
	ErrConfig = errors.New("db: invalid configuration")
)

// IsConnError reports whether err indicates a broken transport-level link to
// the database, as opposed to a logically invalid operation. Only these
// failures clear the handle and justify a reconnect.
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is "connection exception"; 57P01..57P03 cover server
		// shutdown and crash notices.
		if strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
		switch pgErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
	}
	return false
}
