package rpc

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error codes used by the daemon (errno values).
const (
	CodeNotFound     = 2
	CodeInvalid      = 22
	CodeNotSupported = 95
)

var (
	// ErrClosed is returned for calls pending or issued on a closed connection.
	ErrClosed = errors.New("connection closed")
	// ErrAuthFailed is returned when the daemon rejects the credentials.
	ErrAuthFailed = errors.New("authentication failed")
)

// Error is the error payload returned by a failed method call.
type Error struct {
	Code   int    `json:"error"`
	Name   string `json:"errname,omitempty"`
	Reason string `json:"reason"`
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("[%s] %s", e.Name, e.Reason)
	}
	return e.Reason
}

// JobError reports a job that finished in a state other than SUCCESS.
type JobError struct {
	ID     int64
	Method string
	State  string
	Reason string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %d (%s) %s: %s", e.ID, e.Method, e.State, e.Reason)
}

// NotFound builds a not-found daemon error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Name: "ENOENT", Reason: fmt.Sprintf(format, args...)}
}

// Invalid builds a validation daemon error.
func Invalid(format string, args ...any) *Error {
	return &Error{Code: CodeInvalid, Name: "EINVAL", Reason: fmt.Sprintf(format, args...)}
}

// NotSupported builds an error for methods a backend does not implement.
func NotSupported(method string) *Error {
	return &Error{Code: CodeNotSupported, Name: "ENOTSUP", Reason: fmt.Sprintf("%s is not supported by this backend", method)}
}

// IsNotFound reports whether err carries a not-found daemon error.
func IsNotFound(err error) bool {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Code == CodeNotFound
	}
	return false
}

// IsRemote reports whether err originated in the daemon rather than in transport.
func IsRemote(err error) bool {
	var rerr *Error
	var jerr *JobError
	return errors.As(err, &rerr) || errors.As(err, &jerr)
}
