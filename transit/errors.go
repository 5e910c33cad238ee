package transit

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned when the upstream does not know the requested resource.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when the upstream cannot be reached or answers
	// with an error, including while the circuit breaker is open.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrInvalidArgument is returned for queries rejected before any request is made.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error describes a failed upstream call.
type Error struct {
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Status > 0 {
		return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("GET %s: %s", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error.
func NewError(url string, status int, body string, err error) *Error {
	return &Error{URL: url, Status: status, Body: body, Err: err}
}

// InvalidArgument reports a rejected query parameter. It matches ErrInvalidArgument.
func InvalidArgument(name, reason string) error {
	return errors.Mark(errors.Newf("invalid parameter '%s': %s", name, reason), ErrInvalidArgument)
}
