// Package erruser provides errors whose Error() returns only a user-facing
// message; the cause is available via Unwrap() for Details or logs.
package erruser

import "errors"

// Err holds a user-facing message and an optional cause for debugging.
// Error() returns only Msg so the first line the user sees never contains git
// stderr, HTTP status codes or exit codes; the CLI prints the cause on a
// "Details:" line.
type Err struct {
	Msg string
	Err error
}

// Error returns the user-facing message only.
func (e *Err) Error() string {
	if e == nil {
		return ""
	}
	return e.Msg
}

// Unwrap returns the underlying error for Details or logging.
// Handles nil receiver (method call on nil *Err is valid in Go).
func (e *Err) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New returns an error with the given user-facing message. If err is non-nil,
// it is wrapped and available via Unwrap() so callers can print "Details: %v".
// If err is nil, returns a simple error with just msg (no Unwrap).
func New(msg string, err error) error {
	if err == nil {
		return errors.New(msg)
	}
	return &Err{Msg: msg, Err: err}
}

// Message returns the user-facing message of the first *Err in err's chain,
// or err.Error() when there is none. It returns "" for a nil error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Err
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
