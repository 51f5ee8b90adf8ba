package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a remote failure for the caller.
type Kind string

const (
	KindNetwork  Kind = "network"
	KindTimeout  Kind = "timeout"
	KindAuth     Kind = "auth"
	KindRejected Kind = "rejected"
)

// Error is the single error type returned by Client. Callers branch on Kind
// and never look at the transport error underneath.
type Error struct {
	Op     string
	Kind   Kind
	Status int
	// Code is the backend's error code, when it sent one.
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Status != 0:
		return fmt.Sprintf("%s: %s (%d): %s", e.Op, e.Kind, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of a remote error, or "" if err is nil or not a
// remote error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// CodeOf returns the backend error code carried by err, or "".
func CodeOf(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// StatusError is returned by a Transport when the server answered with a
// non-2xx status.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func classify(op string, err error) *Error {
	var se *StatusError
	if errors.As(err, &se) {
		kind := KindNetwork
		switch {
		case se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden:
			kind = KindAuth
		case se.Status >= 400 && se.Status < 500:
			kind = KindRejected
		}
		return &Error{Op: op, Kind: kind, Status: se.Status, Code: se.Code, Message: se.Message, Err: err}
	}
	return &Error{Op: op, Kind: KindNetwork, Err: err}
}
