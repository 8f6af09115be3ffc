package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrNetwork means the request did not complete.
	ErrNetwork = errors.New("network error")
	// ErrProtocol means the server answered with a non-2xx status or a body
	// that could not be decoded.
	ErrProtocol = errors.New("protocol error")
	// ErrValidationRejected is a 4xx answer to a create or update. It also
	// matches ErrProtocol.
	ErrValidationRejected = errors.New("validation rejected")
	// ErrNotFound is a 404 on an addressed resource. It also matches
	// ErrProtocol.
	ErrNotFound = errors.New("not found")
)

// Error describes a failed backend call.
type Error struct {
	Kind   error  // one of the Err* kinds above
	Op     string // e.g. "create equipment"
	Status int    // HTTP status, 0 for network errors
	// Message is the server's {"error": ...} text when present, otherwise
	// "Server responded with <status>".
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Kind == ErrValidationRejected || e.Kind == ErrNotFound {
		errs = append(errs, ErrProtocol)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Kind returns the error kind of err, or nil if err did not come from this
// package.
func Kind(err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return nil
}

// Message returns the text to show a user for err: the server's message
// when the backend supplied one, otherwise err's own text.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if apiErr.Err != nil {
			return apiErr.Err.Error()
		}
	}
	return err.Error()
}

// scope says which status-specific kinds an operation can produce.
type scope int

const (
	scopeCollection scope = iota // list endpoints
	scopeCreate                  // POST to a collection
	scopeUpdate                  // PUT/POST to an addressed resource
	scopeDelete                  // DELETE of an addressed resource
)

func kindFor(status int, s scope) error {
	switch {
	case status == http.StatusNotFound && (s == scopeUpdate || s == scopeDelete):
		return ErrNotFound
	case status >= 400 && status < 500 && (s == scopeCreate || s == scopeUpdate):
		return ErrValidationRejected
	default:
		return ErrProtocol
	}
}

func outcomeLabel(kind error) string {
	switch kind {
	case nil:
		return "ok"
	case ErrNetwork:
		return "network_error"
	case ErrValidationRejected:
		return "validation_rejected"
	case ErrNotFound:
		return "not_found"
	default:
		return "protocol_error"
	}
}
