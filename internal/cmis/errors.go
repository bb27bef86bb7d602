package cmis

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrConnection       = errors.New("cmis: connection failed")
	ErrUnauthorized     = errors.New("cmis: unauthorized")
	ErrNotFound         = errors.New("cmis: object not found")
	ErrPermissionDenied = errors.New("cmis: permission denied")
	ErrConstraint       = errors.New("cmis: constraint violation")
	ErrInvalidArgument  = errors.New("cmis: invalid argument")
	ErrRuntime          = errors.New("cmis: server error")
)

// Error is returned by every Session operation that fails
type Error struct {
	Kind    error  // one of the Err* kinds above
	Op      string // operation, e.g. "createDocument"
	Status  int    // HTTP status when the failure came from a response
	Message string
	Err     error // underlying transport error, if any
}

func NewError(kind error, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err means the session is unusable and the
// current pass must stop
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrUnauthorized)
}

// kindFromStatus maps an HTTP status to an error kind
func kindFromStatus(status int) error {
	switch {
	case status == 401:
		return ErrUnauthorized
	case status == 403:
		return ErrPermissionDenied
	case status == 404:
		return ErrNotFound
	case status == 400:
		return ErrInvalidArgument
	case status == 409:
		return ErrConstraint
	case status == 502 || status == 503 || status == 504:
		return ErrConnection
	case status >= 500:
		return ErrRuntime
	default:
		return ErrRuntime
	}
}

// kindFromException maps a Browser Binding exception name to an error kind
func kindFromException(exception string) error {
	switch exception {
	case "objectNotFound":
		return ErrNotFound
	case "permissionDenied":
		return ErrPermissionDenied
	case "unauthorized":
		return ErrUnauthorized
	case "invalidArgument", "notSupported", "filterNotValid":
		return ErrInvalidArgument
	case "constraint", "contentAlreadyExists", "nameConstraintViolation",
		"streamNotSupported", "updateConflict", "versioning", "storage":
		return ErrConstraint
	default:
		return nil
	}
}

// ExceptionName is the Browser Binding spelling of an error kind
func ExceptionName(kind error) string {
	switch kind {
	case ErrNotFound:
		return "objectNotFound"
	case ErrPermissionDenied:
		return "permissionDenied"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrInvalidArgument:
		return "invalidArgument"
	case ErrConstraint:
		return "constraint"
	default:
		return "runtime"
	}
}

// StatusFor is the HTTP status a server reports for an error kind
func StatusFor(kind error) int {
	switch kind {
	case ErrNotFound:
		return 404
	case ErrPermissionDenied:
		return 403
	case ErrUnauthorized:
		return 401
	case ErrInvalidArgument:
		return 400
	case ErrConstraint:
		return 409
	case ErrConnection:
		return 503
	default:
		return 500
	}
}
