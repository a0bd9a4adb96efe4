package remote

import "errors"

var (
	// ErrAlreadyExists is returned by a Create write for an existing document.
	ErrAlreadyExists = errors.New("remote: document already exists")

	// ErrNoDocument is returned by Get and by Update writes for a missing
	// document.
	ErrNoDocument = errors.New("remote: document not found")

	// ErrInvalid is returned for malformed writes and queries.
	ErrInvalid = errors.New("remote: invalid request")

	// ErrPermissionDenied is returned when the store refuses a request.
	ErrPermissionDenied = errors.New("remote: permission denied")

	// ErrUnavailable is returned when the store cannot be reached.
	ErrUnavailable = errors.New("remote: unavailable")

	// ErrClosed is returned after the store or connection was closed.
	ErrClosed = errors.New("remote: closed")

	// ErrConflict is returned when a write's version precondition no
	// longer holds.
	ErrConflict = errors.New("remote: version conflict")
)

var errorCodes = map[error]string{
	ErrAlreadyExists:    "already_exists",
	ErrNoDocument:       "not_found",
	ErrInvalid:          "invalid",
	ErrPermissionDenied: "permission_denied",
	ErrUnavailable:      "unavailable",
	ErrClosed:           "closed",
	ErrConflict:         "conflict",
}

// ErrorCode returns the wire code of err, "internal" for unknown errors and
// "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "internal"
}

// CodeError rebuilds an error from its wire code. The sentinel for the code
// is wrapped so errors.Is keeps working across the transport.
func CodeError(code, message string) error {
	for sentinel, c := range errorCodes {
		if c == code {
			if message == "" || message == sentinel.Error() {
				return sentinel
			}
			return &wireError{sentinel: sentinel, message: message}
		}
	}
	return errors.New(message)
}

type wireError struct {
	sentinel error
	message  string
}

func (e *wireError) Error() string { return e.message }
func (e *wireError) Unwrap() error { return e.sentinel }
