package kds

import "fmt"

// BackendError is returned when the backend answers with a non-2xx status.
type BackendError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// MalformedResponseError is returned when a registration response lacks the
// pairing code or printer list, or carries them with the wrong JSON type.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed registration response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed registration response: %s", e.Reason)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
