package station

import "fmt"

// BindError reports a station whose port could not be bound.
type BindError struct {
	Station string
	Port    uint16
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("station %q: bind port %d: %v", e.Station, e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
