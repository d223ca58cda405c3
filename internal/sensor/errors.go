package sensor

import "fmt"

// TransportError reports that the sensor could not be reached.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sensor unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports a payload that could not be interpreted at all.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid sensor payload: %s: %v", e.Reason, e.Err)
	}
	return "invalid sensor payload: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }
