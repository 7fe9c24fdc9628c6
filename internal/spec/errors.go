package spec

import "fmt"

// ValidationError reports the first offending field of a malformed spec.
// A spec that produced a ValidationError never reaches build planning.
type ValidationError struct {
	// Field is the path of the offending field, e.g. "inputs.t1w.type".
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid spec: %s: %s", e.Field, e.Reason)
}

// Invalidf builds a ValidationError for the given field path.
func Invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
