package rules

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a missing record.
var ErrNotFound = errors.New("alarm rules: not found")

// ConfigurationError indicates an unsupported schedule, spec or predicate
// variant inside a device profile. It is fatal for the owning rule and must
// surface rather than be swallowed.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "alarm rules: bad profile configuration: " + e.Reason
}

// ValueResolutionError indicates a dynamic attribute that is present but
// cannot be coerced to the required numeric type. Processing of the current
// update aborts before any persisted mutation.
type ValueResolutionError struct {
	Attribute string
	Value     string
}

func (e *ValueResolutionError) Error() string {
	return fmt.Sprintf("alarm rules: could not convert attribute %q with value %q to numeric value", e.Attribute, e.Value)
}
