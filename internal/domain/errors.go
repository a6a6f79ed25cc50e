package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ConfigurationError is raised when configuration or rule data fails validation.
// It is fatal: no claim may be evaluated against an invalid configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// MissingInputError is raised when a required input of a single claim is absent.
type MissingInputError struct {
	Input string
}

func (e *MissingInputError) Error() string {
	return "missing input: " + e.Input
}

// InvalidCostError is raised for a negative, unparseable or absurd claim cost.
type InvalidCostError struct {
	Cost   string
	Reason string
}

func (e *InvalidCostError) Error() string {
	return fmt.Sprintf("invalid cost %q: %s", e.Cost, e.Reason)
}

// NewConfigError builds a ConfigurationError with a formatted reason.
func NewConfigError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsClaimError reports whether err is a per-claim failure
// (missing input or invalid cost) rather than a system fault.
func IsClaimError(err error) bool {
	var missing *MissingInputError
	var cost *InvalidCostError
	return errors.As(err, &missing) || errors.As(err, &cost)
}
