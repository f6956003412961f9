package config

import "fmt"

// Validation error codes
const (
	ErrEmptyModes       = "EMPTY_MODES"
	ErrDuplicateMode    = "DUPLICATE_MODE"
	ErrUnknownMode      = "UNKNOWN_MODE"
	ErrFixedMode        = "INVALID_FIXED_MODE"
	ErrFixedModeInitial = "FIXED_MODE_INITIAL"
	ErrNegativeTarget   = "NEGATIVE_TARGET"
	ErrTargetRange      = "TARGET_RANGE"
	ErrTargetSum        = "TARGET_SUM"
	ErrMissingParameter = "MISSING_PARAMETER"
	ErrInvalidParameter = "INVALID_PARAMETER"
)

// ValidationError represents a rejected run configuration value
type ValidationError struct {
	Code     string
	Message  string
	Guidance string
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code, guidance, format string, args ...any) ValidationError {
	return ValidationError{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Guidance: guidance,
	}
}
