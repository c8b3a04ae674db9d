package policy

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NormalizeError indicates a fundamentally invalid policy configuration.
type NormalizeError struct {
	Field string
	Value string
}

func (e *NormalizeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("flakey: invalid policy config: %s=%q", e.Field, e.Value)
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("flakey: invalid policy: %s", strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &ValidationError{Fields: []string{err.Error()}, Err: err}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s must satisfy %s", fe.Field(), describeTag(fe)))
	}
	return &ValidationError{Fields: fields, Err: err}
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
