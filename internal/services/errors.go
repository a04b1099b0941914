package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrProviderTimeout = errors.New("provider timeout")
	ErrInfrastructure  = errors.New("infrastructure error")
	ErrDelivery        = errors.New("delivery error")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrConfiguration   = errors.New("configuration error")

	// ErrAlreadyAssigned reports a lost assignment race on a moderation item.
	ErrAlreadyAssigned = fmt.Errorf("%w: moderation item already assigned", ErrConflict)
)

// Kind is the coarse classification of an error used for logging and API status mapping.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindTimeout        Kind = "provider_timeout"
	KindInfrastructure Kind = "infrastructure"
	KindDelivery       Kind = "delivery"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindConfiguration  Kind = "configuration"
	KindUnknown        Kind = "unknown"
)

// ValidationError describes a rejected input field. It matches ErrValidation via errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ErrValidation.Error()
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is shorthand for constructing a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Wrap builds an error message that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrInfrastructure
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto its Kind. Nil errors classify as unknown.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrProviderTimeout):
		return KindTimeout
	case errors.Is(err, ErrDelivery):
		return KindDelivery
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrInfrastructure):
		return KindInfrastructure
	default:
		return KindUnknown
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
