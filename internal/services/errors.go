package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalService = errors.New("external service error")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrTransient       = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTerminal reports whether an error should never be retried: the input
// itself is bad (validation) or the referenced resource is gone (not found).
func IsTerminal(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConfiguration)
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
