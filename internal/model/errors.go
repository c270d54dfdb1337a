package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors of the tenant lifecycle
var (
	// ErrValidation is returned for missing or malformed caller input
	ErrValidation = errors.New("invalid request")
	// ErrInvalidSegment is returned for an id or name that is not a single safe path segment
	ErrInvalidSegment = fmt.Errorf("%w: unsafe path segment", ErrValidation)
	// ErrNotFound is returned when the tenant directory is absent
	ErrNotFound = errors.New("tenant not found")
	// ErrAlreadyExists is returned when create targets an existing tenant directory
	ErrAlreadyExists = errors.New("tenant already exists")
	// ErrProvision is returned when the template could not be cloned
	ErrProvision = errors.New("template clone failed")
	// ErrConfigWrite is returned when the tenant configuration could not be persisted
	ErrConfigWrite = errors.New("tenant configuration write failed")
)

// TenantError carries the operation context of a failed lifecycle step
type TenantError struct {
	Op       string
	Step     string
	TenantID string
	Name     string
	Err      error
}

func (e *TenantError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.subject(), e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.subject(), e.Step, e.Err)
}

func (e *TenantError) subject() string {
	if e.TenantID == "" {
		return fmt.Sprintf("tenant %q", e.Name)
	}
	return fmt.Sprintf("tenant %s (%s)", e.TenantID, e.Name)
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TenantError) Unwrap() error {
	return e.Err
}

// ValidateSegment rejects a tenant id or name that could resolve outside the
// clients root once joined into a directory path.
func ValidateSegment(field, value string) error {
	if strings.ContainsAny(value, "/\\\x00") || strings.Contains(value, "..") {
		return fmt.Errorf("%w: %s %q", ErrInvalidSegment, field, value)
	}
	return nil
}

// IsValidation reports whether err is a caller input error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err means the tenant directory is absent
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is a duplicate create
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
