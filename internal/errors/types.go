// Package errors defines the error taxonomy shared by the stores, the
// assistant pipeline, and the HTTP boundary.
//
// Every typed error carries a short human message; the HTTP layer maps the
// types to status codes in exactly one place.
package errors

import (
	"errors"
	"fmt"
)

// As and Is re-export the standard library helpers so callers need only one
// errors import.
func As(err error, target any) bool { return errors.As(err, target) }

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// NotFoundError reports a missing task, layer, message, execution, file or agent.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NotFound builds a NotFoundError for the given resource and id.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// InvariantViolationError reports an attempt to mutate the executed region of
// the task stack, move the pointer past the end, or add a duplicate entry.
type InvariantViolationError struct {
	Message string
}

func (e *InvariantViolationError) Error() string {
	return e.Message
}

// InvariantViolation builds an InvariantViolationError.
func InvariantViolation(format string, args ...any) error {
	return &InvariantViolationError{Message: fmt.Sprintf(format, args...)}
}

// IsInvariantViolation reports whether err is (or wraps) an InvariantViolationError.
func IsInvariantViolation(err error) bool {
	var target *InvariantViolationError
	return errors.As(err, &target)
}

// ValidationError reports malformed input, unknown enum values, or missing
// required fields.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validation builds a ValidationError.
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// AdapterError reports an LLM or media backend call that failed after retries.
type AdapterError struct {
	Adapter string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s adapter: %v", e.Adapter, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Adapter wraps err as an AdapterError for the named backend.
func Adapter(adapter string, err error) error {
	return &AdapterError{Adapter: adapter, Err: err}
}

// IsAdapter reports whether err is (or wraps) an AdapterError.
func IsAdapter(err error) bool {
	var target *AdapterError
	return errors.As(err, &target)
}

// StructureError carries deterministic structural findings from the first
// evaluator gate.
type StructureError struct {
	Findings []string
}

func (e *StructureError) Error() string {
	if len(e.Findings) == 1 {
		return fmt.Sprintf("structure check failed: %s", e.Findings[0])
	}
	return fmt.Sprintf("structure check failed with %d findings", len(e.Findings))
}

// CreativeRejectionError reports an LLM-judged quality score below threshold.
type CreativeRejectionError struct {
	Summary string
}

func (e *CreativeRejectionError) Error() string {
	return fmt.Sprintf("creative evaluation rejected output: %s", e.Summary)
}

// AssetFailureError reports a materialized asset batch whose success rate fell
// below threshold.
type AssetFailureError struct {
	Summary string
}

func (e *AssetFailureError) Error() string {
	return fmt.Sprintf("asset evaluation failed: %s", e.Summary)
}

// DiscoveryError reports a registry load failure. Discovery errors are logged
// and skipped; one broken agent never takes down the registry.
type DiscoveryError struct {
	AgentDir string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("agent discovery failed for %s: %v", e.AgentDir, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
