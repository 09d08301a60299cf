// Package errors provides custom error types for the toron system.
// These errors enable programmatic error checking and carry enough
// context to explain which invariant an operation violated.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is and As are aliases for their standard library counterparts so
// callers never need a second errors import.
var (
	Is = errors.Is
	As = errors.As
)

// Common sentinel errors for the toron system
var (
	// ErrNotFound indicates that a requested record was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a record already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrSchemaInvariant indicates a violation of the node schema rules
	// (duplicate or empty labels, reserved identifiers, category collisions)
	ErrSchemaInvariant = errors.New("schema invariant violated")

	// ErrGranularityLoss indicates that an operation would destroy index
	// coverage or granularity protected by a preserve flag
	ErrGranularityLoss = errors.New("granularity loss")

	// ErrIntegrityCollision indicates invalid input to an integrity hash
	ErrIntegrityCollision = errors.New("integrity collision")

	// ErrAmbiguity indicates a mapping level that cannot be represented
	// under the current structure
	ErrAmbiguity = errors.New("ambiguous mapping")

	// ErrIncomplete indicates an operation requires a complete weight
	// group or crosswalk that is not complete
	ErrIncomplete = errors.New("incomplete")

	// ErrReadOnly indicates an attempt to modify a read-only store
	ErrReadOnly = errors.New("read only")
)

// NotFoundError represents an error when a record is not found
type NotFoundError struct {
	Entity string
	ID     uint64
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %d not found", e.Entity, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(entity string, id uint64) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// SchemaInvariantError represents a violation of the node schema rules:
// a duplicate or empty label column, use of a reserved identifier, or a
// category referencing unknown columns.
type SchemaInvariantError struct {
	Column  string
	Message string
}

// Error implements the error interface
func (e *SchemaInvariantError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema invariant violated for column %q: %s", e.Column, e.Message)
	}
	return fmt.Sprintf("schema invariant violated: %s", e.Message)
}

// Is implements errors.Is support
func (e *SchemaInvariantError) Is(target error) bool {
	return target == ErrSchemaInvariant || target == ErrInvalidInput
}

// NewSchemaInvariantError creates a new SchemaInvariantError
func NewSchemaInvariantError(column, message string) *SchemaInvariantError {
	return &SchemaInvariantError{Column: column, Message: message}
}

// GranularityLossError represents a column or category removal that would
// destroy coverage or granularity while a preserve flag is set.
type GranularityLossError struct {
	Columns []string
	Message string
}

// Error implements the error interface
func (e *GranularityLossError) Error() string {
	if len(e.Columns) > 0 {
		return fmt.Sprintf("cannot remove columns %s: %s", strings.Join(e.Columns, ", "), e.Message)
	}
	return fmt.Sprintf("granularity loss: %s", e.Message)
}

// Is implements errors.Is support
func (e *GranularityLossError) Is(target error) bool {
	return target == ErrGranularityLoss
}

// NewGranularityLossError creates a new GranularityLossError
func NewGranularityLossError(columns []string, message string) *GranularityLossError {
	return &GranularityLossError{Columns: columns, Message: message}
}

// IntegrityCollisionError represents invalid input to a sequence hash:
// a value out of order or too large to encode.
type IntegrityCollisionError struct {
	Value   uint64
	Message string
}

// Error implements the error interface
func (e *IntegrityCollisionError) Error() string {
	return fmt.Sprintf("integrity collision at value %d: %s", e.Value, e.Message)
}

// Is implements errors.Is support
func (e *IntegrityCollisionError) Is(target error) bool {
	return target == ErrIntegrityCollision
}

// NewIntegrityCollisionError creates a new IntegrityCollisionError
func NewIntegrityCollisionError(value uint64, message string) *IntegrityCollisionError {
	return &IntegrityCollisionError{Value: value, Message: message}
}

// AmbiguityError represents a relation mapping level that is no longer
// representable under the node's current structure.
type AmbiguityError struct {
	Crosswalk string
	Levels    []string
	Message   string
}

// Error implements the error interface
func (e *AmbiguityError) Error() string {
	if len(e.Levels) > 0 {
		return fmt.Sprintf("ambiguous mapping in crosswalk %q (levels: %s): %s",
			e.Crosswalk, strings.Join(e.Levels, "; "), e.Message)
	}
	if e.Crosswalk != "" {
		return fmt.Sprintf("ambiguous mapping in crosswalk %q: %s", e.Crosswalk, e.Message)
	}
	return fmt.Sprintf("ambiguous mapping: %s", e.Message)
}

// Is implements errors.Is support
func (e *AmbiguityError) Is(target error) bool {
	return target == ErrAmbiguity
}

// NewAmbiguityError creates a new AmbiguityError
func NewAmbiguityError(crosswalk string, levels []string, message string) *AmbiguityError {
	return &AmbiguityError{Crosswalk: crosswalk, Levels: levels, Message: message}
}

// CompletenessError represents an operation that requires a complete
// weight group or locally-complete crosswalk.
type CompletenessError struct {
	Entity string // "weight group" or "crosswalk"
	Name   string
	Err    error
}

// Error implements the error interface
func (e *CompletenessError) Error() string {
	return fmt.Sprintf("%s %q is not complete", e.Entity, e.Name)
}

// Unwrap implements errors.Unwrap
func (e *CompletenessError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *CompletenessError) Is(target error) bool {
	return target == ErrIncomplete
}

// NewCompletenessError creates a new CompletenessError
func NewCompletenessError(entity, name string) *CompletenessError {
	return &CompletenessError{Entity: entity, Name: name}
}

// StoreError represents an error from the backing record store
type StoreError struct {
	Operation string // "get", "add", "update", "delete", "commit"
	Entity    string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("store error during %s of %s: %s", e.Operation, e.Entity, e.Message)
	}
	return fmt.Sprintf("store error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError
func NewStoreError(operation, entity string, err error) *StoreError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &StoreError{
		Operation: operation,
		Entity:    entity,
		Message:   message,
		Err:       err,
	}
}

// IOError represents an error during file import/export
type IOError struct {
	Operation string // "read", "write", "create", "delete"
	Path      string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("IO error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates a new IOError
func NewIOError(operation, path string, err error) *IOError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &IOError{Operation: operation, Path: path, Message: message, Err: err}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsSchemaInvariant checks if an error is a schema invariant violation
func IsSchemaInvariant(err error) bool {
	return errors.Is(err, ErrSchemaInvariant)
}

// IsGranularityLoss checks if an error reports a protected granularity loss
func IsGranularityLoss(err error) bool {
	return errors.Is(err, ErrGranularityLoss)
}

// IsIntegrityCollision checks if an error is an integrity hash failure
func IsIntegrityCollision(err error) bool {
	return errors.Is(err, ErrIntegrityCollision)
}

// IsAmbiguity checks if an error reports an unrepresentable mapping level
func IsAmbiguity(err error) bool {
	return errors.Is(err, ErrAmbiguity)
}

// IsIncomplete checks if an error reports an incomplete weight group or crosswalk
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}

// Helper wrapping functions for common patterns

// WrapValidation wraps an error as a ValidationError
func WrapValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Message: err.Error()}
}

// WrapStore wraps an error as a StoreError
func WrapStore(operation, entity string, err error) error {
	if err == nil {
		return nil
	}
	return NewStoreError(operation, entity, err)
}

// WrapIO wraps an error as an IOError
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewIOError(operation, path, err)
}
