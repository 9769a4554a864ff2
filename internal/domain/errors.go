package domain

import "fmt"

// Error types for consistent error handling across the agent.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrRouting indicates that no handler (and no default handler) accepted an intent.
type ErrRouting struct {
	IntentType IntentType
}

func (e *ErrRouting) Error() string {
	return fmt.Sprintf("no handler found for intent type: %s", e.IntentType)
}

// ErrNotConfigured indicates an optional capability (embeddings, LLM) was not wired.
type ErrNotConfigured struct {
	Capability string
}

func (e *ErrNotConfigured) Error() string {
	return fmt.Sprintf("capability not configured: %s", e.Capability)
}
