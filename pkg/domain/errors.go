package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrDelivery matches every *DeliveryError.
	ErrDelivery = errors.New("message delivery failed")
	// ErrExternalService matches every *ExternalServiceError.
	ErrExternalService = errors.New("external service failed")
)

// ValidationError reports malformed or incomplete input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an operation against an absent record id.
type NotFoundError struct {
	Collection string
	ID         int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Collection, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DeliveryError reports a cross-context message that had no receiver or
// whose receiver failed before replying.
type DeliveryError struct {
	Type   string
	Reason string
}

func (e *DeliveryError) Error() string {
	if e.Type == "" {
		return "delivery failed: " + e.Reason
	}
	return fmt.Sprintf("deliver %s: %s", e.Type, e.Reason)
}

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// ExternalServiceError reports a rejected or failed call to the AI or TTS
// backend. Message carries the upstream message when one was available.
type ExternalServiceError struct {
	Service string
	Status  int
	Message string
}

func (e *ExternalServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s api error (%d): %s", e.Service, e.Status, msg)
	}
	return fmt.Sprintf("%s api error: %s", e.Service, msg)
}

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }
