package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies supervisor failures so callers can pick the right
// recovery action (retry setup, restart, clean install) without string
// matching.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"

	// Supervisor-specific failure classes.
	ErrorTypeRuntimeMissing     ErrorType = "runtime_missing"
	ErrorTypeProvisioningFailed ErrorType = "provisioning_failed"
	ErrorTypePortConflict       ErrorType = "port_conflict"
	ErrorTypeLaunchFailed       ErrorType = "launch_failed"
	ErrorTypeHealthTimeout      ErrorType = "health_timeout"
	ErrorTypeProcessDied        ErrorType = "process_died"
	ErrorTypeCrashExhausted     ErrorType = "crash_exhausted"
)

// DomainError is a structured error with a type, a short human-readable
// message suitable for the GUI, and optional context for diagnostics.
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on the error type only, so wrapped payloads do not affect
// classification.
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// UserMessage returns the short message without the cause chain, for
// surfacing in the GUI error state.
func (e *DomainError) UserMessage() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func NewRuntimeMissingError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeRuntimeMissing, message, cause)
}

func NewProvisioningFailedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProvisioningFailed, message, cause)
}

func NewPortConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePortConflict, message, cause)
}

func NewLaunchFailedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeLaunchFailed, message, cause)
}

func NewHealthTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeHealthTimeout, message, cause)
}

func NewProcessDiedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcessDied, message, cause)
}

func NewCrashExhaustedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCrashExhausted, message, cause)
}

// Error checking helpers

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsPermissionError(err error) bool {
	return isType(err, ErrorTypePermission)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}

func IsRuntimeMissingError(err error) bool {
	return isType(err, ErrorTypeRuntimeMissing)
}

func IsProvisioningFailedError(err error) bool {
	return isType(err, ErrorTypeProvisioningFailed)
}

func IsPortConflictError(err error) bool {
	return isType(err, ErrorTypePortConflict)
}

func IsLaunchFailedError(err error) bool {
	return isType(err, ErrorTypeLaunchFailed)
}

func IsHealthTimeoutError(err error) bool {
	return isType(err, ErrorTypeHealthTimeout)
}

func IsProcessDiedError(err error) bool {
	return isType(err, ErrorTypeProcessDied)
}

func IsCrashExhaustedError(err error) bool {
	return isType(err, ErrorTypeCrashExhausted)
}

// UserMessage extracts the short GUI-facing message from any error.
func UserMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.UserMessage()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
