package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeLLM represents completion/embedding provider errors
	ErrorTypeLLM ErrorType = "llm"
	// ErrorTypeTTS represents speech synthesis errors
	ErrorTypeTTS ErrorType = "tts"
	// ErrorTypeMemory represents memory pipeline errors
	ErrorTypeMemory ErrorType = "memory"
	// ErrorTypeHistory represents transcript store errors
	ErrorTypeHistory ErrorType = "history"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Memory Errors

// ErrMemoryNotInitialized is returned when the memory service has not been
// initialized (disabled or misconfigured) and a write is attempted.
var ErrMemoryNotInitialized = NewBaseError(ErrorTypeMemory, "memory service not initialized", nil)

// Graph Errors

// ErrGraphConnectionFailed is returned when the Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphWriteFailed is returned when a write transaction fails
type ErrGraphWriteFailed struct {
	*BaseError
}

func NewGraphWriteFailed(err error) *ErrGraphWriteFailed {
	return &ErrGraphWriteFailed{
		BaseError: NewBaseError(ErrorTypeGraph, "graph write failed", err),
	}
}

// ErrNodeNotFound is returned when a node lookup matches nothing
type ErrNodeNotFound struct {
	*BaseError
	NodeID string
}

func NewNodeNotFound(nodeID string) *ErrNodeNotFound {
	return &ErrNodeNotFound{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("node not found: %s", nodeID), nil),
		NodeID:    nodeID,
	}
}

// LLM Errors

// ErrLLMFailed is returned when a completion request fails after retries
type ErrLLMFailed struct {
	*BaseError
	Model    string
	Attempts int
}

func NewLLMFailed(model string, attempts int, err error) *ErrLLMFailed {
	return &ErrLLMFailed{
		BaseError: NewBaseError(ErrorTypeLLM, fmt.Sprintf("LLM request failed after %d attempts", attempts), err),
		Model:     model,
		Attempts:  attempts,
	}
}

// TTS Errors

// ErrTTSFailed is returned when speech synthesis fails after retries
type ErrTTSFailed struct {
	*BaseError
	StatusCode int
}

func NewTTSFailed(statusCode int, err error) *ErrTTSFailed {
	return &ErrTTSFailed{
		BaseError:  NewBaseError(ErrorTypeTTS, fmt.Sprintf("speech synthesis failed (status %d)", statusCode), err),
		StatusCode: statusCode,
	}
}

// History Errors

// ErrConversationNotFound is returned when a transcript lookup matches nothing
type ErrConversationNotFound struct {
	*BaseError
	ConversationID string
}

func NewConversationNotFound(conversationID string) *ErrConversationNotFound {
	return &ErrConversationNotFound{
		BaseError:      NewBaseError(ErrorTypeHistory, fmt.Sprintf("conversation not found: %s", conversationID), nil),
		ConversationID: conversationID,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if baseErr, ok := err.(*BaseError); ok {
		return baseErr.Type == errType
	}
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		if inner := wrapped.Unwrap(); inner != nil {
			return IsErrorType(inner, errType)
		}
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Graph connection errors are retryable; everything else is not
	// worth repeating without operator intervention.
	return IsErrorType(err, ErrorTypeGraph)
}
