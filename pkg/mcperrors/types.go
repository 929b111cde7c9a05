// Package mcperrors provides structured error handling for the server.
// It defines coded error types that map onto JSON-RPC error objects and
// carry enough context for logging without leaking internal state to
// clients.
package mcperrors

import "fmt"

// Category classifies an error for handling and metrics.
type Category string

const (
	CategoryProtocol   Category = "protocol"
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryHandler    Category = "handler"
	CategoryTransport  Category = "transport"
	CategoryCancelled  Category = "cancelled"
	CategoryInternal   Category = "internal"
)

// MCPError is the interface implemented by all coded errors in this module.
type MCPError interface {
	error

	// Code returns the JSON-RPC error code
	Code() int

	// Message returns a human-readable error message
	Message() string

	// Category returns the error category for classification
	Category() Category

	// Unwrap returns the underlying error for error chain traversal
	Unwrap() error
}

type baseError struct {
	code     int
	message  string
	category Category
	cause    error
}

func (e *baseError) Error() string      { return e.message }
func (e *baseError) Code() int          { return e.code }
func (e *baseError) Message() string    { return e.message }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Unwrap() error      { return e.cause }

// New creates a new MCPError with the specified code, message and category.
func New(code int, message string, category Category) MCPError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
	}
}

// Newf creates a new MCPError with a formatted message.
func Newf(code int, category Category, format string, args ...interface{}) MCPError {
	return New(code, fmt.Sprintf(format, args...), category)
}

// Wrap wraps an existing error as an MCPError.
func Wrap(err error, code int, message string, category Category) MCPError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		cause:    err,
	}
}

// AsMCPError extracts an MCPError from any error.
func AsMCPError(err error) (MCPError, bool) {
	if err == nil {
		return nil, false
	}
	mcpErr, ok := err.(MCPError)
	return mcpErr, ok
}

// IsCategory checks if an error belongs to a specific category.
func IsCategory(err error, category Category) bool {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Category() == category
	}
	return false
}
