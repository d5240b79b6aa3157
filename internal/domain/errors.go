// Package domain defines core types, interfaces, and errors for the
// query execution engine.
package domain

import "fmt"

// ValidationError indicates invalid input: empty or oversized query text,
// an unknown protocol or method, an instance/protocol mismatch, or malformed
// document-operation syntax. A ValidationError is always raised before any
// connection is borrowed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// QueryExecutionError indicates the target database rejected or failed the
// operation. Code and Position carry the database's native error detail when
// available; Detail holds any remaining driver-specific context.
type QueryExecutionError struct {
	Message  string
	Code     string
	Position int
	Detail   string
}

func (e *QueryExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
	}
	return e.Message
}

// ConnectionError indicates a handshake failure or pool exhaustion.
// It is raised only by the connection registry.
type ConnectionError struct {
	Message string
}

func (e *ConnectionError) Error() string { return e.Message }

// PoolTimeoutError indicates a script request waited longer than the queue
// timeout for an execution slot.
type PoolTimeoutError struct {
	Message string
}

func (e *PoolTimeoutError) Error() string { return e.Message }

// PoolShutdownError indicates the resource pool rejected a queued request
// because it was shut down.
type PoolShutdownError struct {
	Message string
}

func (e *PoolShutdownError) Error() string { return e.Message }

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrQueryExecution creates a QueryExecutionError with a formatted message.
func ErrQueryExecution(format string, args ...interface{}) *QueryExecutionError {
	return &QueryExecutionError{Message: fmt.Sprintf(format, args...)}
}

// ErrConnection creates a ConnectionError with a formatted message.
func ErrConnection(format string, args ...interface{}) *ConnectionError {
	return &ConnectionError{Message: fmt.Sprintf(format, args...)}
}

// ErrPoolTimeout creates a PoolTimeoutError with a formatted message.
func ErrPoolTimeout(format string, args ...interface{}) *PoolTimeoutError {
	return &PoolTimeoutError{Message: fmt.Sprintf(format, args...)}
}

// ErrPoolShutdown creates a PoolShutdownError with a formatted message.
func ErrPoolShutdown(format string, args ...interface{}) *PoolShutdownError {
	return &PoolShutdownError{Message: fmt.Sprintf(format, args...)}
}
