// Package domain defines the data product configuration model, runtime types,
// and errors shared across the hub.
package domain

import "fmt"

// NotFoundError indicates a route or source was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates the principal may not read a data product.
type AccessDeniedError struct {
	Message string
	// AuthRequired is true when the denial is due to a missing principal
	// rather than an entitlement failure.
	AuthRequired bool
}

func (e *AccessDeniedError) Error() string { return e.Message }

// ConfigurationError indicates an invalid data product declaration:
// unsupported backend engine, missing join predicate, missing required
// column, or multiple sources without joins. Fatal to building that one
// runtime, never to the whole registry (except in single-manifest mode).
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// DataUnavailableError indicates a declared source file does not exist
// under the repository root. Same scope as ConfigurationError.
type DataUnavailableError struct {
	Message string
}

func (e *DataUnavailableError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrAuthRequired creates an AccessDeniedError flagged as missing-credentials.
func ErrAuthRequired(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...), AuthRequired: true}
}

// ErrConfiguration creates a ConfigurationError with a formatted message.
func ErrConfiguration(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// ErrDataUnavailable creates a DataUnavailableError with a formatted message.
func ErrDataUnavailable(format string, args ...interface{}) *DataUnavailableError {
	return &DataUnavailableError{Message: fmt.Sprintf(format, args...)}
}
