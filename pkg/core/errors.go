// Package core provides the shared error taxonomy for the overpass map pipeline.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorCode defines standard error codes for the pipeline
type ErrorCode string

// Standard error codes
const (
	// Input errors
	ErrInvalidInput ErrorCode = "INVALID_INPUT"

	// Resolution and reconstruction errors
	ErrPlaceNotFound      ErrorCode = "PLACE_NOT_FOUND"
	ErrEmptyResult        ErrorCode = "EMPTY_RESULT"
	ErrDanglingReference  ErrorCode = "DANGLING_REFERENCE"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Data errors
	ErrParseError    ErrorCode = "PARSE_ERROR"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	PlaceNotFound      = &Error{Code: string(ErrPlaceNotFound), Message: "no results for that place"}
	EmptyResult        = &Error{Code: string(ErrEmptyResult), Message: "no data found"}
	DanglingReference  = &Error{Code: string(ErrDanglingReference), Message: "way references a missing node"}
	ServiceUnavailable = &Error{Code: string(ErrServiceUnavailable), Message: "service unavailable"}
	InvalidInput       = &Error{Code: string(ErrInvalidInput), Message: "invalid input"}
)

// Error represents a detailed pipeline error
type Error struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Query    string `json:"query,omitempty"`
	Guidance string `json:"guidance,omitempty"`
	cause    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a new Error with the given code and message
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    string(code),
		Message: message,
	}
}

// WithQuery adds query information to the error
func (e *Error) WithQuery(query string) *Error {
	e.Query = query
	return e
}

// WithGuidance adds guidance information to the error
func (e *Error) WithGuidance(guidance string) *Error {
	e.Guidance = guidance
	return e
}

// WithCause attaches the underlying error
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// CodeOf returns the error code carried by err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return ErrorCode(e.Code)
	}
	return ErrInternalError
}

// HTTPStatus maps an error to the status code served to browsers and API clients.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrPlaceNotFound, ErrEmptyResult:
		return http.StatusNotFound
	case ErrServiceUnavailable, ErrDanglingReference, ErrParseError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the text shown to map users for err. The two terminal
// outcomes always read the same regardless of the place or filter involved.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, PlaceNotFound):
		return PlaceNotFound.Message
	case errors.Is(err, EmptyResult):
		return EmptyResult.Message
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// ToMCPResult converts the error to an MCP tool result
func (e *Error) ToMCPResult() *mcp.CallToolResult {
	errorJSON, err := json.Marshal(e)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ERROR: %s - %s", e.Code, e.Message))
	}

	return mcp.NewToolResultError(string(errorJSON))
}

// ServiceError creates an error for external service failures
func ServiceError(service string, statusCode int, message string) *Error {
	var guidance string

	switch statusCode {
	case http.StatusTooManyRequests:
		guidance = "The service is rate-limited. Please try again in a few moments."
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		guidance = "The request timed out. Try a smaller area or fewer filters."
	case http.StatusBadRequest:
		guidance = "The service rejected the request. Check the filter values for quote characters."
	default:
		guidance = "Please try again later."
	}

	return NewError(ErrServiceUnavailable, fmt.Sprintf("%s service error: %s", service, message)).
		WithGuidance(guidance)
}

// NewValidationError creates an error for validation failures
func NewValidationError(message string) *Error {
	return NewError(ErrInvalidInput, message).
		WithGuidance("Please correct the parameters and try again.")
}
