package tongji

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failure modes of the Tongji API integration.
type ErrorKind int

const (
	// ErrKindTokenExpired means the caller's access token is no longer usable.
	ErrKindTokenExpired ErrorKind = iota + 1
	// ErrKindTransport means the HTTP exchange itself failed (non-200, network).
	ErrKindTransport
	// ErrKindInvalidResponse means the response body was not a JSON object.
	ErrKindInvalidResponse
	// ErrKindProviderError means the provider returned an envelope-level error_code.
	ErrKindProviderError
	// ErrKindSerialization means hash input could not be encoded to JSON.
	ErrKindSerialization
	// ErrKindValidation means caller input was rejected before any network call.
	ErrKindValidation
	// ErrKindUnknownMethod signals a dispatch fallthrough; a programming error.
	ErrKindUnknownMethod
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTokenExpired:
		return "token_expired"
	case ErrKindTransport:
		return "transport"
	case ErrKindInvalidResponse:
		return "invalid_response"
	case ErrKindProviderError:
		return "provider_error"
	case ErrKindSerialization:
		return "serialization"
	case ErrKindValidation:
		return "validation"
	case ErrKindUnknownMethod:
		return "unknown_method"
	default:
		return "unknown"
	}
}

// Error is a tagged error carrying the failure kind plus provider context.
type Error struct {
	Kind    ErrorKind
	Code    string // provider error_code, when Kind is ErrKindProviderError
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tongji: %s: error %s: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("tongji: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTokenExpiredError reports an expired access token.
func NewTokenExpiredError() *Error {
	return &Error{Kind: ErrKindTokenExpired, Message: "access token expired"}
}

// NewTransportError reports an HTTP-level failure.
func NewTransportError(message string, err error) *Error {
	return &Error{Kind: ErrKindTransport, Message: message, Err: err}
}

// NewInvalidResponseError reports a malformed API response body.
func NewInvalidResponseError(message string, err error) *Error {
	return &Error{Kind: ErrKindInvalidResponse, Message: message, Err: err}
}

// NewProviderError reports an envelope-level error from the provider.
func NewProviderError(code, message string) *Error {
	return &Error{Kind: ErrKindProviderError, Code: code, Message: message}
}

// NewSerializationError reports hash input that cannot be JSON-encoded.
func NewSerializationError(err error) *Error {
	return &Error{Kind: ErrKindSerialization, Message: "failed to encode data to JSON", Err: err}
}

// NewValidationError reports invalid caller input, detected before any network call.
func NewValidationError(message string) *Error {
	return &Error{Kind: ErrKindValidation, Message: message}
}

// NewUnknownMethodError reports a report method the dispatch table does not know.
func NewUnknownMethodError(method string) *Error {
	return &Error{Kind: ErrKindUnknownMethod, Message: fmt.Sprintf("unknown method: %s", method)}
}

// IsKind reports whether err is a tongji error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
