package internal

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorType represents different types of errors
type ErrorType int

const (
	ErrConfig ErrorType = iota

	ErrAuthUnauthorized
	ErrAuthRateLimited
	ErrAuthServer
	ErrAuthNetwork
	ErrAuthMalformed
	ErrAuthBadRequest
	ErrAuthNotFound

	ErrListUnauthorized
	ErrListServer
	ErrListNetwork

	ErrItemNotFound
	ErrItemRateLimited
	ErrItemUnauthorized
	ErrItemPermanent
	ErrItemNetwork
)

// ErrorClass groups error types by the pipeline stage that produced them
type ErrorClass int

const (
	ClassConfig ErrorClass = iota
	ClassAuth
	ClassList
	ClassItem
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// Diagnostics captures the HTTP exchange behind a failure so 400-class errors
// can be reported with the request and response that caused them.
type Diagnostics struct {
	Method          string
	RequestHeaders  http.Header
	RequestBody     string
	ResponseHeaders http.Header
	ResponseBody    string
}

// CZDSError represents a zone data client error with detailed information
type CZDSError struct {
	Code        int                    `json:"code"`
	Message     string                 `json:"message"`
	Type        ErrorType              `json:"type"`
	Severity    ErrorSeverity          `json:"severity"`
	URL         string                 `json:"url,omitempty"`
	Suggestion  string                 `json:"suggestion,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Diagnostics *Diagnostics           `json:"-"`
	Err         error                  `json:"-"`
}

// Error implements the error interface
func (e *CZDSError) Error() string {
	var parts []string

	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("%s error (status: %d)", e.Type.String(), e.Code))
	} else {
		parts = append(parts, fmt.Sprintf("%s error", e.Type.String()))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.URL != "" {
		parts = append(parts, redactSensitiveURL(e.URL))
	}

	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, " - ")
}

// Unwrap returns the underlying cause
func (e *CZDSError) Unwrap() error {
	return e.Err
}

// DetailedError returns a detailed error message with all available information
func (e *CZDSError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Type.String()))

	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("Status: %d", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}
	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}
	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Err))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	// Request/response dumps only for client errors, where the payload is the likely culprit
	if e.Diagnostics != nil && e.Code >= 400 && e.Code < 500 {
		d := e.Diagnostics
		if d.Method != "" {
			parts = append(parts, fmt.Sprintf("Request: %s %s", d.Method, redactSensitiveURL(e.URL)))
		}
		parts = append(parts, fmt.Sprintf("Request Headers: %s", formatHeaders(d.RequestHeaders)))
		if d.RequestBody != "" {
			parts = append(parts, fmt.Sprintf("Request Body: %s", d.RequestBody))
		}
		parts = append(parts, fmt.Sprintf("Response Headers: %s", formatHeaders(d.ResponseHeaders)))
		parts = append(parts, fmt.Sprintf("Response Body: %s", d.ResponseBody))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrConfig:
		return "Config"
	case ErrAuthUnauthorized:
		return "AuthUnauthorized"
	case ErrAuthRateLimited:
		return "AuthRateLimited"
	case ErrAuthServer:
		return "AuthServerError"
	case ErrAuthNetwork:
		return "AuthNetworkError"
	case ErrAuthMalformed:
		return "AuthMalformed"
	case ErrAuthBadRequest:
		return "AuthBadRequest"
	case ErrAuthNotFound:
		return "AuthNotFound"
	case ErrListUnauthorized:
		return "ListUnauthorized"
	case ErrListServer:
		return "ListServerError"
	case ErrListNetwork:
		return "ListNetworkError"
	case ErrItemNotFound:
		return "ItemNotFound"
	case ErrItemRateLimited:
		return "ItemRateLimited"
	case ErrItemUnauthorized:
		return "ItemUnauthorized"
	case ErrItemPermanent:
		return "ItemPermanentFailure"
	case ErrItemNetwork:
		return "ItemNetworkError"
	default:
		return "Unknown"
	}
}

// Class returns the pipeline stage an error type belongs to
func (et ErrorType) Class() ErrorClass {
	switch {
	case et == ErrConfig:
		return ClassConfig
	case et >= ErrAuthUnauthorized && et <= ErrAuthNotFound:
		return ClassAuth
	case et >= ErrListUnauthorized && et <= ErrListNetwork:
		return ClassList
	default:
		return ClassItem
	}
}

// String returns the string representation of ErrorClass
func (c ErrorClass) String() string {
	switch c {
	case ClassConfig:
		return "config"
	case ClassAuth:
		return "auth"
	case ClassList:
		return "list"
	case ClassItem:
		return "item"
	default:
		return "unknown"
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewCZDSError creates a new CZDSError with default severity and suggestion
func NewCZDSError(code int, message string, errorType ErrorType) *CZDSError {
	return &CZDSError{
		Code:       code,
		Message:    message,
		Type:       errorType,
		Severity:   getDefaultSeverity(errorType),
		Suggestion: getDefaultSuggestion(errorType, code),
		Context:    make(map[string]interface{}),
	}
}

// WithSuggestion adds a custom suggestion to the error
func (e *CZDSError) WithSuggestion(suggestion string) *CZDSError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (will be redacted in logs)
func (e *CZDSError) WithURL(url string) *CZDSError {
	e.URL = url
	return e
}

// WithCause records the underlying error
func (e *CZDSError) WithCause(err error) *CZDSError {
	e.Err = err
	return e
}

// WithDiagnostics attaches the HTTP exchange that produced the error
func (e *CZDSError) WithDiagnostics(d *Diagnostics) *CZDSError {
	e.Diagnostics = d
	return e
}

// WithContext adds context information to the error
func (e *CZDSError) WithContext(key string, value interface{}) *CZDSError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Class returns the pipeline stage that produced the error
func (e *CZDSError) Class() ErrorClass {
	return e.Type.Class()
}

// IsRetryable returns true if the error is transient
func (e *CZDSError) IsRetryable() bool {
	switch e.Type {
	case ErrAuthRateLimited, ErrItemRateLimited:
		return true
	default:
		return false
	}
}

// IsCritical returns true if the error is critical and should stop execution
func (e *CZDSError) IsCritical() bool {
	return e.Severity == SeverityCritical
}

// AsCZDSError unwraps err into a *CZDSError if one is in its chain
func AsCZDSError(err error) (*CZDSError, bool) {
	var ce *CZDSError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsType reports whether err carries a CZDSError of the given type
func IsType(err error, t ErrorType) bool {
	ce, ok := AsCZDSError(err)
	return ok && ce.Type == t
}

// ValidationError represents configuration and input validation errors
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed validation error message
func (e *ValidationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Validation Error for field '%s'", e.Field))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Message))

	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("Provided value: %v", e.Value))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(contextParts)
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// WithContext adds context to the validation error
func (e *ValidationError) WithContext(key string, value interface{}) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// getDefaultSuggestion returns a default suggestion based on error type and code
func getDefaultSuggestion(errorType ErrorType, code int) string {
	switch errorType {
	case ErrConfig:
		return "Check config.json (or CZDS_CONFIG) for the required keys"
	case ErrAuthUnauthorized:
		return "Invalid username/password. Please reset your password via the ICANN web portal"
	case ErrAuthRateLimited, ErrItemRateLimited:
		return "Rate limit exceeded. Try again later"
	case ErrAuthServer, ErrListServer:
		if code >= 500 {
			return "The ICANN API is down. Please try again later"
		}
		return "Unexpected response from the ICANN API"
	case ErrAuthNetwork, ErrListNetwork, ErrItemNetwork:
		return "Check your internet connection and try again. Consider using a proxy if needed"
	case ErrAuthMalformed:
		return "The authentication response did not contain an access token. The API might have changed"
	case ErrAuthBadRequest:
		return "Invalid request format, missing fields, or ICANN API changes"
	case ErrAuthNotFound:
		return "Check authentication.base.url in the configuration"
	case ErrListUnauthorized, ErrItemUnauthorized:
		return "The access token was rejected after re-authentication. Check the account's CZDS permissions"
	case ErrItemNotFound:
		return "The zone file is no longer available for this account"
	default:
		return "Please check the error details and try again"
	}
}

// getDefaultSeverity returns the default severity for an error type
func getDefaultSeverity(errorType ErrorType) ErrorSeverity {
	switch errorType {
	case ErrItemNotFound:
		return SeverityInfo
	case ErrAuthRateLimited, ErrItemRateLimited, ErrItemNetwork:
		return SeverityWarning
	case ErrConfig, ErrAuthUnauthorized:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL redacts sensitive information from URLs
func redactSensitiveURL(url string) string {
	if strings.Contains(url, "?") {
		parts := strings.SplitN(url, "?", 2)
		return parts[0] + "?[REDACTED]"
	}
	return url
}

// formatHeaders renders headers deterministically with credentials removed
func formatHeaders(h http.Header) string {
	if len(h) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		value := strings.Join(h[name], ", ")
		if isSensitiveHeaderName(name) {
			value = "[REDACTED]"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, value))
	}
	return "{" + strings.Join(parts, "; ") + "}"
}

// Common error constructors for frequently used errors

// NewConfigError creates an error for a missing or invalid setting
func NewConfigError(key, reason string) *CZDSError {
	return NewCZDSError(0, reason, ErrConfig).
		WithContext("key", key).
		WithSuggestion(fmt.Sprintf("Set '%s' in config.json, CZDS_CONFIG or the matching CZDS_ environment variable", key))
}

// NewRateLimitError creates an error for an exhausted rate-limit retry budget
func NewRateLimitError(errorType ErrorType, url string, attempts int) *CZDSError {
	return NewCZDSError(http.StatusTooManyRequests, fmt.Sprintf("rate limited after %d attempts", attempts), errorType).
		WithURL(url).
		WithContext("attempts", attempts)
}

// NewNetworkError creates an error for a transport-level failure
func NewNetworkError(errorType ErrorType, url string, cause error) *CZDSError {
	return NewCZDSError(0, "network or connection issue", errorType).
		WithURL(url).
		WithCause(cause)
}

// NewItemNotFoundError creates an error for a zone file the server no longer has
func NewItemNotFoundError(url string) *CZDSError {
	return NewCZDSError(http.StatusNotFound, "no zone file found", ErrItemNotFound).
		WithURL(url)
}
