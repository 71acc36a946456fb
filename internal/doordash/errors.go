// Package doordash – error taxonomy
//
// Every failure leaving this package is one of three kinds so callers can
// branch with errors.Is / errors.As without parsing messages:
//
//   - *ConfigurationError: credentials absent; carries the missing env names
//   - *ValidationError:    caller input rejected before any network call
//   - *APIError:           the Drive API answered non-2xx or was unreachable
package doordash

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinels matched by the typed errors' Is methods.
var (
	// ErrConfiguration indicates that the DoorDash credentials are incomplete.
	ErrConfiguration = errors.New("doordash: credentials not configured")

	// ErrValidation indicates caller-supplied parameters failed local checks.
	ErrValidation = errors.New("doordash: invalid request")

	// ErrUpstream indicates the Drive API returned an error or could not be reached.
	ErrUpstream = errors.New("doordash: upstream api error")
)

// ConfigurationError reports which credential variables are missing.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "DoorDash credentials not configured: missing " + strings.Join(e.Missing, ", ")
}

// Is makes errors.Is(err, ErrConfiguration) true.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ValidationError is returned when a request fails local precondition checks.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// APIError is the normalized form of a failed Drive API call.
//
// Status is the HTTP status returned by DoorDash, or 0 when the request never
// produced a response (DNS, TLS, timeout). Message is safe to show callers.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string { return e.Message }

// Unwrap exposes the transport error, if any.
func (e *APIError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUpstream) true.
func (e *APIError) Is(target error) bool { return target == ErrUpstream }

// newAPIError builds an APIError from a non-2xx response body.
//
// The detail is taken from a JSON "message" or "error" field when present,
// otherwise from the raw body text. Statuses with a common operator fix get
// a hint appended.
func newAPIError(status int, body []byte) *APIError {
	msg := fmt.Sprintf("API Error: %d", status)
	if detail := errorDetail(body); detail != "" {
		msg += " - " + detail
	}
	if hint := statusHint(status); hint != "" {
		msg += ". " + hint
	}
	return &APIError{Status: status, Message: msg}
}

// errorDetail extracts the most useful human-readable text from an error body.
func errorDetail(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return text
	}
	for _, k := range []string{"message", "error"} {
		switch v := parsed[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	return text
}

func statusHint(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "Authentication failed: check the DoorDash credentials (developer id, key id, signing secret); the signed token may be invalid or expired"
	case http.StatusForbidden:
		return "Permission denied: the DoorDash credentials are not allowed to perform this operation"
	case http.StatusBadRequest:
		return "Bad request: the request was malformed; check addresses, phone numbers and order value"
	}
	return ""
}
