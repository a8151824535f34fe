// Package errors defines the typed error kinds used across the secret
// resolution cache, plus the teacher-style suggestion-carrying error
// wrappers used for configuration and user-facing failures.
package errors

import (
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context.
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  \U0001F4A1 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  \U0001F4A1 " + e.Suggestion
	}

	return msg
}

// InvalidNameError reports a category, secret, or key name that fails
// validation (spec §4.A, §7). It is always surfaced to the caller.
type InvalidNameError struct {
	Kind string // "category", "secret", or "key"
	Name string
}

func (e InvalidNameError) Error() string {
	return fmt.Sprintf("invalid secret %s name %q", e.Kind, e.Name)
}

// VaultAuthError reports that a vault backend could not obtain or refresh
// a bearer token: missing configuration, missing service-account token,
// a malformed login response, or a 403 while using static token auth.
type VaultAuthError struct {
	Vault string
	Msg   string
	Err   error
}

func (e VaultAuthError) Error() string {
	msg := fmt.Sprintf("vault[%s] auth error: %s", e.Vault, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e VaultAuthError) Unwrap() error {
	return e.Err
}

// NotFoundError reports that a secret could not be located by any
// resolution path that was tried: no local directory, vault 404, or no
// vault matched the request. Callers see absent contents, not this
// error directly, except from GetSecretValue's required=true form.
type NotFoundError struct {
	Category string
	Name     string
	Key      string // optional; set only when a specific key was missing
}

func (e NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("secret %s.%s missing key %s", e.Category, e.Name, e.Key)
	}
	return fmt.Sprintf("secret %s.%s not found", e.Category, e.Name)
}

// BackendUnavailableError reports a network failure after retries were
// exhausted, or a non-200/403/404 response from a vault backend. The
// cache layer swallows this when prior contents exist (spec §7); it is
// only ever returned to a caller when an entry has never loaded.
type BackendUnavailableError struct {
	Vault  string
	Detail string
	Err    error
}

func (e BackendUnavailableError) Error() string {
	msg := fmt.Sprintf("vault[%s] backend unavailable: %s", e.Vault, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e BackendUnavailableError) Unwrap() error {
	return e.Err
}

// PermissionDeniedError models spec's internal PermissionDenied error kind:
// a 403 response the vault backend recovers from by forcing one re-login
// and retry. A second 403 is logged and treated as absent, matching
// Fetch's (kind, bodyBytes) | absent contract, which has no error
// channel for this case; this type exists to name the kind in code and
// tests even though Backend.Fetch itself never returns it.
type PermissionDeniedError struct {
	Vault    string
	Location string
}

func (e PermissionDeniedError) Error() string {
	return fmt.Sprintf("vault[%s] permission denied accessing %s", e.Vault, e.Location)
}

// IsRetryable reports whether a transport-level error looks transient
// (timeout, reset, refused, broken pipe, EOF). The vault backend's
// fixed-wait retry loop does not consult it; that loop retries every
// transport error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError turns a raw parse/IO error into a UserError or
// ConfigError with an actionable suggestion. The config loader builds its
// own ConfigError/UserError values and does not call it.
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	switch err.(type) {
	case UserError, ConfigError:
		return err
	}

	errStr := err.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "json:") {
		return ConfigError{
			Message:    "Invalid JSON format",
			Suggestion: "Validate your JSON syntax",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
