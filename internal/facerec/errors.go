package facerec

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoReferenceFaces is returned by LoadReferences when no face could be
// encoded from any of the supplied reference photos. Individual photo
// failures are logged and skipped; only an empty result is fatal.
var ErrNoReferenceFaces = errors.New("no faces detected in any reference photo")

// ConfigError reports a missing or invalid configuration field. It is
// always raised before any image is processed.
type ConfigError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s provider configuration: %s: %s", e.Provider, e.Field, e.Reason)
}

// UnknownProviderError is returned by the factory for unregistered names.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown face recognition provider %q", e.Name)
}

// TrainingTimeoutError is returned when remote identity-group training does
// not reach a terminal state within the configured timeout.
type TrainingTimeoutError struct {
	Timeout time.Duration
}

func (e *TrainingTimeoutError) Error() string {
	return fmt.Sprintf("face model training did not finish within %s", e.Timeout)
}

// ProviderCallError wraps a backend-specific failure (auth, quota,
// malformed image) so callers can branch on the operation that failed.
type ProviderCallError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderCallError) Unwrap() error {
	return e.Err
}
