package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCapabilityUnsupported is returned when an operation is called
	// against a provider whose Capability declares it unsupported.
	ErrCapabilityUnsupported = errors.New("provider does not support this capability")

	// ErrSessionNotFound is returned when a provider has no memory of the
	// given session id — typically because it was destroyed out of band.
	ErrSessionNotFound = errors.New("provider session not found")
)

// InfraError wraps a transport/auth/availability failure the caller may
// retry exactly once after a fresh status probe. It is distinct from an
// ApplicationError, which is the provider faithfully reporting that the
// command it ran failed.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("provider infra error during %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// ApplicationError wraps a non-zero exit code or other application-level
// failure that must be surfaced to the caller unchanged, never retried.
type ApplicationError struct {
	Op       string
	ExitCode int
	Output   string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("command failed during %s: exit code %d", e.Op, e.ExitCode)
}

// IsInfraError reports whether err is an *InfraError.
func IsInfraError(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}

// IsApplicationError reports whether err is an *ApplicationError.
func IsApplicationError(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// Classifier decides whether a raw provider-client error should be
// treated as infra (network/auth/session-gone — retry once after a
// status refresh) or application (pass through unchanged). The default
// predicate is a conservative substring allowlist; deployments with a
// provider client that reports more structured errors can supply their
// own predicate instead of editing this package.
type Classifier struct {
	// IsInfra overrides the default substring predicate when set.
	IsInfra func(error) bool
}

// DefaultInfraMarkers are substrings of a raw error's message that, by
// default, classify it as infra rather than application.
var DefaultInfraMarkers = []string{
	"session not found",
	"no close frame",
	"connection reset",
	"i/o timeout",
	"context deadline exceeded",
	"unauthorized",
	"unavailable",
}

// Classify wraps err as an *InfraError or *ApplicationError per the
// classifier's predicate. A nil err returns nil.
func (c *Classifier) Classify(op string, err error, exitCode int, output string) error {
	if err == nil {
		return nil
	}
	predicate := c.IsInfra
	if predicate == nil {
		predicate = defaultIsInfra
	}
	if predicate(err) {
		return &InfraError{Op: op, Err: err}
	}
	return &ApplicationError{Op: op, ExitCode: exitCode, Output: output}
}

func defaultIsInfra(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range DefaultInfraMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
