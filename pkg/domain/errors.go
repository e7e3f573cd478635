package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrFixtureNotFound is returned when no persisted fixture exists for a run.
var ErrFixtureNotFound = errors.New("session fixture not found")

// ErrFixtureReadOnly is returned when a persisted fixture would be mutated.
var ErrFixtureReadOnly = errors.New("session fixture is read-only once persisted")

// ErrCycle is returned when the Stage Graph contains a cycle.
var ErrCycle = errors.New("stage graph contains a cycle")

// ErrUnknownService is wrapped by ConfigurationError for unrecognized service names.
var ErrUnknownService = errors.New("unknown service")

// ConfigurationError is fatal and aborts the run before scheduling.
type ConfigurationError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// MissingCredentialError reports an absent mandatory secret.
type MissingCredentialError struct {
	Key CredentialKey
	Env string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("missing credential %s: %s environment variable is required", e.Key, e.Env)
}

// As lets errors.As match a MissingCredentialError as a ConfigurationError.
func (e *MissingCredentialError) As(target any) bool {
	if ce, ok := target.(**ConfigurationError); ok {
		*ce = &ConfigurationError{Key: e.Env, Reason: "required secret is not set"}
		return true
	}
	return false
}

// AuthenticationFailure is the failure of the setup node.
type AuthenticationFailure struct {
	Principal string
	Err       error
}

func (e *AuthenticationFailure) Error() string {
	return fmt.Sprintf("authentication failed for %q: %v", e.Principal, e.Err)
}

func (e *AuthenticationFailure) Unwrap() error { return e.Err }

// AssertionFailure is an expected state that did not materialize within its timeout.
type AssertionFailure struct {
	Step    string
	Timeout time.Duration
	Err     error
}

func (e *AssertionFailure) Error() string {
	msg := e.Step
	if e.Timeout > 0 {
		msg = fmt.Sprintf("%s (waited %s)", msg, e.Timeout)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AssertionFailure) Unwrap() error { return e.Err }

// ProbeCriticalFailure is never retried.
type ProbeCriticalFailure struct {
	Result ProbeResult
}

func (e *ProbeCriticalFailure) Error() string {
	return "critical probe failure: " + e.Result.String()
}

// SkipError declares the absence of a precondition. It is not a failure.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skip returns a SkipError. A reason is mandatory.
func Skip(reason string) error {
	if reason == "" {
		panic("domain: skip without a reason")
	}
	return &SkipError{Reason: reason}
}

// SkipReason extracts the reason if err is a SkipError.
func SkipReason(err error) (string, bool) {
	var skip *SkipError
	if errors.As(err, &skip) {
		return skip.Reason, true
	}
	return "", false
}
