package platform

import (
	"errors"
	"fmt"
	"time"
)

const (
	authenticationFailedMessageConstant       = "authentication failed"
	targetNotFoundMessageConstant             = "target not found"
	accessDeniedMessageConstant               = "access denied"
	invalidTargetMessageConstant              = "invalid target"
	rateLimitExceededTemplateConstant         = "%s: rate limit still exceeded after waiting until %s"
	transientFailureTemplateConstant          = "%s: transient failure: %v"
	targetFailureTemplateConstant             = "%s: %s failed: %v"
	targetFailureWithoutCauseTemplateConstant = "%s: %s failed"
)

var (
	// ErrAuthentication marks rejected credentials. It is always fatal for the audit.
	ErrAuthentication = errors.New(authenticationFailedMessageConstant)
	// ErrTargetNotFound marks a repository or job the API does not know about.
	ErrTargetNotFound = errors.New(targetNotFoundMessageConstant)
	// ErrAccessDenied marks a target the credentials cannot read.
	ErrAccessDenied = errors.New(accessDeniedMessageConstant)
	// ErrInvalidTarget marks a target identifier that cannot be addressed on the platform.
	ErrInvalidTarget = errors.New(invalidTargetMessageConstant)
)

// RateLimitExceededError reports a rate limit that persisted after one suspension.
type RateLimitExceededError struct {
	Operation string
	ResumeAt  time.Time
}

// Error describes the rate limit failure.
func (rateLimitError *RateLimitExceededError) Error() string {
	return fmt.Sprintf(rateLimitExceededTemplateConstant, rateLimitError.Operation, rateLimitError.ResumeAt.UTC().Format(time.RFC3339))
}

// TransientError reports a network or server failure that survived all retries.
type TransientError struct {
	Operation string
	Cause     error
}

// Error describes the transient failure.
func (transientError *TransientError) Error() string {
	return fmt.Sprintf(transientFailureTemplateConstant, transientError.Operation, transientError.Cause)
}

// Unwrap exposes the underlying cause.
func (transientError *TransientError) Unwrap() error {
	return transientError.Cause
}

// TargetError attributes a failure to the target being fetched.
type TargetError struct {
	Target    string
	Operation string
	Cause     error
}

// Error names the target, the operation, and the cause.
func (targetError *TargetError) Error() string {
	if targetError.Cause == nil {
		return fmt.Sprintf(targetFailureWithoutCauseTemplateConstant, targetError.Target, targetError.Operation)
	}
	return fmt.Sprintf(targetFailureTemplateConstant, targetError.Target, targetError.Operation, targetError.Cause)
}

// Unwrap exposes the underlying cause.
func (targetError *TargetError) Unwrap() error {
	return targetError.Cause
}

// WrapTargetError attributes cause to the target unless it already is a TargetError.
func WrapTargetError(target Target, operation string, cause error) error {
	if cause == nil {
		return nil
	}
	var existing *TargetError
	if errors.As(cause, &existing) {
		return cause
	}
	return &TargetError{Target: target.FullName, Operation: operation, Cause: cause}
}
