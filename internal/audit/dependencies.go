package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/nickorefice/github-build-auditor/internal/platform"
)

// LoggerProvider supplies a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider supplies the persisted audit configuration.
type ConfigurationProvider func() CommandConfiguration

// ClientResolver builds the platform client for a run once configuration is known.
type ClientResolver func(logger *zap.Logger) (platform.Client, error)

// FailureDecider is consulted under the prompt policy and reports whether the run
// should continue without the failed target.
type FailureDecider interface {
	ContinueAfterFailure(executionContext context.Context, failure *platform.TargetError) (bool, error)
}

// ConfirmationPrompter asks the user a yes/no question.
type ConfirmationPrompter interface {
	Confirm(prompt string) (bool, error)
}
