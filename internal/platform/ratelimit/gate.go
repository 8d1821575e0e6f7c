package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nickorefice/github-build-auditor/internal/platform"
)

const (
	rateLimitSignalTemplateConstant     = "rate limited until %s"
	gateSuspendedMessageConstant        = "rate limit reached; suspending requests"
	gateWaitingMessageConstant          = "waiting for rate limit reset"
	logFieldOperationConstant           = "operation"
	logFieldResumeAtConstant            = "resume_at"
	logFieldWaitDurationConstant        = "wait_duration"
	maximumAttemptsPerOperationConstant = 2
)

// Signal reports that the platform asked the client to pause until ResumeAt.
type Signal struct {
	ResumeAt time.Time
}

// Error describes the rate limit signal.
func (signal *Signal) Error() string {
	return fmt.Sprintf(rateLimitSignalTemplateConstant, signal.ResumeAt.UTC().Format(time.RFC3339))
}

// Clock returns the current time.
type Clock func() time.Time

// Sleeper blocks for the duration or until the context is done.
type Sleeper func(executionContext context.Context, duration time.Duration) error

// Gate is the rate limit state shared by every worker talking to one platform.
// While suspended, all callers wait until the reset time before issuing requests.
type Gate struct {
	mutex    sync.Mutex
	resumeAt time.Time
	clock    Clock
	sleeper  Sleeper
	logger   *zap.Logger
}

// NewGate constructs a gate. Nil collaborators fall back to wall-clock implementations.
func NewGate(clock Clock, sleeper Sleeper, logger *zap.Logger) *Gate {
	if clock == nil {
		clock = time.Now
	}
	if sleeper == nil {
		sleeper = ContextSleeper
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{clock: clock, sleeper: sleeper, logger: logger}
}

// ContextSleeper sleeps for duration unless the context finishes first.
func ContextSleeper(executionContext context.Context, duration time.Duration) error {
	if duration <= 0 {
		return executionContext.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-executionContext.Done():
		return executionContext.Err()
	case <-timer.C:
		return nil
	}
}

// Suspend blocks new requests until resumeAt. Earlier deadlines never shorten an active suspension.
func (gate *Gate) Suspend(resumeAt time.Time) {
	gate.mutex.Lock()
	defer gate.mutex.Unlock()
	if resumeAt.After(gate.resumeAt) {
		gate.resumeAt = resumeAt
	}
}

// ResumeAt returns the time at which requests may continue.
func (gate *Gate) ResumeAt() time.Time {
	gate.mutex.Lock()
	defer gate.mutex.Unlock()
	return gate.resumeAt
}

// Wait blocks until the gate is open or the context is done.
func (gate *Gate) Wait(executionContext context.Context) error {
	waitDuration := gate.ResumeAt().Sub(gate.clock())
	if waitDuration <= 0 {
		return executionContext.Err()
	}
	gate.logger.Debug(gateWaitingMessageConstant, zap.Duration(logFieldWaitDurationConstant, waitDuration))
	return gate.sleeper(executionContext, waitDuration)
}

// Execute runs attempt behind the gate. When attempt returns a *Signal the gate is
// suspended until the signalled reset and the attempt is retried once; a second
// signal yields *platform.RateLimitExceededError.
func (gate *Gate) Execute(executionContext context.Context, operation string, attempt func(context.Context) error) error {
	var lastSignal *Signal
	for attemptIndex := 0; attemptIndex < maximumAttemptsPerOperationConstant; attemptIndex++ {
		if waitError := gate.Wait(executionContext); waitError != nil {
			return waitError
		}

		attemptError := attempt(executionContext)
		if !errors.As(attemptError, &lastSignal) {
			return attemptError
		}

		gate.logger.Warn(
			gateSuspendedMessageConstant,
			zap.String(logFieldOperationConstant, operation),
			zap.Time(logFieldResumeAtConstant, lastSignal.ResumeAt),
		)
		gate.Suspend(lastSignal.ResumeAt)
	}

	return &platform.RateLimitExceededError{Operation: operation, ResumeAt: lastSignal.ResumeAt}
}
