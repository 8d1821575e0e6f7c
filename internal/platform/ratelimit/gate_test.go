package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nickorefice/github-build-auditor/internal/platform"
	"github.com/nickorefice/github-build-auditor/internal/platform/ratelimit"
)

type recordingSleeper struct {
	mutex     sync.Mutex
	durations []time.Duration
}

func (sleeper *recordingSleeper) Sleep(executionContext context.Context, duration time.Duration) error {
	sleeper.mutex.Lock()
	defer sleeper.mutex.Unlock()
	sleeper.durations = append(sleeper.durations, duration)
	return executionContext.Err()
}

func fixedClock(now time.Time) ratelimit.Clock {
	return func() time.Time { return now }
}

type advancingSleeper struct {
	mutex     sync.Mutex
	now       time.Time
	durations []time.Duration
}

func (sleeper *advancingSleeper) Now() time.Time {
	sleeper.mutex.Lock()
	defer sleeper.mutex.Unlock()
	return sleeper.now
}

func (sleeper *advancingSleeper) Sleep(executionContext context.Context, duration time.Duration) error {
	sleeper.mutex.Lock()
	defer sleeper.mutex.Unlock()
	sleeper.durations = append(sleeper.durations, duration)
	sleeper.now = sleeper.now.Add(duration)
	return executionContext.Err()
}

func TestGateExecuteRetriesOnceAfterSignal(testInstance *testing.T) {
	now := time.Date(2024, time.December, 1, 12, 0, 0, 0, time.UTC)
	sleeper := &recordingSleeper{}
	gate := ratelimit.NewGate(fixedClock(now), sleeper.Sleep, nil)

	attemptCount := 0
	executionError := gate.Execute(context.Background(), "list jobs", func(context.Context) error {
		attemptCount++
		if attemptCount == 1 {
			return &ratelimit.Signal{ResumeAt: now.Add(30 * time.Second)}
		}
		return nil
	})

	require.NoError(testInstance, executionError)
	require.Equal(testInstance, 2, attemptCount)
	require.Equal(testInstance, []time.Duration{30 * time.Second}, sleeper.durations)
}

func TestGateReopensAfterResetForLaterOperations(testInstance *testing.T) {
	now := time.Date(2024, time.December, 1, 12, 0, 0, 0, time.UTC)
	sleeper := &advancingSleeper{now: now}
	gate := ratelimit.NewGate(sleeper.Now, sleeper.Sleep, nil)

	signalled := false
	for operationIndex := 0; operationIndex < 4; operationIndex++ {
		executionError := gate.Execute(context.Background(), "describe build", func(context.Context) error {
			if !signalled {
				signalled = true
				return &ratelimit.Signal{ResumeAt: now.Add(45 * time.Second)}
			}
			return nil
		})
		require.NoError(testInstance, executionError)
	}

	require.Equal(testInstance, []time.Duration{45 * time.Second}, sleeper.durations)
	require.Equal(testInstance, now.Add(45*time.Second), sleeper.Now())
}

func TestGateExecuteFailsOnSecondSignal(testInstance *testing.T) {
	now := time.Date(2024, time.December, 1, 12, 0, 0, 0, time.UTC)
	sleeper := &recordingSleeper{}
	gate := ratelimit.NewGate(fixedClock(now), sleeper.Sleep, nil)

	attemptCount := 0
	executionError := gate.Execute(context.Background(), "list jobs", func(context.Context) error {
		attemptCount++
		return &ratelimit.Signal{ResumeAt: now.Add(time.Minute)}
	})

	var rateLimitError *platform.RateLimitExceededError
	require.True(testInstance, errors.As(executionError, &rateLimitError))
	require.Equal(testInstance, "list jobs", rateLimitError.Operation)
	require.Equal(testInstance, 2, attemptCount)
}

func TestGatePassesThroughOtherErrors(testInstance *testing.T) {
	gate := ratelimit.NewGate(nil, nil, nil)
	failure := errors.New("boom")

	executionError := gate.Execute(context.Background(), "list jobs", func(context.Context) error {
		return failure
	})
	require.ErrorIs(testInstance, executionError, failure)
}

func TestGateSuspendNeverShortens(testInstance *testing.T) {
	now := time.Date(2024, time.December, 1, 12, 0, 0, 0, time.UTC)
	gate := ratelimit.NewGate(fixedClock(now), nil, nil)

	gate.Suspend(now.Add(time.Minute))
	gate.Suspend(now.Add(time.Second))
	require.Equal(testInstance, now.Add(time.Minute), gate.ResumeAt())
}

func TestGateWaitSharedAcrossWorkers(testInstance *testing.T) {
	now := time.Date(2024, time.December, 1, 12, 0, 0, 0, time.UTC)
	sleeper := &recordingSleeper{}
	gate := ratelimit.NewGate(fixedClock(now), sleeper.Sleep, nil)
	gate.Suspend(now.Add(10 * time.Second))

	var waitGroup sync.WaitGroup
	for workerIndex := 0; workerIndex < 3; workerIndex++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			require.NoError(testInstance, gate.Wait(context.Background()))
		}()
	}
	waitGroup.Wait()

	require.Len(testInstance, sleeper.durations, 3)
}

func TestContextSleeperHonorsCancellation(testInstance *testing.T) {
	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(testInstance, ratelimit.ContextSleeper(cancelledContext, time.Hour), context.Canceled)
}
