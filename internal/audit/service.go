package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nickorefice/github-build-auditor/internal/aggregate"
	"github.com/nickorefice/github-build-auditor/internal/platform"
)

const (
	fetchStepsOperationConstant        = "fetch steps"
	enumerateTargetsTemplateConstant   = "enumerate targets: %w"
	missingClientMessageConstant       = "platform client not configured"
	missingDeciderMessageConstant      = "prompt failure policy requires an interactive failure decider"
	targetsResolvedMessageConstant     = "targets resolved"
	targetStartedMessageConstant       = "auditing target"
	targetCompletedMessageConstant     = "target audited"
	targetSkippedMessageConstant       = "target skipped after failure"
	auditCompletedMessageConstant      = "audit completed"
	logFieldAuditRunIDConstant         = "audit_run_id"
	logFieldPlatformConstant           = "platform"
	logFieldTargetConstant             = "target"
	logFieldTargetCountConstant        = "targets"
	logFieldRecordCountConstant        = "records"
	logFieldSkippedTargetsConstant     = "skipped_targets"
	logFieldFailurePolicyConstant      = "failure_policy"
	logFieldConcurrencyConstant        = "concurrency"
	logFieldExplicitTargetsConstant    = "explicit_targets"
	logFieldNonTerminalStepsConstant   = "non_terminal_steps"
	logFieldExcludedStepsConstant      = "excluded_steps"
	logFieldSkippedByLabelJobsConstant = "jobs_skipped_by_label"
)

var (
	errMissingClient  = errors.New(missingClientMessageConstant)
	errMissingDecider = errors.New(missingDeciderMessageConstant)
)

// Service enumerates targets, fetches their step records through a bounded worker
// pool, and aggregates the merged records into reports.
type Service struct {
	client              platform.Client
	decider             FailureDecider
	logger              *zap.Logger
	identifierGenerator func() string
	decisionMutex       sync.Mutex
}

// NewService constructs a Service. The decider is only consulted under the prompt policy.
func NewService(client platform.Client, decider FailureDecider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:              client,
		decider:             decider,
		logger:              logger,
		identifierGenerator: uuid.NewString,
	}
}

type targetOutcome struct {
	accumulator *aggregate.Accumulator
	skipped     bool
}

// Run executes one audit. Authentication failures and cancellation always stop the
// run; other per-target failures follow options.FailurePolicy.
func (service *Service) Run(executionContext context.Context, options Options) (Result, error) {
	if service.client == nil {
		return Result{}, errMissingClient
	}
	if options.FailurePolicy == FailurePolicyPrompt && service.decider == nil {
		return Result{}, errMissingDecider
	}
	if options.Concurrency <= 0 {
		options.Concurrency = defaultConcurrencyConstant
	}

	runIdentifier := service.identifierGenerator()
	logger := service.logger.With(
		zap.String(logFieldAuditRunIDConstant, runIdentifier),
		zap.String(logFieldPlatformConstant, string(service.client.Kind())),
	)

	targets, enumerationError := service.client.EnumerateTargets(executionContext, options.ExplicitTargets)
	if enumerationError != nil {
		return Result{}, fmt.Errorf(enumerateTargetsTemplateConstant, enumerationError)
	}
	logger.Info(
		targetsResolvedMessageConstant,
		zap.Int(logFieldTargetCountConstant, len(targets)),
		zap.Bool(logFieldExplicitTargetsConstant, options.ExplicitTargets != nil),
		zap.String(logFieldFailurePolicyConstant, string(options.FailurePolicy)),
		zap.Int(logFieldConcurrencyConstant, options.Concurrency),
	)

	result := Result{RunID: runIdentifier, Kind: service.client.Kind()}
	if options.DumpTargets {
		result.TargetDump = service.client.DumpTargets(targets)
	}

	fetchOptions := platform.FetchOptions{Since: options.Since, SkipLabels: options.SkipLabels}
	outcomes := make([]targetOutcome, len(targets))

	group, groupContext := errgroup.WithContext(executionContext)
	group.SetLimit(options.Concurrency)
	for targetIndex := range targets {
		group.Go(func() error {
			target := targets[targetIndex]
			accumulator, auditError := service.auditTarget(groupContext, target, fetchOptions, logger)
			if auditError == nil {
				outcomes[targetIndex].accumulator = accumulator
				return nil
			}
			if failureError := service.resolveFailure(groupContext, target, auditError, options.FailurePolicy, logger); failureError != nil {
				return failureError
			}
			outcomes[targetIndex].skipped = true
			return nil
		})
	}
	if groupError := group.Wait(); groupError != nil {
		return Result{}, groupError
	}

	merged := aggregate.NewAccumulator()
	summary := RunSummary{TargetsTotal: len(targets), SkippedTargets: make([]string, 0)}
	for targetIndex, outcome := range outcomes {
		if outcome.skipped {
			summary.SkippedTargets = append(summary.SkippedTargets, targets[targetIndex].FullName)
			continue
		}
		merged.Merge(outcome.accumulator)
		summary.TargetsAssessed++
	}

	aggregatedRecords := merged.Records()
	reportedRecords := aggregate.FilterByStepNames(aggregatedRecords, options.StepNames)
	if options.FilterDuration != nil {
		reportedRecords = aggregate.FilterByDuration(reportedRecords, *options.FilterDuration)
	}

	result.Records = reportedRecords
	if options.UniqueSteps {
		result.UniqueStepNames = aggregate.UniqueStepNames(aggregatedRecords)
	}
	if options.MonthlySummary {
		result.MonthlyStepTotals = aggregate.MonthlyStepTotals(reportedRecords, nil)
		result.MonthlySummary = aggregate.MonthlySummary(reportedRecords)
	} else {
		result.StepTotals = aggregate.StepTotals(reportedRecords, nil)
	}
	if options.StepAverages {
		result.StepAverages = aggregate.StepAverages(reportedRecords)
	}

	summary.Statistics = merged.Statistics()
	summary.NonTerminalSteps = merged.DroppedRecords()
	summary.RecordsAggregated = len(aggregatedRecords)
	summary.RecordsReported = len(reportedRecords)
	result.Summary = summary

	logger.Info(
		auditCompletedMessageConstant,
		zap.Int(logFieldTargetCountConstant, summary.TargetsAssessed),
		zap.Strings(logFieldSkippedTargetsConstant, summary.SkippedTargets),
		zap.Int(logFieldRecordCountConstant, summary.RecordsReported),
		zap.Int(logFieldNonTerminalStepsConstant, summary.NonTerminalSteps),
		zap.Int(logFieldExcludedStepsConstant, summary.Statistics.StepsExcluded),
		zap.Int(logFieldSkippedByLabelJobsConstant, summary.Statistics.JobsSkippedByLabel),
	)
	return result, nil
}

func (service *Service) auditTarget(executionContext context.Context, target platform.Target, fetchOptions platform.FetchOptions, logger *zap.Logger) (*aggregate.Accumulator, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return nil, contextError
	}
	logger.Debug(targetStartedMessageConstant, zap.String(logFieldTargetConstant, target.FullName))

	stream := service.client.FetchSteps(executionContext, target, fetchOptions)
	accumulator := aggregate.NewAccumulator()
	for stream.Next(executionContext) {
		accumulator.Add(stream.Record())
	}
	if streamError := stream.Err(); streamError != nil {
		return nil, streamError
	}
	accumulator.AddStatistics(stream.Statistics())

	logger.Debug(
		targetCompletedMessageConstant,
		zap.String(logFieldTargetConstant, target.FullName),
		zap.Int(logFieldRecordCountConstant, accumulator.Len()),
	)
	return accumulator, nil
}

// resolveFailure returns nil when the failed target may be skipped and the error
// that ends the run otherwise.
func (service *Service) resolveFailure(executionContext context.Context, target platform.Target, cause error, policy FailurePolicy, logger *zap.Logger) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}

	var targetError *platform.TargetError
	if !errors.As(cause, &targetError) {
		targetError = &platform.TargetError{Target: target.FullName, Operation: fetchStepsOperationConstant, Cause: cause}
	}
	if errors.Is(cause, platform.ErrAuthentication) {
		return targetError
	}

	switch policy {
	case FailurePolicySkip:
	case FailurePolicyPrompt:
		service.decisionMutex.Lock()
		defer service.decisionMutex.Unlock()
		continueRun, decisionError := service.decider.ContinueAfterFailure(executionContext, targetError)
		if decisionError != nil {
			return decisionError
		}
		if !continueRun {
			return targetError
		}
	default:
		return targetError
	}

	logger.Warn(
		targetSkippedMessageConstant,
		zap.String(logFieldTargetConstant, target.FullName),
		zap.Error(targetError),
	)
	return nil
}
