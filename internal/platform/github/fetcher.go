package github

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	githubapi "github.com/google/go-github/v74/github"
	"go.uber.org/zap"

	"github.com/nickorefice/github-build-auditor/internal/platform"
	"github.com/nickorefice/github-build-auditor/internal/steps"
)

const (
	repositoryNameSeparatorConstant    = "/"
	activeWorkflowStateConstant        = "active"
	completedRunStatusConstant         = "completed"
	createdSinceQueryPrefixConstant    = ">="
	createdSinceQueryLayoutConstant    = "2006-01-02"
	resolveRepositoryOperationConstant = "resolve repository"
	listWorkflowsOperationConstant     = "list workflows"
	listRunsOperationConstant          = "list workflow runs"
	listJobsOperationConstant          = "list workflow jobs"
	workflowsLoadedMessageConstant     = "workflows loaded"
	runPageMessageConstant             = "workflow run page fetched"
	runLogsExpiredMessageConstant      = "workflow run jobs unavailable; treating as expired"
	jobSkippedByLabelMessageConstant   = "job skipped by label"
	stepExcludedMessageConstant        = "step excluded"
	logFieldTargetConstant             = "target"
	logFieldWorkflowConstant           = "workflow"
	logFieldRunIdentifierConstant      = "run_id"
	logFieldJobIdentifierConstant      = "job_id"
	logFieldJobNameConstant            = "job_name"
	logFieldStepNameConstant           = "step_name"
	logFieldReasonConstant             = "reason"
)

// FetchSteps streams step records for every completed run of every active workflow
// in the repository. Records are produced one workflow run at a time.
func (client *Client) FetchSteps(executionContext context.Context, target platform.Target, options platform.FetchOptions) *steps.Stream {
	owner, repository, splitFound := strings.Cut(strings.TrimSpace(target.FullName), repositoryNameSeparatorConstant)
	if !splitFound || len(owner) == 0 || len(repository) == 0 || strings.Contains(repository, repositoryNameSeparatorConstant) {
		return steps.FailedStream(platform.WrapTargetError(target, resolveRepositoryOperationConstant, platform.ErrInvalidTarget))
	}

	cursor := &runCursor{
		client:       client,
		target:       target,
		owner:        owner,
		repository:   repository,
		since:        options.Since.UTC(),
		skipLabels:   platform.NewLabelSet(options.SkipLabels),
		statistics:   &steps.Statistics{},
		seenRuns:     make(map[int64]struct{}),
		seenJobs:     make(map[int64]struct{}),
		logger:       client.logger.With(zap.String(logFieldTargetConstant, target.FullName)),
		runsNextPage: 1,
	}

	return steps.NewStream(cursor.nextBatch, cursor.statistics)
}

type pendingRun struct {
	workflowRun  *githubapi.WorkflowRun
	workflowName string
}

// runCursor walks workflows, then pages of completed runs, then each run's jobs.
type runCursor struct {
	client     *Client
	target     platform.Target
	owner      string
	repository string
	since      time.Time
	skipLabels platform.LabelSet
	statistics *steps.Statistics
	logger     *zap.Logger

	workflowsLoaded bool
	workflows       []*githubapi.Workflow
	workflowIndex   int
	runsNextPage    int
	pendingRuns     []pendingRun
	seenRuns        map[int64]struct{}
	seenJobs        map[int64]struct{}
}

func (cursor *runCursor) nextBatch(executionContext context.Context) ([]steps.Record, error) {
	if !cursor.workflowsLoaded {
		if loadError := cursor.loadWorkflows(executionContext); loadError != nil {
			return nil, platform.WrapTargetError(cursor.target, listWorkflowsOperationConstant, loadError)
		}
	}

	for len(cursor.pendingRuns) == 0 {
		if cursor.workflowIndex >= len(cursor.workflows) {
			return nil, steps.ErrStreamExhausted
		}
		if pageError := cursor.loadRunPage(executionContext); pageError != nil {
			return nil, platform.WrapTargetError(cursor.target, listRunsOperationConstant, pageError)
		}
	}

	nextRun := cursor.pendingRuns[0]
	cursor.pendingRuns = cursor.pendingRuns[1:]

	records, jobsError := cursor.collectRun(executionContext, nextRun.workflowRun, nextRun.workflowName)
	if jobsError != nil {
		return nil, platform.WrapTargetError(cursor.target, listJobsOperationConstant, jobsError)
	}
	return records, nil
}

func (cursor *runCursor) loadWorkflows(executionContext context.Context) error {
	listOptions := &githubapi.ListOptions{PerPage: cursor.client.configuration.PageSize}
	selection := newWorkflowFilter(cursor.client.configuration.WorkflowNames, cursor.client.configuration.WorkflowPaths)

	for {
		var workflows *githubapi.Workflows
		var response *githubapi.Response
		listError := cursor.client.gate.Execute(executionContext, listWorkflowsOperationConstant, func(attemptContext context.Context) error {
			var callError error
			workflows, response, callError = cursor.client.api.Actions.ListWorkflows(requestContext(attemptContext), cursor.owner, cursor.repository, listOptions)
			return cursor.client.classifyError(listWorkflowsOperationConstant, callError)
		})
		if listError != nil {
			return listError
		}

		if workflows != nil {
			for _, workflow := range workflows.Workflows {
				if workflow == nil || workflow.GetState() != activeWorkflowStateConstant {
					continue
				}
				if !selection.allows(workflow) {
					continue
				}
				cursor.workflows = append(cursor.workflows, workflow)
			}
		}

		if response == nil || response.NextPage == 0 {
			break
		}
		listOptions.Page = response.NextPage
	}

	cursor.workflowsLoaded = true
	cursor.logger.Debug(workflowsLoadedMessageConstant, zap.Int(logFieldCountConstant, len(cursor.workflows)))
	return nil
}

func (cursor *runCursor) loadRunPage(executionContext context.Context) error {
	workflow := cursor.workflows[cursor.workflowIndex]
	runOptions := &githubapi.ListWorkflowRunsOptions{
		Status:      completedRunStatusConstant,
		ListOptions: githubapi.ListOptions{PerPage: cursor.client.configuration.PageSize, Page: cursor.runsNextPage},
	}
	if !cursor.since.IsZero() {
		runOptions.Created = createdSinceQueryPrefixConstant + cursor.since.Format(createdSinceQueryLayoutConstant)
	}

	var workflowRuns *githubapi.WorkflowRuns
	var response *githubapi.Response
	listError := cursor.client.gate.Execute(executionContext, listRunsOperationConstant, func(attemptContext context.Context) error {
		var callError error
		workflowRuns, response, callError = cursor.client.api.Actions.ListWorkflowRunsByID(requestContext(attemptContext), cursor.owner, cursor.repository, workflow.GetID(), runOptions)
		return cursor.client.classifyError(listRunsOperationConstant, callError)
	})
	if listError != nil {
		return listError
	}

	pageRunCount := 0
	if workflowRuns != nil {
		pageRunCount = len(workflowRuns.WorkflowRuns)
		for _, workflowRun := range workflowRuns.WorkflowRuns {
			if workflowRun == nil {
				continue
			}
			if _, seen := cursor.seenRuns[workflowRun.GetID()]; seen {
				continue
			}
			if !cursor.since.IsZero() && workflowRun.GetCreatedAt().Time.Before(cursor.since) {
				continue
			}
			cursor.seenRuns[workflowRun.GetID()] = struct{}{}
			cursor.pendingRuns = append(cursor.pendingRuns, pendingRun{workflowRun: workflowRun, workflowName: workflow.GetName()})
		}
	}

	cursor.logger.Debug(
		runPageMessageConstant,
		zap.String(logFieldWorkflowConstant, workflow.GetName()),
		zap.Int(logFieldPageConstant, cursor.runsNextPage),
		zap.Int(logFieldCountConstant, pageRunCount),
	)

	if response == nil || response.NextPage == 0 {
		cursor.workflowIndex++
		cursor.runsNextPage = 1
		return nil
	}
	cursor.runsNextPage = response.NextPage
	return nil
}

func (cursor *runCursor) collectRun(executionContext context.Context, workflowRun *githubapi.WorkflowRun, workflowName string) ([]steps.Record, error) {
	jobOptions := &githubapi.ListWorkflowJobsOptions{
		ListOptions: githubapi.ListOptions{PerPage: cursor.client.configuration.PageSize},
	}

	records := make([]steps.Record, 0)
	for {
		var jobs *githubapi.Jobs
		var response *githubapi.Response
		listError := cursor.client.gate.Execute(executionContext, listJobsOperationConstant, func(attemptContext context.Context) error {
			var callError error
			jobs, response, callError = cursor.client.api.Actions.ListWorkflowJobs(requestContext(attemptContext), cursor.owner, cursor.repository, workflowRun.GetID(), jobOptions)
			return cursor.client.classifyError(listJobsOperationConstant, callError)
		})
		if errors.Is(listError, platform.ErrTargetNotFound) {
			cursor.statistics.ExpiredRuns++
			cursor.logger.Warn(runLogsExpiredMessageConstant, zap.Int64(logFieldRunIdentifierConstant, workflowRun.GetID()))
			return records, nil
		}
		if listError != nil {
			return nil, listError
		}

		if jobs != nil {
			for _, job := range jobs.Jobs {
				records = append(records, cursor.jobRecords(workflowRun, workflowName, job)...)
			}
		}

		if response == nil || response.NextPage == 0 {
			break
		}
		jobOptions.Page = response.NextPage
	}
	return records, nil
}

func (cursor *runCursor) jobRecords(workflowRun *githubapi.WorkflowRun, workflowName string, job *githubapi.WorkflowJob) []steps.Record {
	if job == nil {
		return nil
	}
	if _, seen := cursor.seenJobs[job.GetID()]; seen {
		return nil
	}
	cursor.seenJobs[job.GetID()] = struct{}{}

	if cursor.skipLabels.Intersects(job.Labels) {
		cursor.statistics.JobsSkippedByLabel++
		cursor.logger.Debug(
			jobSkippedByLabelMessageConstant,
			zap.Int64(logFieldJobIdentifierConstant, job.GetID()),
			zap.String(logFieldJobNameConstant, job.GetName()),
		)
		return nil
	}

	cursor.statistics.JobsAssessed++
	if len(job.Steps) == 0 {
		cursor.statistics.EmptyJobs++
		return nil
	}

	records := make([]steps.Record, 0, len(job.Steps))
	for _, step := range job.Steps {
		if step == nil {
			continue
		}
		cursor.statistics.StepsAssessed++
		record, recordError := steps.NewRecord(steps.RecordAttributes{
			StepName:       step.GetName(),
			TargetFullName: cursor.target.FullName,
			PipelineName:   workflowName,
			RunID:          workflowRun.GetID(),
			JobID:          job.GetID(),
			StepNumber:     step.Number,
			StartedAt:      step.GetStartedAt().Time,
			CompletedAt:    step.GetCompletedAt().Time,
			Status:         steps.Status(step.GetStatus()),
			Conclusion:     steps.Conclusion(step.GetConclusion()),
			URL:            job.GetURL(),
			HTMLURL:        job.GetHTMLURL(),
		})
		if recordError != nil {
			cursor.statistics.StepsExcluded++
			cursor.logger.Debug(
				stepExcludedMessageConstant,
				zap.Int64(logFieldJobIdentifierConstant, job.GetID()),
				zap.String(logFieldStepNameConstant, step.GetName()),
				zap.String(logFieldReasonConstant, recordError.Error()),
			)
			continue
		}
		if record.DurationAnomaly {
			cursor.statistics.DurationAnomalies++
		}
		records = append(records, record)
	}
	return records
}

type workflowFilter struct {
	names map[string]struct{}
	paths map[string]struct{}
}

func newWorkflowFilter(names []string, paths []string) workflowFilter {
	filter := workflowFilter{names: make(map[string]struct{}), paths: make(map[string]struct{})}
	for _, name := range names {
		filter.names[name] = struct{}{}
	}
	for _, workflowPath := range paths {
		filter.paths[workflowPath] = struct{}{}
	}
	return filter
}

func (filter workflowFilter) allows(workflow *githubapi.Workflow) bool {
	if len(filter.names) == 0 && len(filter.paths) == 0 {
		return true
	}
	if _, nameAllowed := filter.names[workflow.GetName()]; nameAllowed {
		return true
	}
	workflowPath := workflow.GetPath()
	if _, pathAllowed := filter.paths[workflowPath]; pathAllowed {
		return true
	}
	_, baseNameAllowed := filter.paths[path.Base(workflowPath)]
	return baseNameAllowed
}
