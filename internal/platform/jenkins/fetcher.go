package jenkins

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/nickorefice/github-build-auditor/internal/platform"
	"github.com/nickorefice/github-build-auditor/internal/steps"
)

const (
	buildsTreeTemplateConstant         = "labelExpression,allBuilds[number,result,timestamp,builtOn]{%d,%d}"
	describePathConstant               = "wfapi/describe"
	listBuildsOperationConstant        = "list builds"
	describeBuildOperationConstant     = "describe build"
	negatedLabelPrefixConstant         = "!"
	sinceIgnoredMessageConstant        = "since filter is not applied to Jenkins builds"
	buildSkippedByLabelMessageConstant = "build skipped by label"
	buildNotPipelineMessageConstant    = "build has no pipeline description"
	stageExcludedMessageConstant       = "stage excluded"
	logFieldTargetConstant             = "target"
	logFieldBuildNumberConstant        = "build_number"
	logFieldStageNameConstant          = "stage_name"
	logFieldReasonConstant             = "reason"
)

type stageState struct {
	status     steps.Status
	conclusion steps.Conclusion
}

var stageStatusMapping = map[string]stageState{
	"SUCCESS":              {status: steps.StatusCompleted, conclusion: steps.ConclusionSuccess},
	"FAILED":               {status: steps.StatusCompleted, conclusion: steps.ConclusionFailure},
	"UNSTABLE":             {status: steps.StatusCompleted, conclusion: steps.ConclusionUnstable},
	"ABORTED":              {status: steps.StatusCompleted, conclusion: steps.ConclusionCancelled},
	"NOT_EXECUTED":         {status: steps.StatusCompleted, conclusion: steps.ConclusionSkipped},
	"IN_PROGRESS":          {status: steps.StatusInProgress, conclusion: steps.ConclusionNone},
	"PAUSED_PENDING_INPUT": {status: steps.StatusInProgress, conclusion: steps.ConclusionNone},
	"QUEUED":               {status: steps.StatusQueued, conclusion: steps.ConclusionNone},
}

// FetchSteps streams stage records for every build of the job, one build at a time.
// Jenkins has no server-side creation filter, so options.Since is not applied.
func (client *Client) FetchSteps(executionContext context.Context, target platform.Target, options platform.FetchOptions) *steps.Stream {
	if len(strings.TrimSpace(target.FullName)) == 0 && len(strings.TrimSpace(target.URL)) == 0 {
		return steps.FailedStream(platform.WrapTargetError(target, listBuildsOperationConstant, platform.ErrInvalidTarget))
	}

	cursor := &buildCursor{
		client:     client,
		target:     target,
		jobURL:     client.targetURL(target),
		skipLabels: platform.NewLabelSet(options.SkipLabels),
		statistics: &steps.Statistics{},
		seenBuilds: make(map[int64]struct{}),
		logger:     client.logger.With(zap.String(logFieldTargetConstant, target.FullName)),
	}
	if !options.Since.IsZero() {
		cursor.logger.Debug(sinceIgnoredMessageConstant)
	}

	return steps.NewStream(cursor.nextBatch, cursor.statistics)
}

type jenkinsBuild struct {
	number  int64
	builtOn string
}

type buildCursor struct {
	client     *Client
	target     platform.Target
	jobURL     string
	skipLabels platform.LabelSet
	statistics *steps.Statistics
	logger     *zap.Logger

	jobLabels       []string
	nextRangeStart  int
	buildsExhausted bool
	pendingBuilds   []jenkinsBuild
	seenBuilds      map[int64]struct{}
}

func (cursor *buildCursor) nextBatch(executionContext context.Context) ([]steps.Record, error) {
	for len(cursor.pendingBuilds) == 0 {
		if cursor.buildsExhausted {
			return nil, steps.ErrStreamExhausted
		}
		if pageError := cursor.loadBuildPage(executionContext); pageError != nil {
			return nil, platform.WrapTargetError(cursor.target, listBuildsOperationConstant, pageError)
		}
	}

	build := cursor.pendingBuilds[0]
	cursor.pendingBuilds = cursor.pendingBuilds[1:]

	buildLabels := append([]string{build.builtOn}, cursor.jobLabels...)
	if cursor.skipLabels.Intersects(buildLabels) {
		cursor.statistics.JobsSkippedByLabel++
		cursor.logger.Debug(buildSkippedByLabelMessageConstant, zap.Int64(logFieldBuildNumberConstant, build.number))
		return []steps.Record{}, nil
	}

	records, describeError := cursor.describeBuild(executionContext, build)
	if describeError != nil {
		return nil, platform.WrapTargetError(cursor.target, describeBuildOperationConstant, describeError)
	}
	return records, nil
}

// loadBuildPage reads one range of allBuilds. The builds field is capped at the
// newest 100 entries, so ranges past it would come back empty.
func (cursor *buildCursor) loadBuildPage(executionContext context.Context) error {
	pageSize := cursor.client.configuration.PageSize
	rangeStart := cursor.nextRangeStart
	requestURL := cursor.jobURL + apiJSONPathConstant + "?" + treeQuery(fmt.Sprintf(buildsTreeTemplateConstant, rangeStart, rangeStart+pageSize))

	payload, requestError := cursor.client.getJSON(executionContext, listBuildsOperationConstant, requestURL)
	if requestError != nil {
		return requestError
	}

	if rangeStart == 0 {
		cursor.jobLabels = labelExpressionTokens(payload.Get("labelExpression").String())
	}

	pageBuilds := payload.Get("allBuilds").Array()
	for _, buildPayload := range pageBuilds {
		buildNumber := buildPayload.Get("number").Int()
		if _, seen := cursor.seenBuilds[buildNumber]; seen {
			continue
		}
		cursor.seenBuilds[buildNumber] = struct{}{}
		cursor.pendingBuilds = append(cursor.pendingBuilds, jenkinsBuild{
			number:  buildNumber,
			builtOn: buildPayload.Get("builtOn").String(),
		})
	}

	cursor.nextRangeStart = rangeStart + pageSize
	if len(pageBuilds) < pageSize {
		cursor.buildsExhausted = true
	}
	return nil
}

func (cursor *buildCursor) describeBuild(executionContext context.Context, build jenkinsBuild) ([]steps.Record, error) {
	buildURL := cursor.jobURL + strconv.FormatInt(build.number, 10) + "/"
	describeURL := buildURL + describePathConstant

	payload, requestError := cursor.client.getJSON(executionContext, describeBuildOperationConstant, describeURL)
	if errors.Is(requestError, platform.ErrTargetNotFound) {
		cursor.statistics.ExpiredRuns++
		cursor.logger.Debug(buildNotPipelineMessageConstant, zap.Int64(logFieldBuildNumberConstant, build.number))
		return []steps.Record{}, nil
	}
	if requestError != nil {
		return nil, requestError
	}

	cursor.statistics.JobsAssessed++
	stages := payload.Get("stages").Array()
	if len(stages) == 0 {
		cursor.statistics.EmptyJobs++
		return []steps.Record{}, nil
	}

	records := make([]steps.Record, 0, len(stages))
	for stageIndex, stage := range stages {
		cursor.statistics.StepsAssessed++
		stageNumber := int64(stageIndex + 1)
		startedAt, completedAt := stageTimes(stage)
		state, known := stageStatusMapping[strings.ToUpper(stage.Get("status").String())]
		if !known {
			state = stageState{status: steps.StatusCompleted, conclusion: steps.ConclusionNeutral}
		}

		record, recordError := steps.NewRecord(steps.RecordAttributes{
			StepName:       stage.Get("name").String(),
			TargetFullName: cursor.target.FullName,
			PipelineName:   cursor.target.FullName,
			RunID:          build.number,
			JobID:          build.number,
			StepNumber:     &stageNumber,
			StartedAt:      startedAt,
			CompletedAt:    completedAt,
			Status:         state.status,
			Conclusion:     state.conclusion,
			URL:            describeURL,
			HTMLURL:        buildURL,
		})
		if recordError != nil {
			cursor.statistics.StepsExcluded++
			cursor.logger.Debug(
				stageExcludedMessageConstant,
				zap.Int64(logFieldBuildNumberConstant, build.number),
				zap.String(logFieldStageNameConstant, stage.Get("name").String()),
				zap.String(logFieldReasonConstant, recordError.Error()),
			)
			continue
		}
		if record.DurationAnomaly {
			cursor.statistics.DurationAnomalies++
		}
		records = append(records, record)
	}
	return records, nil
}

// stageTimes derives the stage window. The duration includes time spent queued,
// so completion is start plus durationMillis plus queueDurationMillis.
func stageTimes(stage gjson.Result) (time.Time, time.Time) {
	startField := stage.Get("startTimeMillis")
	if !startField.Exists() || startField.Int() <= 0 {
		return time.Time{}, time.Time{}
	}
	startedAt := time.UnixMilli(startField.Int()).UTC()

	durationField := stage.Get("durationMillis")
	if !durationField.Exists() {
		return startedAt, time.Time{}
	}
	totalMillis := durationField.Int() + stage.Get("queueDurationMillis").Int()
	return startedAt, startedAt.Add(time.Duration(totalMillis) * time.Millisecond)
}

// labelExpressionTokens extracts the positive labels of a Jenkins label expression
// such as "linux && (docker || podman) && !arm".
func labelExpressionTokens(expression string) []string {
	fields := strings.FieldsFunc(expression, func(character rune) bool {
		return unicode.IsSpace(character) || strings.ContainsRune("&|()", character)
	})
	labels := make([]string, 0, len(fields))
	for _, field := range fields {
		if strings.HasPrefix(field, negatedLabelPrefixConstant) {
			continue
		}
		labels = append(labels, field)
	}
	return labels
}
