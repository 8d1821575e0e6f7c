package audit

import (
	"strconv"

	"github.com/nickorefice/github-build-auditor/internal/platform"
	"github.com/nickorefice/github-build-auditor/internal/report"
)

const (
	summaryTitleTemplateConstant        = "Build audit summary (%s)"
	summaryTargetsLabelConstant         = "Targets assessed"
	summarySkippedTargetsLabelConstant  = "Targets skipped"
	summaryJobsLabelConstant            = "Jobs assessed"
	summaryJobsByLabelLabelConstant     = "Jobs skipped by label"
	summaryEmptyJobsLabelConstant       = "Empty jobs"
	summaryExpiredRunsLabelConstant     = "Runs with expired logs"
	summaryStepsLabelConstant           = "Steps assessed"
	summaryExcludedStepsLabelConstant   = "Steps excluded"
	summaryNonTerminalLabelConstant     = "Steps not finished"
	summaryAnomaliesLabelConstant       = "Duration anomalies"
	summaryReportedRecordsLabelConstant = "Records reported"
	skippedTargetWarningSuffixConstant  = " skipped after failure"
)

// Artifacts lists the report files produced by the run. Optional reports are
// present only when the corresponding option was enabled.
func (result Result) Artifacts() []report.Artifact {
	artifacts := []report.Artifact{{FileName: report.StageDurationsFileName, Payload: result.Records}}
	if result.UniqueStepNames != nil {
		artifacts = append(artifacts, report.Artifact{FileName: report.StepNamesFileName, Payload: result.UniqueStepNames})
	}
	if result.MonthlyStepTotals != nil {
		artifacts = append(artifacts, report.Artifact{FileName: report.StepNameTotalsFileName, Payload: result.MonthlyStepTotals})
	} else {
		artifacts = append(artifacts, report.Artifact{FileName: report.StepNameTotalsFileName, Payload: result.StepTotals})
	}
	if result.MonthlySummary != nil {
		artifacts = append(artifacts, report.Artifact{FileName: report.MonthlySummaryFileName, Payload: result.MonthlySummary})
	}
	if result.StepAverages != nil {
		artifacts = append(artifacts, report.Artifact{FileName: report.AverageDurationsFileName, Payload: result.StepAverages})
	}
	if result.TargetDump != nil {
		artifacts = append(artifacts, report.Artifact{FileName: targetDumpFileName(result.Kind), Payload: result.TargetDump})
	}
	return artifacts
}

func targetDumpFileName(kind platform.Kind) string {
	if kind == platform.KindJenkins {
		return report.JobDumpFileName
	}
	return report.RepositoryDumpFileName
}

// SummaryLines renders the run counters for the console summary.
func (summary RunSummary) SummaryLines() []report.SummaryLine {
	statistics := summary.Statistics
	return []report.SummaryLine{
		{Label: summaryTargetsLabelConstant, Value: strconv.Itoa(summary.TargetsAssessed) + "/" + strconv.Itoa(summary.TargetsTotal)},
		{Label: summarySkippedTargetsLabelConstant, Value: strconv.Itoa(len(summary.SkippedTargets))},
		{Label: summaryJobsLabelConstant, Value: strconv.Itoa(statistics.JobsAssessed)},
		{Label: summaryJobsByLabelLabelConstant, Value: strconv.Itoa(statistics.JobsSkippedByLabel)},
		{Label: summaryEmptyJobsLabelConstant, Value: strconv.Itoa(statistics.EmptyJobs)},
		{Label: summaryExpiredRunsLabelConstant, Value: strconv.Itoa(statistics.ExpiredRuns)},
		{Label: summaryStepsLabelConstant, Value: strconv.Itoa(statistics.StepsAssessed)},
		{Label: summaryExcludedStepsLabelConstant, Value: strconv.Itoa(statistics.StepsExcluded)},
		{Label: summaryNonTerminalLabelConstant, Value: strconv.Itoa(summary.NonTerminalSteps)},
		{Label: summaryAnomaliesLabelConstant, Value: strconv.Itoa(statistics.DurationAnomalies)},
		{Label: summaryReportedRecordsLabelConstant, Value: strconv.Itoa(summary.RecordsReported)},
	}
}

// Warnings lists the targets that were skipped.
func (summary RunSummary) Warnings() []string {
	warnings := make([]string, 0, len(summary.SkippedTargets))
	for _, skippedTarget := range summary.SkippedTargets {
		warnings = append(warnings, skippedTarget+skippedTargetWarningSuffixConstant)
	}
	return warnings
}
