package aggregate

import (
	"math"
	"sort"

	"github.com/nickorefice/github-build-auditor/internal/steps"
)

const (
	averagePrecisionFactorConstant = 100
)

// MonthTotal is the per-month bucket of the nested step totals form.
type MonthTotal struct {
	Duration float64 `json:"duration"`
	Count    int     `json:"count"`
}

// StageTotal is the per-step bucket inside a monthly summary.
type StageTotal struct {
	Count                int     `json:"count"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
}

// MonthSummary groups stage totals for one calendar month.
// TotalDurationSeconds always equals the sum of the stage totals.
type MonthSummary struct {
	Stages               map[string]StageTotal `json:"stages"`
	TotalDurationSeconds float64               `json:"total_duration_seconds"`
}

// SortRecords returns a copy of records in canonical order: target, run, job,
// step number, step name, then start time.
func SortRecords(records []steps.Record) []steps.Record {
	sorted := make([]steps.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(leftIndex int, rightIndex int) bool {
		return recordLess(sorted[leftIndex], sorted[rightIndex])
	})
	return sorted
}

func recordLess(left steps.Record, right steps.Record) bool {
	if left.TargetFullName != right.TargetFullName {
		return left.TargetFullName < right.TargetFullName
	}
	if left.RunID != right.RunID {
		return left.RunID < right.RunID
	}
	if left.JobID != right.JobID {
		return left.JobID < right.JobID
	}
	if left.StepNumberValue() != right.StepNumberValue() {
		return left.StepNumberValue() < right.StepNumberValue()
	}
	if left.StepName != right.StepName {
		return left.StepName < right.StepName
	}
	if !left.StartedAt.Equal(right.StartedAt) {
		return left.StartedAt.Before(right.StartedAt)
	}
	return left.DurationSeconds < right.DurationSeconds
}

// UniqueStepNames returns the distinct step names sorted lexicographically.
func UniqueStepNames(records []steps.Record) []string {
	seen := make(map[string]struct{}, len(records))
	names := make([]string, 0)
	for _, record := range records {
		if _, exists := seen[record.StepName]; exists {
			continue
		}
		seen[record.StepName] = struct{}{}
		names = append(names, record.StepName)
	}
	sort.Strings(names)
	return names
}

// FilterByDuration keeps records strictly longer than thresholdSeconds.
func FilterByDuration(records []steps.Record, thresholdSeconds float64) []steps.Record {
	filtered := make([]steps.Record, 0, len(records))
	for _, record := range records {
		if record.DurationSeconds > thresholdSeconds {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

// FilterByStepNames keeps records whose step name is in the allow-list.
// An empty allow-list keeps everything.
func FilterByStepNames(records []steps.Record, allowedStepNames []string) []steps.Record {
	if len(allowedStepNames) == 0 {
		duplicated := make([]steps.Record, len(records))
		copy(duplicated, records)
		return duplicated
	}

	allowed := stepNameSet(allowedStepNames)
	filtered := make([]steps.Record, 0, len(records))
	for _, record := range records {
		if _, permitted := allowed[record.StepName]; permitted {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

// StepTotals sums durations per step name, honoring the optional allow-list.
func StepTotals(records []steps.Record, allowedStepNames []string) map[string]float64 {
	totals := make(map[string]float64)
	for _, record := range SortRecords(FilterByStepNames(records, allowedStepNames)) {
		totals[record.StepName] += record.DurationSeconds
	}
	return totals
}

// MonthlyStepTotals sums durations and counts per step name and month.
func MonthlyStepTotals(records []steps.Record, allowedStepNames []string) map[string]map[string]MonthTotal {
	totals := make(map[string]map[string]MonthTotal)
	for _, record := range SortRecords(FilterByStepNames(records, allowedStepNames)) {
		monthBuckets, exists := totals[record.StepName]
		if !exists {
			monthBuckets = make(map[string]MonthTotal)
			totals[record.StepName] = monthBuckets
		}
		monthKey := record.MonthKey()
		bucket := monthBuckets[monthKey]
		bucket.Duration += record.DurationSeconds
		bucket.Count++
		monthBuckets[monthKey] = bucket
	}
	return totals
}

// MonthlySummary groups records by month and step name.
func MonthlySummary(records []steps.Record) map[string]MonthSummary {
	summary := make(map[string]MonthSummary)
	for _, record := range SortRecords(records) {
		monthKey := record.MonthKey()
		month, exists := summary[monthKey]
		if !exists {
			month = MonthSummary{Stages: make(map[string]StageTotal)}
		}
		stage := month.Stages[record.StepName]
		stage.Count++
		stage.TotalDurationSeconds += record.DurationSeconds
		month.Stages[record.StepName] = stage
		summary[monthKey] = month
	}

	for monthKey, month := range summary {
		month.TotalDurationSeconds = sumStageTotals(month.Stages)
		summary[monthKey] = month
	}
	return summary
}

// StepAverages returns the mean duration per step name rounded to two decimals.
func StepAverages(records []steps.Record) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, record := range SortRecords(records) {
		sums[record.StepName] += record.DurationSeconds
		counts[record.StepName]++
	}

	averages := make(map[string]float64, len(sums))
	for stepName, total := range sums {
		averages[stepName] = math.Round(total/float64(counts[stepName])*averagePrecisionFactorConstant) / averagePrecisionFactorConstant
	}
	return averages
}

// SortedMonthKeys returns the month keys of a summary in ascending order.
func SortedMonthKeys(summary map[string]MonthSummary) []string {
	keys := make([]string, 0, len(summary))
	for monthKey := range summary {
		keys = append(keys, monthKey)
	}
	sort.Strings(keys)
	return keys
}

func sumStageTotals(stages map[string]StageTotal) float64 {
	stageNames := make([]string, 0, len(stages))
	for stageName := range stages {
		stageNames = append(stageNames, stageName)
	}
	sort.Strings(stageNames)

	total := 0.0
	for _, stageName := range stageNames {
		total += stages[stageName].TotalDurationSeconds
	}
	return total
}

func stepNameSet(stepNames []string) map[string]struct{} {
	set := make(map[string]struct{}, len(stepNames))
	for _, stepName := range stepNames {
		set[stepName] = struct{}{}
	}
	return set
}
