package aggregate_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nickorefice/github-build-auditor/internal/aggregate"
	"github.com/nickorefice/github-build-auditor/internal/steps"
)

const (
	testAggregateSubtestTemplateConstant = "%d_%s"
	testBuildAndPushStepConstant         = "Build and push"
	testCheckoutStepConstant             = "Checkout"
	testTargetConstant                   = "octo/widgets"
	testDecemberKeyConstant              = "2024-12"
	testFebruaryKeyConstant              = "2025-02"
)

func buildRecord(stepName string, runID int64, startedAt time.Time, durationSeconds float64) steps.Record {
	return steps.Record{
		StepName:        stepName,
		TargetFullName:  testTargetConstant,
		RunID:           runID,
		JobID:           runID * 10,
		StartedAt:       startedAt,
		CompletedAt:     startedAt.Add(time.Duration(durationSeconds * float64(time.Second))),
		DurationSeconds: durationSeconds,
		Status:          steps.StatusCompleted,
		Conclusion:      steps.ConclusionSuccess,
	}
}

func decemberScenarioRecords() []steps.Record {
	decemberStart := time.Date(2024, time.December, 2, 9, 0, 0, 0, time.UTC)
	return []steps.Record{
		buildRecord(testBuildAndPushStepConstant, 1, decemberStart, 12.75),
		buildRecord(testBuildAndPushStepConstant, 2, decemberStart.Add(24*time.Hour), 12.75),
		buildRecord(testBuildAndPushStepConstant, 3, decemberStart.Add(48*time.Hour), 12.75),
		buildRecord(testBuildAndPushStepConstant, 4, decemberStart.Add(72*time.Hour), 12.75),
		buildRecord(testBuildAndPushStepConstant, 5, time.Date(2025, time.February, 11, 8, 0, 0, 0, time.UTC), 2476.0),
		buildRecord(testCheckoutStepConstant, 1, decemberStart, 3.5),
	}
}

func TestMonthlyStepTotalsDecemberScenario(testInstance *testing.T) {
	totals := aggregate.MonthlyStepTotals(decemberScenarioRecords(), []string{testBuildAndPushStepConstant})

	require.Len(testInstance, totals, 1)
	require.Equal(testInstance, aggregate.MonthTotal{Duration: 51.0, Count: 4}, totals[testBuildAndPushStepConstant][testDecemberKeyConstant])
	require.Equal(testInstance, aggregate.MonthTotal{Duration: 2476.0, Count: 1}, totals[testBuildAndPushStepConstant][testFebruaryKeyConstant])
}

func TestStepTotalsHonorsAllowList(testInstance *testing.T) {
	testCases := []struct {
		name           string
		allowList      []string
		expectedTotals map[string]float64
	}{
		{
			name:      "no_allow_list",
			allowList: nil,
			expectedTotals: map[string]float64{
				testBuildAndPushStepConstant: 2527.0,
				testCheckoutStepConstant:     3.5,
			},
		},
		{
			name:      "checkout_only",
			allowList: []string{testCheckoutStepConstant},
			expectedTotals: map[string]float64{
				testCheckoutStepConstant: 3.5,
			},
		},
		{
			name:           "unknown_step",
			allowList:      []string{"Deploy"},
			expectedTotals: map[string]float64{},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testAggregateSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expectedTotals, aggregate.StepTotals(decemberScenarioRecords(), testCase.allowList))
		})
	}
}

func TestFilterByDurationIsStrict(testInstance *testing.T) {
	startedAt := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	records := []steps.Record{
		buildRecord(testCheckoutStepConstant, 1, startedAt, 9.99),
		buildRecord(testCheckoutStepConstant, 2, startedAt, 10.0),
		buildRecord(testCheckoutStepConstant, 3, startedAt, 10.01),
	}

	filtered := aggregate.FilterByDuration(records, 10.0)
	require.Len(testInstance, filtered, 1)
	require.Equal(testInstance, int64(3), filtered[0].RunID)
}

func TestUniqueStepNames(testInstance *testing.T) {
	names := aggregate.UniqueStepNames(decemberScenarioRecords())
	require.Equal(testInstance, []string{testBuildAndPushStepConstant, testCheckoutStepConstant}, names)

	require.Empty(testInstance, aggregate.UniqueStepNames(nil))
}

func TestMonthlySummaryTotalsMatchStages(testInstance *testing.T) {
	summary := aggregate.MonthlySummary(decemberScenarioRecords())

	require.Equal(testInstance, []string{testDecemberKeyConstant, testFebruaryKeyConstant}, aggregate.SortedMonthKeys(summary))
	for monthKey, month := range summary {
		stageSum := 0.0
		for _, stage := range month.Stages {
			stageSum += stage.TotalDurationSeconds
		}
		require.InDelta(testInstance, stageSum, month.TotalDurationSeconds, 1e-9, monthKey)
	}

	december := summary[testDecemberKeyConstant]
	require.Equal(testInstance, aggregate.StageTotal{Count: 4, TotalDurationSeconds: 51.0}, december.Stages[testBuildAndPushStepConstant])
	require.Equal(testInstance, 54.5, december.TotalDurationSeconds)
}

func TestAggregationsIndependentOfOrder(testInstance *testing.T) {
	startedAt := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	records := make([]steps.Record, 0, 60)
	for recordIndex := 0; recordIndex < 60; recordIndex++ {
		stepName := fmt.Sprintf("step-%d", recordIndex%4)
		records = append(records, buildRecord(stepName, int64(recordIndex), startedAt.Add(time.Duration(recordIndex)*36*time.Hour), 0.1*float64(recordIndex%7)+0.3))
	}

	expectedSummary := aggregate.MonthlySummary(records)
	expectedTotals := aggregate.StepTotals(records, nil)
	expectedMonthly := aggregate.MonthlyStepTotals(records, nil)
	expectedAverages := aggregate.StepAverages(records)

	randomSource := rand.New(rand.NewSource(42))
	for shuffleIndex := 0; shuffleIndex < 10; shuffleIndex++ {
		shuffled := make([]steps.Record, len(records))
		copy(shuffled, records)
		randomSource.Shuffle(len(shuffled), func(leftIndex int, rightIndex int) {
			shuffled[leftIndex], shuffled[rightIndex] = shuffled[rightIndex], shuffled[leftIndex]
		})

		require.Equal(testInstance, expectedSummary, aggregate.MonthlySummary(shuffled))
		require.Equal(testInstance, expectedTotals, aggregate.StepTotals(shuffled, nil))
		require.Equal(testInstance, expectedMonthly, aggregate.MonthlyStepTotals(shuffled, nil))
		require.Equal(testInstance, expectedAverages, aggregate.StepAverages(shuffled))
	}
}

func TestStepAveragesRoundToTwoDecimals(testInstance *testing.T) {
	startedAt := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	records := []steps.Record{
		buildRecord(testCheckoutStepConstant, 1, startedAt, 1.0),
		buildRecord(testCheckoutStepConstant, 2, startedAt, 2.0),
		buildRecord(testCheckoutStepConstant, 3, startedAt, 2.0),
	}
	require.Equal(testInstance, map[string]float64{testCheckoutStepConstant: 1.67}, aggregate.StepAverages(records))
}
