package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/nickorefice/github-build-auditor/internal/aggregate"
	"github.com/nickorefice/github-build-auditor/internal/platform"
	"github.com/nickorefice/github-build-auditor/internal/steps"
)

const (
	unsupportedFailurePolicyTemplateConstant = "unsupported failure policy %q (expected abort, skip, or prompt)"
)

// FailurePolicy decides what happens when a single target cannot be audited.
type FailurePolicy string

// Supported failure policies.
const (
	FailurePolicyAbort  FailurePolicy = "abort"
	FailurePolicySkip   FailurePolicy = "skip"
	FailurePolicyPrompt FailurePolicy = "prompt"
)

// FailurePolicyChoices lists the accepted policy values in display order.
var FailurePolicyChoices = []string{
	string(FailurePolicyAbort),
	string(FailurePolicySkip),
	string(FailurePolicyPrompt),
}

// ParseFailurePolicy interprets a policy name. Empty input yields abort.
func ParseFailurePolicy(rawPolicy string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(rawPolicy))) {
	case "", FailurePolicyAbort:
		return FailurePolicyAbort, nil
	case FailurePolicySkip:
		return FailurePolicySkip, nil
	case FailurePolicyPrompt:
		return FailurePolicyPrompt, nil
	default:
		return "", fmt.Errorf(unsupportedFailurePolicyTemplateConstant, rawPolicy)
	}
}

// Options are the resolved inputs of one audit run.
type Options struct {
	Since          time.Time
	SkipLabels     []string
	FilterDuration *float64
	StepNames      []string
	// ExplicitTargets disables enumeration when non-nil, even when empty.
	ExplicitTargets []platform.Target
	DumpTargets     bool
	MonthlySummary  bool
	UniqueSteps     bool
	StepAverages    bool
	FailurePolicy   FailurePolicy
	Concurrency     int
}

// RunSummary counts what the run looked at and what it skipped.
type RunSummary struct {
	TargetsTotal      int
	TargetsAssessed   int
	SkippedTargets    []string
	Statistics        steps.Statistics
	NonTerminalSteps  int
	RecordsAggregated int
	RecordsReported   int
}

// Result carries every report produced by one audit run.
type Result struct {
	RunID             string
	Kind              platform.Kind
	Records           []steps.Record
	UniqueStepNames   []string
	StepTotals        map[string]float64
	MonthlyStepTotals map[string]map[string]aggregate.MonthTotal
	MonthlySummary    map[string]aggregate.MonthSummary
	StepAverages      map[string]float64
	TargetDump        []map[string]any
	Summary           RunSummary
}
