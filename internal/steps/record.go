package steps

import (
	"errors"
	"strings"
	"time"
)

const (
	monthKeyLayoutConstant                = "2006-01"
	missingStepNameErrorMessageConstant   = "step name must be provided"
	missingStartTimeErrorMessageConstant  = "step start timestamp missing"
	missingFinishTimeErrorMessageConstant = "step completion timestamp missing"
)

// Status enumerates execution states reported for a step.
type Status string

// Supported step statuses.
const (
	StatusQueued     Status = Status("queued")
	StatusInProgress Status = Status("in_progress")
	StatusCompleted  Status = Status("completed")
)

// Conclusion enumerates outcomes reported for a finished step.
type Conclusion string

// Supported step conclusions.
const (
	ConclusionNone           Conclusion = Conclusion("")
	ConclusionSuccess        Conclusion = Conclusion("success")
	ConclusionFailure        Conclusion = Conclusion("failure")
	ConclusionCancelled      Conclusion = Conclusion("cancelled")
	ConclusionSkipped        Conclusion = Conclusion("skipped")
	ConclusionNeutral        Conclusion = Conclusion("neutral")
	ConclusionTimedOut       Conclusion = Conclusion("timed_out")
	ConclusionActionRequired Conclusion = Conclusion("action_required")
	ConclusionUnstable       Conclusion = Conclusion("unstable")
)

var (
	// ErrMissingStepName indicates a step without a usable name.
	ErrMissingStepName = errors.New(missingStepNameErrorMessageConstant)
	// ErrMissingStartTime indicates a step that never reported a start timestamp.
	ErrMissingStartTime = errors.New(missingStartTimeErrorMessageConstant)
	// ErrMissingCompletionTime indicates a step that never reported a completion timestamp.
	ErrMissingCompletionTime = errors.New(missingFinishTimeErrorMessageConstant)
)

// Record is the platform-neutral timing entry for a single executed step.
type Record struct {
	StepName        string     `json:"step_name"`
	TargetFullName  string     `json:"target_full_name"`
	PipelineName    string     `json:"pipeline_name"`
	RunID           int64      `json:"run_id"`
	JobID           int64      `json:"job_id"`
	StepNumber      *int64     `json:"step_number"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     time.Time  `json:"completed_at"`
	DurationSeconds float64    `json:"duration_seconds"`
	DurationAnomaly bool       `json:"duration_anomaly,omitempty"`
	Status          Status     `json:"status"`
	Conclusion      Conclusion `json:"conclusion"`
	URL             string     `json:"url"`
	HTMLURL         string     `json:"html_url"`
}

// RecordAttributes carries the raw values a fetcher observed for a step.
type RecordAttributes struct {
	StepName       string
	TargetFullName string
	PipelineName   string
	RunID          int64
	JobID          int64
	StepNumber     *int64
	StartedAt      time.Time
	CompletedAt    time.Time
	Status         Status
	Conclusion     Conclusion
	URL            string
	HTMLURL        string
}

// NewRecord validates the attributes and derives the step duration.
// Negative durations are clamped to zero and flagged as anomalies.
func NewRecord(attributes RecordAttributes) (Record, error) {
	trimmedStepName := strings.TrimSpace(attributes.StepName)
	if len(trimmedStepName) == 0 {
		return Record{}, ErrMissingStepName
	}
	if attributes.StartedAt.IsZero() {
		return Record{}, ErrMissingStartTime
	}
	if attributes.CompletedAt.IsZero() {
		return Record{}, ErrMissingCompletionTime
	}

	startedAt := attributes.StartedAt.UTC()
	completedAt := attributes.CompletedAt.UTC()

	durationSeconds := completedAt.Sub(startedAt).Seconds()
	durationAnomaly := false
	if durationSeconds < 0 {
		durationSeconds = 0
		durationAnomaly = true
	}

	var stepNumber *int64
	if attributes.StepNumber != nil {
		copiedStepNumber := *attributes.StepNumber
		stepNumber = &copiedStepNumber
	}

	return Record{
		StepName:        attributes.StepName,
		TargetFullName:  attributes.TargetFullName,
		PipelineName:    attributes.PipelineName,
		RunID:           attributes.RunID,
		JobID:           attributes.JobID,
		StepNumber:      stepNumber,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		DurationSeconds: durationSeconds,
		DurationAnomaly: durationAnomaly,
		Status:          attributes.Status,
		Conclusion:      attributes.Conclusion,
		URL:             attributes.URL,
		HTMLURL:         attributes.HTMLURL,
	}, nil
}

// Terminal reports whether the record describes a finished, non-cancelled step.
func (record Record) Terminal() bool {
	return record.Status == StatusCompleted && record.Conclusion != ConclusionCancelled
}

// MonthKey returns the YYYY-MM bucket of the step start time in UTC.
func (record Record) MonthKey() string {
	return record.StartedAt.UTC().Format(monthKeyLayoutConstant)
}

// StepNumberValue returns the step number or zero when it is unknown.
func (record Record) StepNumberValue() int64 {
	if record.StepNumber == nil {
		return 0
	}
	return *record.StepNumber
}
