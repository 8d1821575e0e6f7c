package steps

import (
	"context"
	"errors"
)

const (
	streamExhaustedMessageConstant = "step stream exhausted"
)

// ErrStreamExhausted is returned by a BatchSource once it has no further batches.
var ErrStreamExhausted = errors.New(streamExhaustedMessageConstant)

// BatchSource yields the next batch of records. It returns ErrStreamExhausted when done.
// An empty batch with a nil error is valid and simply advances the source.
type BatchSource func(executionContext context.Context) ([]Record, error)

// Statistics counts what a fetcher observed while producing a stream.
type Statistics struct {
	JobsAssessed       int `json:"jobs_assessed"`
	JobsSkippedByLabel int `json:"jobs_skipped_by_label"`
	EmptyJobs          int `json:"empty_jobs"`
	ExpiredRuns        int `json:"expired_runs"`
	StepsAssessed      int `json:"steps_assessed"`
	StepsExcluded      int `json:"steps_excluded"`
	DurationAnomalies  int `json:"duration_anomalies"`
}

// Add returns the element-wise sum of both statistics.
func (statistics Statistics) Add(other Statistics) Statistics {
	return Statistics{
		JobsAssessed:       statistics.JobsAssessed + other.JobsAssessed,
		JobsSkippedByLabel: statistics.JobsSkippedByLabel + other.JobsSkippedByLabel,
		EmptyJobs:          statistics.EmptyJobs + other.EmptyJobs,
		ExpiredRuns:        statistics.ExpiredRuns + other.ExpiredRuns,
		StepsAssessed:      statistics.StepsAssessed + other.StepsAssessed,
		StepsExcluded:      statistics.StepsExcluded + other.StepsExcluded,
		DurationAnomalies:  statistics.DurationAnomalies + other.DurationAnomalies,
	}
}

// Stream is a lazy, finite, pull-based sequence of records backed by a BatchSource.
// A Stream is not safe for concurrent use and cannot be restarted.
type Stream struct {
	source     BatchSource
	statistics *Statistics
	buffer     []Record
	current    Record
	failure    error
	exhausted  bool
}

// NewStream wraps the batch source. The statistics pointer is owned by the source and
// may be nil when the producer does not track counters.
func NewStream(source BatchSource, statistics *Statistics) *Stream {
	if statistics == nil {
		statistics = &Statistics{}
	}
	return &Stream{source: source, statistics: statistics}
}

// FailedStream returns a stream that yields no records and reports the failure.
func FailedStream(failure error) *Stream {
	return &Stream{statistics: &Statistics{}, failure: failure}
}

// Next advances to the next record, pulling batches as required.
func (stream *Stream) Next(executionContext context.Context) bool {
	if stream == nil || stream.failure != nil || stream.exhausted {
		return false
	}

	for len(stream.buffer) == 0 {
		if contextError := executionContext.Err(); contextError != nil {
			stream.failure = contextError
			return false
		}
		if stream.source == nil {
			stream.exhausted = true
			return false
		}

		batch, batchError := stream.source(executionContext)
		if errors.Is(batchError, ErrStreamExhausted) {
			stream.exhausted = true
			return false
		}
		if batchError != nil {
			stream.failure = batchError
			return false
		}
		stream.buffer = batch
	}

	stream.current = stream.buffer[0]
	stream.buffer = stream.buffer[1:]
	return true
}

// Record returns the record produced by the last successful Next call.
func (stream *Stream) Record() Record {
	return stream.current
}

// Err reports the failure that stopped the stream, if any.
func (stream *Stream) Err() error {
	if stream == nil {
		return nil
	}
	return stream.failure
}

// Exhausted reports whether the source finished without failure.
func (stream *Stream) Exhausted() bool {
	return stream != nil && stream.exhausted
}

// Statistics returns a snapshot of the counters collected so far.
func (stream *Stream) Statistics() Statistics {
	if stream == nil || stream.statistics == nil {
		return Statistics{}
	}
	return *stream.statistics
}

// Collect drains the stream into a slice.
func Collect(executionContext context.Context, stream *Stream) ([]Record, error) {
	collected := make([]Record, 0)
	for stream.Next(executionContext) {
		collected = append(collected, stream.Record())
	}
	if streamError := stream.Err(); streamError != nil {
		return collected, streamError
	}
	return collected, nil
}
