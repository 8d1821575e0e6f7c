package aggregate

import (
	"github.com/nickorefice/github-build-auditor/internal/steps"
)

// Accumulator collects terminal records and fetch statistics for one worker.
// It is not safe for concurrent use; each worker owns one and the results are merged.
type Accumulator struct {
	records        []steps.Record
	statistics     steps.Statistics
	droppedRecords int
}

// NewAccumulator constructs an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{records: make([]steps.Record, 0)}
}

// Add stores the record when it is terminal and reports whether it was kept.
func (accumulator *Accumulator) Add(record steps.Record) bool {
	if !record.Terminal() {
		accumulator.droppedRecords++
		return false
	}
	accumulator.records = append(accumulator.records, record)
	return true
}

// AddStatistics folds fetch counters into the accumulator.
func (accumulator *Accumulator) AddStatistics(statistics steps.Statistics) {
	accumulator.statistics = accumulator.statistics.Add(statistics)
}

// Merge appends the contents of other. Merge is associative; the canonical ordering
// applied by Records makes the final result independent of merge order.
func (accumulator *Accumulator) Merge(other *Accumulator) {
	if other == nil {
		return
	}
	accumulator.records = append(accumulator.records, other.records...)
	accumulator.statistics = accumulator.statistics.Add(other.statistics)
	accumulator.droppedRecords += other.droppedRecords
}

// Records returns the accumulated records in canonical order.
func (accumulator *Accumulator) Records() []steps.Record {
	return SortRecords(accumulator.records)
}

// Statistics returns the merged fetch counters.
func (accumulator *Accumulator) Statistics() steps.Statistics {
	return accumulator.statistics
}

// DroppedRecords counts non-terminal records rejected by Add.
func (accumulator *Accumulator) DroppedRecords() int {
	return accumulator.droppedRecords
}

// Len returns the number of accumulated records.
func (accumulator *Accumulator) Len() int {
	return len(accumulator.records)
}
