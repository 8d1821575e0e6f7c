// Package audit orchestrates build-timing audits: it resolves the targets of a
// platform, fetches their step records through a bounded worker pool, applies the
// failure policy to targets that cannot be read, and aggregates the merged records
// into the JSON reports.
//
// It exposes CommandBuilder and SummarizeCommandBuilder for wiring the Cobra
// commands and Service for driving an audit programmatically.
package audit
