// Package aggregate reduces step records into unique step lists, duration-filtered
// subsets, per-step totals, monthly summaries, and averages.
//
// Every aggregation sorts its input canonically before summing so floating point
// results do not depend on the order in which fetch workers delivered records.
package aggregate
