// Package steps defines the platform-neutral step timing record and the pull-based
// stream fetchers use to hand records to the aggregation pipeline.
package steps
