// Package cli constructs the build-auditor command-line interface, wiring the
// Cobra command hierarchy, the configuration loader, credential resolution, and
// structured logging. The github and jenkins subcommands share one audit
// command builder; summarize rebuilds a monthly summary offline.
package cli
