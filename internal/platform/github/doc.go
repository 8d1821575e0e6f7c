// Package github implements the platform client for GitHub Actions on top of
// go-github. It enumerates repositories for the authenticated user and streams
// step timings for completed runs of active workflows.
package github
