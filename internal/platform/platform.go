package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nickorefice/github-build-auditor/internal/steps"
)

const (
	kindGitHubValueConstant          = "github"
	kindJenkinsValueConstant         = "jenkins"
	unsupportedKindTemplateConstant  = "unsupported platform %q"
	sinceDateLayoutConstant          = "2006-01-02"
	invalidSinceDateTemplateConstant = "invalid since date %q (expected YYYY-MM-DD): %w"
)

// Kind identifies the CI/CD platform audited by a client.
type Kind string

// Supported platforms.
const (
	KindGitHub  Kind = Kind(kindGitHubValueConstant)
	KindJenkins Kind = Kind(kindJenkinsValueConstant)
)

// ParseKind normalizes a textual platform identifier.
func ParseKind(rawKind string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(rawKind)) {
	case kindGitHubValueConstant:
		return KindGitHub, nil
	case kindJenkinsValueConstant:
		return KindJenkins, nil
	default:
		return "", fmt.Errorf(unsupportedKindTemplateConstant, rawKind)
	}
}

// Target is an auditable unit: a GitHub repository or a Jenkins job.
type Target struct {
	ID         string
	FullName   string
	URL        string
	Descriptor map[string]any
}

// NewNamedTarget builds a target known only by name, as read from an explicit list.
func NewNamedTarget(fullName string) Target {
	trimmedName := strings.TrimSpace(fullName)
	return Target{ID: trimmedName, FullName: trimmedName}
}

// FetchOptions controls which runs and jobs a fetcher reads.
type FetchOptions struct {
	// Since is the inclusive lower bound on run creation time. The zero value disables it.
	Since      time.Time
	SkipLabels []string
}

// ParseSinceDate interprets a YYYY-MM-DD date as midnight UTC. Empty input yields the zero time.
func ParseSinceDate(rawDate string) (time.Time, error) {
	trimmedDate := strings.TrimSpace(rawDate)
	if len(trimmedDate) == 0 {
		return time.Time{}, nil
	}
	parsedDate, parseError := time.ParseInLocation(sinceDateLayoutConstant, trimmedDate, time.UTC)
	if parseError != nil {
		return time.Time{}, fmt.Errorf(invalidSinceDateTemplateConstant, rawDate, parseError)
	}
	return parsedDate, nil
}

// Fetcher streams step records for a single target.
type Fetcher interface {
	FetchSteps(executionContext context.Context, target Target, options FetchOptions) *steps.Stream
}

// Enumerator discovers the targets visible to the configured credentials.
type Enumerator interface {
	EnumerateTargets(executionContext context.Context, explicitTargets []Target) ([]Target, error)
	DumpTargets(targets []Target) []map[string]any
}

// Client combines discovery and fetching for one platform.
type Client interface {
	Fetcher
	Enumerator
	Kind() Kind
}

// LabelSet answers membership questions for skip labels.
type LabelSet map[string]struct{}

// NewLabelSet builds a set from the non-empty trimmed labels.
func NewLabelSet(labels []string) LabelSet {
	set := make(LabelSet, len(labels))
	for _, label := range labels {
		trimmedLabel := strings.TrimSpace(label)
		if len(trimmedLabel) == 0 {
			continue
		}
		set[trimmedLabel] = struct{}{}
	}
	return set
}

// Intersects reports whether any candidate label belongs to the set.
func (set LabelSet) Intersects(candidateLabels []string) bool {
	if len(set) == 0 {
		return false
	}
	for _, candidateLabel := range candidateLabels {
		if _, exists := set[strings.TrimSpace(candidateLabel)]; exists {
			return true
		}
	}
	return false
}
