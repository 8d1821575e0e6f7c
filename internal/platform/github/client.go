package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	githubapi "github.com/google/go-github/v74/github"
	"go.uber.org/zap"

	"github.com/nickorefice/github-build-auditor/internal/platform"
	"github.com/nickorefice/github-build-auditor/internal/platform/ratelimit"
)

const (
	trailingSlashConstant                 = "/"
	listRepositoriesOperationConstant     = "list repositories"
	repositorySortFieldConstant           = "updated"
	repositorySortDirectionConstant       = "desc"
	invalidBaseURLTemplateConstant        = "invalid GitHub base URL %q: %w"
	operationFailureTemplateConstant      = "%s: %w"
	authenticationFailureTemplateConstant = "%s: %w: %v"
	defaultPrimaryRateLimitWaitConstant   = time.Minute
	defaultSecondaryRateLimitWaitConstant = time.Minute
	repositoriesListedMessageConstant     = "repositories enumerated"
	repositoryPageMessageConstant         = "repository page fetched"
	logFieldPageConstant                  = "page"
	logFieldCountConstant                 = "count"
	descriptorFullNameKeyConstant         = "full_name"
	descriptorHTMLURLKeyConstant          = "html_url"
	descriptorDescriptionKeyConstant      = "description"
	descriptorUpdatedAtKeyConstant        = "updated_at"
)

// Dependencies carries the collaborators shared by the GitHub client.
type Dependencies struct {
	Token      string
	HTTPClient *http.Client
	Gate       *ratelimit.Gate
	Logger     *zap.Logger
	Clock      ratelimit.Clock
}

// Client audits GitHub Actions through the REST API.
type Client struct {
	api           *githubapi.Client
	configuration Configuration
	gate          *ratelimit.Gate
	logger        *zap.Logger
	clock         ratelimit.Clock
}

// NewClient constructs a GitHub client. A configured base URL points the client at
// GitHub Enterprise or a test server.
func NewClient(configuration Configuration, dependencies Dependencies) (*Client, error) {
	sanitized := configuration.Sanitize()

	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = time.Now
	}
	gate := dependencies.Gate
	if gate == nil {
		gate = ratelimit.NewGate(clock, nil, logger)
	}

	apiClient := githubapi.NewClient(dependencies.HTTPClient)
	if trimmedToken := strings.TrimSpace(dependencies.Token); len(trimmedToken) > 0 {
		apiClient = apiClient.WithAuthToken(trimmedToken)
	}

	if len(sanitized.BaseURL) > 0 {
		baseURLValue := sanitized.BaseURL
		if !strings.HasSuffix(baseURLValue, trailingSlashConstant) {
			baseURLValue += trailingSlashConstant
		}
		parsedBaseURL, parseError := url.Parse(baseURLValue)
		if parseError != nil {
			return nil, fmt.Errorf(invalidBaseURLTemplateConstant, sanitized.BaseURL, parseError)
		}
		apiClient.BaseURL = parsedBaseURL
	}

	return &Client{
		api:           apiClient,
		configuration: sanitized,
		gate:          gate,
		logger:        logger,
		clock:         clock,
	}, nil
}

// Kind identifies the platform served by the client.
func (client *Client) Kind() platform.Kind {
	return platform.KindGitHub
}

// EnumerateTargets lists repositories visible to the token, or returns the explicit
// list untouched without calling the API.
func (client *Client) EnumerateTargets(executionContext context.Context, explicitTargets []platform.Target) ([]platform.Target, error) {
	if explicitTargets != nil {
		duplicated := make([]platform.Target, len(explicitTargets))
		copy(duplicated, explicitTargets)
		return duplicated, nil
	}

	listOptions := &githubapi.RepositoryListByAuthenticatedUserOptions{
		Sort:        repositorySortFieldConstant,
		Direction:   repositorySortDirectionConstant,
		ListOptions: githubapi.ListOptions{PerPage: client.configuration.PageSize},
	}

	ownerFilter := newNamespaceFilter(client.configuration.Namespaces)
	seenRepositoryIdentifiers := make(map[int64]struct{})
	repositories := make([]*githubapi.Repository, 0)

	for {
		var pageRepositories []*githubapi.Repository
		var response *githubapi.Response
		listError := client.gate.Execute(executionContext, listRepositoriesOperationConstant, func(attemptContext context.Context) error {
			var callError error
			pageRepositories, response, callError = client.api.Repositories.ListByAuthenticatedUser(requestContext(attemptContext), listOptions)
			return client.classifyError(listRepositoriesOperationConstant, callError)
		})
		if listError != nil {
			if errors.Is(listError, platform.ErrAccessDenied) {
				return nil, fmt.Errorf(authenticationFailureTemplateConstant, listRepositoriesOperationConstant, platform.ErrAuthentication, listError)
			}
			return nil, listError
		}

		client.logger.Debug(repositoryPageMessageConstant, zap.Int(logFieldPageConstant, listOptions.Page), zap.Int(logFieldCountConstant, len(pageRepositories)))

		for _, repository := range pageRepositories {
			if repository == nil || repository.GetArchived() || repository.GetDisabled() {
				continue
			}
			if !ownerFilter.allows(repository.GetOwner().GetLogin()) {
				continue
			}
			if _, seen := seenRepositoryIdentifiers[repository.GetID()]; seen {
				continue
			}
			seenRepositoryIdentifiers[repository.GetID()] = struct{}{}
			repositories = append(repositories, repository)
		}

		if response == nil || response.NextPage == 0 {
			break
		}
		listOptions.Page = response.NextPage
	}

	sort.SliceStable(repositories, func(leftIndex int, rightIndex int) bool {
		return repositories[leftIndex].GetUpdatedAt().Time.After(repositories[rightIndex].GetUpdatedAt().Time)
	})

	targets := make([]platform.Target, 0, len(repositories))
	for _, repository := range repositories {
		targets = append(targets, repositoryTarget(repository))
	}

	client.logger.Info(repositoriesListedMessageConstant, zap.Int(logFieldCountConstant, len(targets)))
	return targets, nil
}

// DumpTargets returns the target descriptors in a form that can be read back as an explicit list.
func (client *Client) DumpTargets(targets []platform.Target) []map[string]any {
	descriptors := make([]map[string]any, 0, len(targets))
	for _, target := range targets {
		if len(target.Descriptor) > 0 {
			descriptor := make(map[string]any, len(target.Descriptor))
			for key, value := range target.Descriptor {
				descriptor[key] = value
			}
			descriptors = append(descriptors, descriptor)
			continue
		}
		descriptors = append(descriptors, map[string]any{
			descriptorFullNameKeyConstant: target.FullName,
			descriptorHTMLURLKeyConstant:  target.URL,
		})
	}
	return descriptors
}

func repositoryTarget(repository *githubapi.Repository) platform.Target {
	updatedAt := ""
	if repository.UpdatedAt != nil {
		updatedAt = repository.GetUpdatedAt().UTC().Format(time.RFC3339)
	}
	return platform.Target{
		ID:       strconv.FormatInt(repository.GetID(), 10),
		FullName: repository.GetFullName(),
		URL:      repository.GetHTMLURL(),
		Descriptor: map[string]any{
			descriptorFullNameKeyConstant:    repository.GetFullName(),
			descriptorHTMLURLKeyConstant:     repository.GetHTMLURL(),
			descriptorDescriptionKeyConstant: repository.GetDescription(),
			descriptorUpdatedAtKeyConstant:   updatedAt,
		},
	}
}

// requestContext disables go-github's own pre-emptive rate limit check so that the
// shared gate is the single authority on throttling.
func requestContext(parentContext context.Context) context.Context {
	return context.WithValue(parentContext, githubapi.BypassRateLimitCheck, true)
}

func (client *Client) classifyError(operation string, requestError error) error {
	if requestError == nil {
		return nil
	}
	if errors.Is(requestError, context.Canceled) || errors.Is(requestError, context.DeadlineExceeded) {
		return requestError
	}

	var primaryRateLimitError *githubapi.RateLimitError
	if errors.As(requestError, &primaryRateLimitError) {
		resumeAt := primaryRateLimitError.Rate.Reset.Time
		if resumeAt.IsZero() {
			resumeAt = client.clock().Add(defaultPrimaryRateLimitWaitConstant)
		}
		return &ratelimit.Signal{ResumeAt: resumeAt}
	}

	var secondaryRateLimitError *githubapi.AbuseRateLimitError
	if errors.As(requestError, &secondaryRateLimitError) {
		waitDuration := defaultSecondaryRateLimitWaitConstant
		if secondaryRateLimitError.RetryAfter != nil {
			waitDuration = *secondaryRateLimitError.RetryAfter
		}
		return &ratelimit.Signal{ResumeAt: client.clock().Add(waitDuration)}
	}

	var responseError *githubapi.ErrorResponse
	if errors.As(requestError, &responseError) && responseError.Response != nil {
		statusCode := responseError.Response.StatusCode
		switch {
		case statusCode == http.StatusUnauthorized:
			return fmt.Errorf(authenticationFailureTemplateConstant, operation, platform.ErrAuthentication, requestError)
		case statusCode == http.StatusNotFound:
			return fmt.Errorf(operationFailureTemplateConstant, operation, platform.ErrTargetNotFound)
		case statusCode == http.StatusForbidden:
			return fmt.Errorf(operationFailureTemplateConstant, operation, platform.ErrAccessDenied)
		case statusCode >= http.StatusInternalServerError:
			return &platform.TransientError{Operation: operation, Cause: requestError}
		default:
			return fmt.Errorf(operationFailureTemplateConstant, operation, requestError)
		}
	}

	return &platform.TransientError{Operation: operation, Cause: requestError}
}

type namespaceFilter map[string]struct{}

func newNamespaceFilter(namespaces []string) namespaceFilter {
	filter := make(namespaceFilter, len(namespaces))
	for _, namespace := range namespaces {
		filter[strings.ToLower(namespace)] = struct{}{}
	}
	return filter
}

func (filter namespaceFilter) allows(ownerLogin string) bool {
	if len(filter) == 0 {
		return true
	}
	_, allowed := filter[strings.ToLower(ownerLogin)]
	return allowed
}
