package jenkins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/nickorefice/github-build-auditor/internal/platform"
	"github.com/nickorefice/github-build-auditor/internal/platform/ratelimit"
)

const (
	apiJSONPathConstant                   = "api/json"
	jobPathSegmentConstant                = "job/"
	jobNameSeparatorConstant              = "/"
	treeQueryParameterConstant            = "tree"
	jobsTreeTemplateConstant              = "jobs[name,url]{%d,%d}"
	acceptHeaderConstant                  = "Accept"
	jsonMediaTypeConstant                 = "application/json"
	retryAfterHeaderConstant              = "Retry-After"
	listJobsOperationConstant             = "list jobs"
	missingBaseURLMessageConstant         = "jenkins base URL must be provided"
	malformedPayloadTemplateConstant      = "%s: malformed JSON payload"
	unexpectedStatusTemplateConstant      = "%s: unexpected status %d"
	operationFailureTemplateConstant      = "%s: %w"
	authenticationFailureTemplateConstant = "%s: %w: %v"
	defaultRateLimitWaitConstant          = time.Minute
	jobsListedMessageConstant             = "jobs enumerated"
	logFieldCountConstant                 = "count"
	descriptorNameKeyConstant             = "name"
	descriptorURLKeyConstant              = "url"
)

// ErrMissingBaseURL indicates the Jenkins client was configured without a server URL.
var ErrMissingBaseURL = errors.New(missingBaseURLMessageConstant)

// Dependencies carries the collaborators shared by the Jenkins client.
type Dependencies struct {
	User       string
	Token      string
	HTTPClient *http.Client
	Gate       *ratelimit.Gate
	Logger     *zap.Logger
	Clock      ratelimit.Clock
}

// Client audits Jenkins pipeline builds through the JSON and wfapi endpoints.
type Client struct {
	httpClient    *http.Client
	configuration Configuration
	user          string
	token         string
	gate          *ratelimit.Gate
	logger        *zap.Logger
	clock         ratelimit.Clock
}

// NewClient constructs a Jenkins client.
func NewClient(configuration Configuration, dependencies Dependencies) (*Client, error) {
	sanitized := configuration.Sanitize()
	if len(sanitized.BaseURL) == 0 {
		return nil, ErrMissingBaseURL
	}

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
	httpClient := dependencies.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	user := strings.TrimSpace(dependencies.User)
	if len(user) == 0 {
		user = sanitized.User
	}

	return &Client{
		httpClient:    httpClient,
		configuration: sanitized,
		user:          user,
		token:         strings.TrimSpace(dependencies.Token),
		gate:          gate,
		logger:        logger,
		clock:         clock,
	}, nil
}

// Kind identifies the platform served by the client.
func (client *Client) Kind() platform.Kind {
	return platform.KindJenkins
}

// EnumerateTargets lists top-level jobs, or returns the explicit list untouched
// without calling the API.
func (client *Client) EnumerateTargets(executionContext context.Context, explicitTargets []platform.Target) ([]platform.Target, error) {
	if explicitTargets != nil {
		duplicated := make([]platform.Target, len(explicitTargets))
		copy(duplicated, explicitTargets)
		return duplicated, nil
	}

	seenJobURLs := make(map[string]struct{})
	targets := make([]platform.Target, 0)
	pageSize := client.configuration.PageSize

	for rangeStart := 0; ; rangeStart += pageSize {
		requestURL := client.configuration.BaseURL + apiJSONPathConstant + "?" + treeQuery(fmt.Sprintf(jobsTreeTemplateConstant, rangeStart, rangeStart+pageSize))
		payload, requestError := client.getJSON(executionContext, listJobsOperationConstant, requestURL)
		if requestError != nil {
			if errors.Is(requestError, platform.ErrAccessDenied) {
				return nil, fmt.Errorf(authenticationFailureTemplateConstant, listJobsOperationConstant, platform.ErrAuthentication, requestError)
			}
			return nil, requestError
		}

		pageJobs := payload.Get("jobs").Array()
		for _, job := range pageJobs {
			jobName := job.Get("name").String()
			jobURL := normalizeDirectoryURL(job.Get("url").String())
			if len(jobName) == 0 {
				continue
			}
			if len(jobURL) == 0 {
				jobURL = client.jobURL(jobName)
			}
			if _, seen := seenJobURLs[jobURL]; seen {
				continue
			}
			seenJobURLs[jobURL] = struct{}{}
			targets = append(targets, platform.Target{
				ID:       jobURL,
				FullName: jobName,
				URL:      jobURL,
				Descriptor: map[string]any{
					descriptorNameKeyConstant: jobName,
					descriptorURLKeyConstant:  jobURL,
				},
			})
		}

		if len(pageJobs) < pageSize {
			break
		}
	}

	client.logger.Info(jobsListedMessageConstant, zap.Int(logFieldCountConstant, len(targets)))
	return targets, nil
}

// DumpTargets returns name and url descriptors that can be read back as an explicit list.
func (client *Client) DumpTargets(targets []platform.Target) []map[string]any {
	descriptors := make([]map[string]any, 0, len(targets))
	for _, target := range targets {
		descriptors = append(descriptors, map[string]any{
			descriptorNameKeyConstant: target.FullName,
			descriptorURLKeyConstant:  client.targetURL(target),
		})
	}
	return descriptors
}

func (client *Client) targetURL(target platform.Target) string {
	if normalizedURL := normalizeDirectoryURL(target.URL); len(normalizedURL) > 0 {
		return normalizedURL
	}
	return client.jobURL(target.FullName)
}

// jobURL addresses a job by name. Folder jobs written as "folder/app" become
// job/folder/job/app/.
func (client *Client) jobURL(jobName string) string {
	var builder strings.Builder
	builder.WriteString(client.configuration.BaseURL)
	for _, segment := range strings.Split(strings.Trim(strings.TrimSpace(jobName), jobNameSeparatorConstant), jobNameSeparatorConstant) {
		trimmedSegment := strings.TrimSpace(segment)
		if len(trimmedSegment) == 0 {
			continue
		}
		builder.WriteString(jobPathSegmentConstant)
		builder.WriteString(url.PathEscape(trimmedSegment))
		builder.WriteString(jobNameSeparatorConstant)
	}
	return builder.String()
}

func treeQuery(tree string) string {
	return url.Values{treeQueryParameterConstant: []string{tree}}.Encode()
}

func (client *Client) getJSON(executionContext context.Context, operation string, requestURL string) (gjson.Result, error) {
	var payload []byte
	executionError := client.gate.Execute(executionContext, operation, func(attemptContext context.Context) error {
		request, requestError := http.NewRequestWithContext(attemptContext, http.MethodGet, requestURL, nil)
		if requestError != nil {
			return fmt.Errorf(operationFailureTemplateConstant, operation, requestError)
		}
		request.Header.Set(acceptHeaderConstant, jsonMediaTypeConstant)
		if len(client.user) > 0 || len(client.token) > 0 {
			request.SetBasicAuth(client.user, client.token)
		}

		response, responseError := client.httpClient.Do(request)
		if responseError != nil {
			if contextError := attemptContext.Err(); contextError != nil {
				return contextError
			}
			return &platform.TransientError{Operation: operation, Cause: responseError}
		}
		defer response.Body.Close()

		body, readError := io.ReadAll(response.Body)
		if readError != nil {
			return &platform.TransientError{Operation: operation, Cause: readError}
		}

		if statusError := client.classifyStatus(operation, response); statusError != nil {
			return statusError
		}
		payload = body
		return nil
	})
	if executionError != nil {
		return gjson.Result{}, executionError
	}

	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, fmt.Errorf(malformedPayloadTemplateConstant, operation)
	}
	return gjson.ParseBytes(payload), nil
}

func (client *Client) classifyStatus(operation string, response *http.Response) error {
	statusCode := response.StatusCode
	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return nil
	case statusCode == http.StatusUnauthorized:
		return fmt.Errorf(authenticationFailureTemplateConstant, operation, platform.ErrAuthentication, http.StatusText(statusCode))
	case statusCode == http.StatusForbidden:
		return fmt.Errorf(operationFailureTemplateConstant, operation, platform.ErrAccessDenied)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf(operationFailureTemplateConstant, operation, platform.ErrTargetNotFound)
	case statusCode == http.StatusTooManyRequests:
		return &ratelimit.Signal{ResumeAt: client.retryAfter(response.Header.Get(retryAfterHeaderConstant))}
	case statusCode == http.StatusServiceUnavailable && len(response.Header.Get(retryAfterHeaderConstant)) > 0:
		return &ratelimit.Signal{ResumeAt: client.retryAfter(response.Header.Get(retryAfterHeaderConstant))}
	case statusCode >= http.StatusInternalServerError:
		return &platform.TransientError{Operation: operation, Cause: fmt.Errorf(unexpectedStatusTemplateConstant, operation, statusCode)}
	default:
		return fmt.Errorf(unexpectedStatusTemplateConstant, operation, statusCode)
	}
}

// retryAfter interprets a Retry-After header given in seconds or as an HTTP date.
func (client *Client) retryAfter(headerValue string) time.Time {
	now := client.clock()
	trimmedValue := strings.TrimSpace(headerValue)
	if seconds, parseError := strconv.Atoi(trimmedValue); parseError == nil && seconds >= 0 {
		return now.Add(time.Duration(seconds) * time.Second)
	}
	if retryDate, parseError := http.ParseTime(trimmedValue); parseError == nil {
		return retryDate
	}
	return now.Add(defaultRateLimitWaitConstant)
}
