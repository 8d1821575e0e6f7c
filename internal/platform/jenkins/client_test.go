package jenkins_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nickorefice/github-build-auditor/internal/platform"
	"github.com/nickorefice/github-build-auditor/internal/platform/jenkins"
	"github.com/nickorefice/github-build-auditor/internal/platform/ratelimit"
	"github.com/nickorefice/github-build-auditor/internal/steps"
)

const (
	testJenkinsSubtestTemplateConstant = "%d_%s"
	testRootJobsPathConstant           = "/api/json"
	testDeployBuildsPathConstant       = "/job/deploy/api/json"
	testDeployDescribeTemplateConstant = "/job/deploy/%d/wfapi/describe"
	testUserConstant                   = "auditor"
	testTokenConstant                  = "jenkins-token"
	testSkippedAgentConstant           = "mac-mini"
	testFirstRangeConstant             = "{0,2}"
	testHistoryJobPathConstant         = "/job/release/job/history/"
	testHistoryBuildCountConstant      = 150
	testBuildsFieldCapConstant         = 100
)

var testReferenceTime = time.Date(2024, time.December, 5, 10, 0, 0, 0, time.UTC)

var treeRangePattern = regexp.MustCompile(`\{(\d+),(\d+)\}$`)

type fakeJenkinsServer struct {
	server *httptest.Server

	mutex              sync.Mutex
	requestCounts      map[string]int
	throttledDescribes map[int]int
	rejectCredentials  bool
}

func (fake *fakeJenkinsServer) record(path string) int {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.requestCounts[path]++
	return fake.requestCounts[path]
}

func (fake *fakeJenkinsServer) count(path string) int {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return fake.requestCounts[path]
}

func writeJSON(responseWriter http.ResponseWriter, payload any) {
	responseWriter.Header().Set("Content-Type", "application/json")
	encodeError := json.NewEncoder(responseWriter).Encode(payload)
	if encodeError != nil {
		http.Error(responseWriter, encodeError.Error(), http.StatusInternalServerError)
	}
}

func newFakeJenkinsServer(testInstance *testing.T) *fakeJenkinsServer {
	fake := &fakeJenkinsServer{requestCounts: make(map[string]int), throttledDescribes: make(map[int]int)}
	mux := http.NewServeMux()

	authorized := func(request *http.Request) bool {
		user, token, present := request.BasicAuth()
		return present && user == testUserConstant && token == testTokenConstant && !fake.rejectCredentials
	}

	mux.HandleFunc(testRootJobsPathConstant, func(responseWriter http.ResponseWriter, request *http.Request) {
		fake.record(request.URL.Path)
		if !authorized(request) {
			responseWriter.WriteHeader(http.StatusUnauthorized)
			return
		}
		if strings.HasSuffix(request.URL.Query().Get("tree"), testFirstRangeConstant) {
			writeJSON(responseWriter, map[string]any{"jobs": []map[string]any{
				{"name": "deploy", "url": fake.server.URL + "/job/deploy/"},
				{"name": "build-image", "url": fake.server.URL + "/job/build-image"},
			}})
			return
		}
		writeJSON(responseWriter, map[string]any{"jobs": []map[string]any{
			{"name": "deploy", "url": fake.server.URL + "/job/deploy/"},
		}})
	})

	mux.HandleFunc(testDeployBuildsPathConstant, func(responseWriter http.ResponseWriter, request *http.Request) {
		fake.record(request.URL.Path)
		if !authorized(request) {
			responseWriter.WriteHeader(http.StatusUnauthorized)
			return
		}
		if strings.HasSuffix(request.URL.Query().Get("tree"), testFirstRangeConstant) {
			writeJSON(responseWriter, map[string]any{
				"labelExpression": "linux && !arm",
				"allBuilds": []map[string]any{
					{"number": 12, "result": "SUCCESS", "builtOn": "agent-1"},
					{"number": 11, "result": "SUCCESS", "builtOn": testSkippedAgentConstant},
				},
			})
			return
		}
		writeJSON(responseWriter, map[string]any{
			"labelExpression": "linux && !arm",
			"allBuilds": []map[string]any{
				{"number": 10, "result": "SUCCESS", "builtOn": "agent-2"},
			},
		})
	})

	startMillis := testReferenceTime.Add(-time.Hour).UnixMilli()
	mux.HandleFunc(fmt.Sprintf(testDeployDescribeTemplateConstant, 12), func(responseWriter http.ResponseWriter, request *http.Request) {
		attempt := fake.record(request.URL.Path)
		if attempt <= fake.throttledDescribes[12] {
			responseWriter.Header().Set("Retry-After", "30")
			responseWriter.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(responseWriter, map[string]any{
			"id":     "12",
			"status": "IN_PROGRESS",
			"stages": []map[string]any{
				{"name": "Checkout", "status": "SUCCESS", "startTimeMillis": startMillis, "durationMillis": 3000, "queueDurationMillis": 500},
				{"name": "Build", "status": "FAILED", "startTimeMillis": startMillis + 3500, "durationMillis": 10000},
				{"name": "Deploy", "status": "IN_PROGRESS", "startTimeMillis": startMillis + 13500, "durationMillis": 2000},
				{"name": "Publish", "status": "NOT_EXECUTED"},
			},
		})
	})
	mux.HandleFunc(fmt.Sprintf(testDeployDescribeTemplateConstant, 11), func(responseWriter http.ResponseWriter, request *http.Request) {
		fake.record(request.URL.Path)
		writeJSON(responseWriter, map[string]any{"stages": []map[string]any{}})
	})
	mux.HandleFunc(fmt.Sprintf(testDeployDescribeTemplateConstant, 10), func(responseWriter http.ResponseWriter, request *http.Request) {
		fake.record(request.URL.Path)
		responseWriter.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc(testHistoryJobPathConstant, func(responseWriter http.ResponseWriter, request *http.Request) {
		fake.record(request.URL.Path)
		relativePath := strings.TrimPrefix(request.URL.Path, testHistoryJobPathConstant)
		if relativePath == "api/json" {
			writeJSON(responseWriter, historyBuildsPage(request.URL.Query().Get("tree")))
			return
		}
		if strings.HasSuffix(relativePath, "/wfapi/describe") {
			writeJSON(responseWriter, map[string]any{"stages": []map[string]any{
				{"name": "Build", "status": "SUCCESS", "startTimeMillis": startMillis, "durationMillis": 1000},
			}})
			return
		}
		responseWriter.WriteHeader(http.StatusNotFound)
	})

	fake.server = httptest.NewServer(mux)
	testInstance.Cleanup(fake.server.Close)
	return fake
}

// historyBuildsPage mimics Jenkins: builds holds only the newest 100 entries while
// allBuilds spans the whole history. Both honour the {from,to} range of the tree.
func historyBuildsPage(tree string) map[string]any {
	fieldName := "builds"
	available := testBuildsFieldCapConstant
	if strings.Contains(tree, "allBuilds[") {
		fieldName = "allBuilds"
		available = testHistoryBuildCountConstant
	}

	rangeStart, rangeEnd := 0, available
	if match := treeRangePattern.FindStringSubmatch(tree); match != nil {
		rangeStart, _ = strconv.Atoi(match[1])
		rangeEnd, _ = strconv.Atoi(match[2])
	}
	rangeEnd = min(rangeEnd, available)

	builds := []map[string]any{}
	for buildIndex := rangeStart; buildIndex < rangeEnd; buildIndex++ {
		builds = append(builds, map[string]any{"number": testHistoryBuildCountConstant - buildIndex, "result": "SUCCESS", "builtOn": "agent-1"})
	}
	return map[string]any{"labelExpression": "linux", fieldName: builds}
}

// steppingClock only moves forward when a sleeper advances it.
type steppingClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (clock *steppingClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.now
}

func (clock *steppingClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.now = clock.now.Add(duration)
}

type recordingSleeper struct {
	mutex     sync.Mutex
	clock     *steppingClock
	durations []time.Duration
}

func (sleeper *recordingSleeper) Sleep(executionContext context.Context, duration time.Duration) error {
	sleeper.mutex.Lock()
	defer sleeper.mutex.Unlock()
	sleeper.durations = append(sleeper.durations, duration)
	if sleeper.clock != nil {
		sleeper.clock.Advance(duration)
	}
	return nil
}

func newTestClient(testInstance *testing.T, fake *fakeJenkinsServer, sleeper *recordingSleeper) *jenkins.Client {
	return newTestClientWithPageSize(testInstance, fake, sleeper, 2)
}

func newTestClientWithPageSize(testInstance *testing.T, fake *fakeJenkinsServer, sleeper *recordingSleeper, pageSize int) *jenkins.Client {
	if sleeper == nil {
		sleeper = &recordingSleeper{}
	}
	if sleeper.clock == nil {
		sleeper.clock = &steppingClock{now: testReferenceTime}
	}
	clock := sleeper.clock.Now
	client, clientError := jenkins.NewClient(
		jenkins.Configuration{BaseURL: fake.server.URL, PageSize: pageSize},
		jenkins.Dependencies{
			User:       testUserConstant,
			Token:      testTokenConstant,
			HTTPClient: fake.server.Client(),
			Gate:       ratelimit.NewGate(clock, sleeper.Sleep, nil),
			Clock:      clock,
		},
	)
	require.NoError(testInstance, clientError)
	return client
}

func collectDeploy(testInstance *testing.T, client *jenkins.Client, options platform.FetchOptions) ([]steps.Record, steps.Statistics) {
	stream := client.FetchSteps(context.Background(), platform.NewNamedTarget("deploy"), options)
	records, collectError := steps.Collect(context.Background(), stream)
	require.NoError(testInstance, collectError)
	return records, stream.Statistics()
}

func TestNewClientRequiresBaseURL(testInstance *testing.T) {
	_, clientError := jenkins.NewClient(jenkins.Configuration{}, jenkins.Dependencies{})
	require.ErrorIs(testInstance, clientError, jenkins.ErrMissingBaseURL)
}

func TestEnumerateTargetsPaginatesAndDeduplicates(testInstance *testing.T) {
	fake := newFakeJenkinsServer(testInstance)
	client := newTestClient(testInstance, fake, nil)

	targets, enumerationError := client.EnumerateTargets(context.Background(), nil)
	require.NoError(testInstance, enumerationError)
	require.Equal(testInstance, 2, fake.count(testRootJobsPathConstant))
	require.Len(testInstance, targets, 2)
	require.Equal(testInstance, "deploy", targets[0].FullName)
	require.Equal(testInstance, "build-image", targets[1].FullName)
	require.Equal(testInstance, fake.server.URL+"/job/build-image/", targets[1].URL)

	dumped := client.DumpTargets(targets)
	require.Equal(testInstance, map[string]any{"name": "deploy", "url": fake.server.URL + "/job/deploy/"}, dumped[0])
}

func TestEnumerateTargetsExplicitListMakesNoCalls(testInstance *testing.T) {
	fake := newFakeJenkinsServer(testInstance)
	client := newTestClient(testInstance, fake, nil)

	explicitTargets := []platform.Target{platform.NewNamedTarget("deploy")}
	targets, enumerationError := client.EnumerateTargets(context.Background(), explicitTargets)
	require.NoError(testInstance, enumerationError)
	require.Equal(testInstance, explicitTargets, targets)
	require.Zero(testInstance, fake.count(testRootJobsPathConstant))

	dumped := client.DumpTargets(targets)
	require.Equal(testInstance, fake.server.URL+"/job/deploy/", dumped[0]["url"])
}

func TestEnumerateTargetsRejectedCredentials(testInstance *testing.T) {
	fake := newFakeJenkinsServer(testInstance)
	fake.rejectCredentials = true
	client := newTestClient(testInstance, fake, nil)

	_, enumerationError := client.EnumerateTargets(context.Background(), nil)
	require.ErrorIs(testInstance, enumerationError, platform.ErrAuthentication)
}

func TestFetchStepsReadsStagesOfEachBuild(testInstance *testing.T) {
	fake := newFakeJenkinsServer(testInstance)
	client := newTestClient(testInstance, fake, nil)

	records, statistics := collectDeploy(testInstance, client, platform.FetchOptions{SkipLabels: []string{testSkippedAgentConstant}})

	require.Len(testInstance, records, 3)
	require.Equal(testInstance, "Checkout", records[0].StepName)
	require.InDelta(testInstance, 3.5, records[0].DurationSeconds, 1e-9)
	require.Equal(testInstance, steps.ConclusionSuccess, records[0].Conclusion)
	require.Equal(testInstance, int64(1), records[0].StepNumberValue())
	require.Equal(testInstance, int64(12), records[0].RunID)
	require.Equal(testInstance, "deploy", records[0].TargetFullName)
	require.Equal(testInstance, fake.server.URL+"/job/deploy/12/", records[0].HTMLURL)

	require.Equal(testInstance, "Build", records[1].StepName)
	require.InDelta(testInstance, 10.0, records[1].DurationSeconds, 1e-9)
	require.Equal(testInstance, steps.ConclusionFailure, records[1].Conclusion)
	require.True(testInstance, records[1].Terminal())

	require.Equal(testInstance, steps.StatusInProgress, records[2].Status)
	require.False(testInstance, records[2].Terminal())

	require.Zero(testInstance, fake.count(fmt.Sprintf(testDeployDescribeTemplateConstant, 11)))
	require.Equal(testInstance, 1, fake.count(fmt.Sprintf(testDeployDescribeTemplateConstant, 10)))
	require.Equal(testInstance, 2, fake.count(testDeployBuildsPathConstant))

	require.Equal(testInstance, 1, statistics.JobsAssessed)
	require.Equal(testInstance, 1, statistics.JobsSkippedByLabel)
	require.Equal(testInstance, 1, statistics.ExpiredRuns)
	require.Equal(testInstance, 4, statistics.StepsAssessed)
	require.Equal(testInstance, 1, statistics.StepsExcluded)
}

func TestFetchStepsSkipsBuildsByJobLabelExpression(testInstance *testing.T) {
	testCases := []struct {
		name               string
		skipLabels         []string
		expectedRecords    int
		expectedSkipped    int
		expectedDescribe12 int
	}{
		{name: "positive_label", skipLabels: []string{"linux"}, expectedRecords: 0, expectedSkipped: 3, expectedDescribe12: 0},
		{name: "negated_label", skipLabels: []string{"arm"}, expectedRecords: 3, expectedSkipped: 0, expectedDescribe12: 1},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testJenkinsSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			fake := newFakeJenkinsServer(testInstance)
			client := newTestClient(testInstance, fake, nil)

			records, statistics := collectDeploy(testInstance, client, platform.FetchOptions{SkipLabels: testCase.skipLabels})
			require.Len(testInstance, records, testCase.expectedRecords)
			require.Equal(testInstance, testCase.expectedSkipped, statistics.JobsSkippedByLabel)
			require.Equal(testInstance, testCase.expectedDescribe12, fake.count(fmt.Sprintf(testDeployDescribeTemplateConstant, 12)))
		})
	}
}

func TestFetchStepsIgnoresSince(testInstance *testing.T) {
	fake := newFakeJenkinsServer(testInstance)
	client := newTestClient(testInstance, fake, nil)

	withoutSince, _ := collectDeploy(testInstance, client, platform.FetchOptions{})
	withFutureSince, _ := collectDeploy(testInstance, client, platform.FetchOptions{Since: testReferenceTime.AddDate(1, 0, 0)})
	require.Equal(testInstance, withoutSince, withFutureSince)
}

func TestFetchStepsWaitsOutRateLimit(testInstance *testing.T) {
	baseline := newFakeJenkinsServer(testInstance)
	expectedRecords, _ := collectDeploy(testInstance, newTestClient(testInstance, baseline, nil), platform.FetchOptions{})

	throttled := newFakeJenkinsServer(testInstance)
	throttled.throttledDescribes[12] = 1
	sleeper := &recordingSleeper{}
	records, _ := collectDeploy(testInstance, newTestClient(testInstance, throttled, sleeper), platform.FetchOptions{})

	require.Equal(testInstance, []time.Duration{30 * time.Second}, sleeper.durations)
	require.Len(testInstance, records, len(expectedRecords))
	for recordIndex := range records {
		require.Equal(testInstance, expectedRecords[recordIndex].StepName, records[recordIndex].StepName)
		require.Equal(testInstance, expectedRecords[recordIndex].DurationSeconds, records[recordIndex].DurationSeconds)
	}
}

func TestFetchStepsRepeatedRateLimitFailsTarget(testInstance *testing.T) {
	fake := newFakeJenkinsServer(testInstance)
	fake.throttledDescribes[12] = 5
	client := newTestClient(testInstance, fake, nil)

	stream := client.FetchSteps(context.Background(), platform.NewNamedTarget("deploy"), platform.FetchOptions{})
	_, collectError := steps.Collect(context.Background(), stream)

	var rateLimitError *platform.RateLimitExceededError
	require.ErrorAs(testInstance, collectError, &rateLimitError)
	var targetError *platform.TargetError
	require.ErrorAs(testInstance, collectError, &targetError)
	require.Equal(testInstance, "deploy", targetError.Target)
}

func TestFetchStepsPagesThroughWholeBuildHistory(testInstance *testing.T) {
	fake := newFakeJenkinsServer(testInstance)
	client := newTestClientWithPageSize(testInstance, fake, nil, testBuildsFieldCapConstant)

	stream := client.FetchSteps(context.Background(), platform.NewNamedTarget("release/history"), platform.FetchOptions{})
	records, collectError := steps.Collect(context.Background(), stream)
	require.NoError(testInstance, collectError)

	require.Len(testInstance, records, testHistoryBuildCountConstant)
	require.Equal(testInstance, testHistoryBuildCountConstant, stream.Statistics().JobsAssessed)
	require.Equal(testInstance, 2, fake.count(testHistoryJobPathConstant+"api/json"))

	buildNumbers := make(map[int64]struct{}, len(records))
	for _, record := range records {
		buildNumbers[record.RunID] = struct{}{}
	}
	require.Len(testInstance, buildNumbers, testHistoryBuildCountConstant)
	require.Contains(testInstance, buildNumbers, int64(1))
}

func TestFetchStepsAddressesFolderJobs(testInstance *testing.T) {
	testCases := []struct {
		name       string
		targetName string
	}{
		{name: "folder_path", targetName: "release/history"},
		{name: "surrounding_separators", targetName: " /release/history/ "},
		{name: "doubled_separator", targetName: "release//history"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testJenkinsSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			fake := newFakeJenkinsServer(testInstance)
			client := newTestClientWithPageSize(testInstance, fake, nil, 200)

			stream := client.FetchSteps(context.Background(), platform.NewNamedTarget(testCase.targetName), platform.FetchOptions{})
			records, collectError := steps.Collect(context.Background(), stream)
			require.NoError(testInstance, collectError)
			require.Len(testInstance, records, testHistoryBuildCountConstant)
			require.Contains(testInstance, records[0].HTMLURL, testHistoryJobPathConstant)
		})
	}
}

func TestFetchStepsRejectsEmptyTarget(testInstance *testing.T) {
	fake := newFakeJenkinsServer(testInstance)
	client := newTestClient(testInstance, fake, nil)

	stream := client.FetchSteps(context.Background(), platform.Target{}, platform.FetchOptions{})
	require.False(testInstance, stream.Next(context.Background()))
	require.ErrorIs(testInstance, stream.Err(), platform.ErrInvalidTarget)
}
