package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	defaultMaxAttemptsConstant = 3
	defaultMinBackoffConstant  = 500 * time.Millisecond
	defaultMaxBackoffConstant  = 10 * time.Second
	defaultTimeoutConstant     = 60 * time.Second
	retryAfterHeaderConstant   = "Retry-After"
)

// Configuration bounds the retry behaviour of the HTTP client.
type Configuration struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinBackoff  time.Duration `mapstructure:"min_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DefaultConfiguration returns three attempts with exponential backoff between 500ms and 10s.
func DefaultConfiguration() Configuration {
	return Configuration{
		MaxAttempts: defaultMaxAttemptsConstant,
		MinBackoff:  defaultMinBackoffConstant,
		MaxBackoff:  defaultMaxBackoffConstant,
		Timeout:     defaultTimeoutConstant,
	}
}

// Sanitize replaces unusable values with defaults.
func (configuration Configuration) Sanitize() Configuration {
	defaults := DefaultConfiguration()
	sanitized := configuration
	if sanitized.MaxAttempts < 1 {
		sanitized.MaxAttempts = defaults.MaxAttempts
	}
	if sanitized.MinBackoff <= 0 {
		sanitized.MinBackoff = defaults.MinBackoff
	}
	if sanitized.MaxBackoff < sanitized.MinBackoff {
		sanitized.MaxBackoff = sanitized.MinBackoff
	}
	if sanitized.Timeout <= 0 {
		sanitized.Timeout = defaults.Timeout
	}
	return sanitized
}

// NewHTTPClient builds a standard *http.Client that transparently retries transient
// failures. Rate limit responses are returned to the caller untouched so the
// shared gate can handle them.
func NewHTTPClient(configuration Configuration, logger *zap.Logger) *http.Client {
	sanitized := configuration.Sanitize()

	retryingClient := retryablehttp.NewClient()
	retryingClient.RetryMax = sanitized.MaxAttempts - 1
	retryingClient.RetryWaitMin = sanitized.MinBackoff
	retryingClient.RetryWaitMax = sanitized.MaxBackoff
	retryingClient.CheckRetry = CheckRetry
	retryingClient.Backoff = retryablehttp.DefaultBackoff
	retryingClient.Logger = NewLeveledLogger(logger)
	retryingClient.HTTPClient.Timeout = sanitized.Timeout

	return retryingClient.StandardClient()
}

// CheckRetry retries network errors and 5xx responses other than 501. Throttling
// responses (429, or 503 carrying Retry-After) are not retried here.
func CheckRetry(executionContext context.Context, response *http.Response, requestError error) (bool, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return false, contextError
	}
	if requestError != nil {
		return retryablehttp.DefaultRetryPolicy(executionContext, response, requestError)
	}
	if response == nil {
		return false, nil
	}
	if response.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	if response.StatusCode == http.StatusServiceUnavailable && len(response.Header.Get(retryAfterHeaderConstant)) > 0 {
		return false, nil
	}
	if response.StatusCode == 0 || (response.StatusCode >= http.StatusInternalServerError && response.StatusCode != http.StatusNotImplemented) {
		return true, nil
	}
	return false, nil
}
