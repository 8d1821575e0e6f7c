package github

import "strings"

const (
	defaultPageSizeConstant = 100
	maximumPageSizeConstant = 100
)

// Configuration captures the GitHub specific audit settings.
type Configuration struct {
	BaseURL       string   `mapstructure:"base_url"`
	TokenSource   string   `mapstructure:"token_source"`
	WorkflowNames []string `mapstructure:"workflow_names"`
	WorkflowPaths []string `mapstructure:"workflow_paths"`
	Namespaces    []string `mapstructure:"namespaces"`
	PageSize      int      `mapstructure:"page_size"`
}

// DefaultConfiguration returns baseline GitHub settings. An empty token source
// resolves the token from GH_TOKEN, GITHUB_TOKEN, or GITHUB_API_TOKEN.
func DefaultConfiguration() Configuration {
	return Configuration{
		PageSize: defaultPageSizeConstant,
	}
}

// DefaultConfigurationValues exposes defaults keyed for the configuration loader.
func DefaultConfigurationValues(prefix string) map[string]any {
	defaults := DefaultConfiguration()
	return map[string]any{
		prefix + ".page_size": defaults.PageSize,
	}
}

// Sanitize trims values and clamps the page size to what the API accepts.
func (configuration Configuration) Sanitize() Configuration {
	sanitized := configuration
	sanitized.BaseURL = strings.TrimSpace(configuration.BaseURL)
	sanitized.TokenSource = strings.TrimSpace(configuration.TokenSource)
	sanitized.WorkflowNames = sanitizeValues(configuration.WorkflowNames)
	sanitized.WorkflowPaths = sanitizeValues(configuration.WorkflowPaths)
	sanitized.Namespaces = sanitizeValues(configuration.Namespaces)
	if sanitized.PageSize <= 0 {
		sanitized.PageSize = defaultPageSizeConstant
	}
	if sanitized.PageSize > maximumPageSizeConstant {
		sanitized.PageSize = maximumPageSizeConstant
	}
	return sanitized
}

func sanitizeValues(rawValues []string) []string {
	sanitized := make([]string, 0, len(rawValues))
	for _, rawValue := range rawValues {
		trimmedValue := strings.TrimSpace(rawValue)
		if len(trimmedValue) == 0 {
			continue
		}
		sanitized = append(sanitized, trimmedValue)
	}
	if len(sanitized) == 0 {
		return nil
	}
	return sanitized
}
