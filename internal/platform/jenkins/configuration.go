package jenkins

import "strings"

const (
	defaultPageSizeConstant    = 100
	defaultTokenSourceConstant = "env:JENKINS_TOKEN"
)

// Configuration captures the Jenkins specific audit settings.
type Configuration struct {
	BaseURL     string `mapstructure:"base_url"`
	User        string `mapstructure:"user"`
	TokenSource string `mapstructure:"token_source"`
	PageSize    int    `mapstructure:"page_size"`
}

// DefaultConfiguration returns baseline Jenkins settings.
func DefaultConfiguration() Configuration {
	return Configuration{
		TokenSource: defaultTokenSourceConstant,
		PageSize:    defaultPageSizeConstant,
	}
}

// DefaultConfigurationValues exposes defaults keyed for the configuration loader.
func DefaultConfigurationValues(prefix string) map[string]any {
	defaults := DefaultConfiguration()
	return map[string]any{
		prefix + ".token_source": defaults.TokenSource,
		prefix + ".page_size":    defaults.PageSize,
	}
}

// Sanitize trims values and normalizes the base URL to end with a slash.
func (configuration Configuration) Sanitize() Configuration {
	sanitized := configuration
	sanitized.BaseURL = normalizeDirectoryURL(configuration.BaseURL)
	sanitized.User = strings.TrimSpace(configuration.User)
	sanitized.TokenSource = strings.TrimSpace(configuration.TokenSource)
	if sanitized.PageSize <= 0 {
		sanitized.PageSize = defaultPageSizeConstant
	}
	return sanitized
}

func normalizeDirectoryURL(rawURL string) string {
	trimmedURL := strings.TrimSpace(rawURL)
	if len(trimmedURL) == 0 {
		return ""
	}
	if !strings.HasSuffix(trimmedURL, "/") {
		trimmedURL += "/"
	}
	return trimmedURL
}
