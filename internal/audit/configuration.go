package audit

import "strings"

const (
	defaultConcurrencyConstant     = 4
	defaultOutputDirectoryConstant = "."
)

// CommandConfiguration captures persistent settings shared by the audit commands.
type CommandConfiguration struct {
	Since           string   `mapstructure:"since"`
	SkipLabels      []string `mapstructure:"skip_labels"`
	FilterDuration  *float64 `mapstructure:"filter_duration"`
	ForceContinue   bool     `mapstructure:"force_continue"`
	FailurePolicy   string   `mapstructure:"failure_policy"`
	StepNamesFile   string   `mapstructure:"step_names_file"`
	ReposFile       string   `mapstructure:"repos_file"`
	DumpRepos       bool     `mapstructure:"dump_repos"`
	MonthlySummary  bool     `mapstructure:"monthly_summary"`
	UniqueSteps     bool     `mapstructure:"unique_steps"`
	StepAverages    bool     `mapstructure:"step_averages"`
	OutputDirectory string   `mapstructure:"output_directory"`
	Concurrency     int      `mapstructure:"concurrency"`
}

// DefaultCommandConfiguration returns baseline configuration values for the audit commands.
func DefaultCommandConfiguration() CommandConfiguration {
	return CommandConfiguration{
		FailurePolicy:   string(FailurePolicyAbort),
		OutputDirectory: defaultOutputDirectoryConstant,
		Concurrency:     defaultConcurrencyConstant,
	}
}

// DefaultConfigurationValues exposes defaults keyed for the configuration loader.
func DefaultConfigurationValues(prefix string) map[string]any {
	defaults := DefaultCommandConfiguration()
	return map[string]any{
		prefix + ".failure_policy":   defaults.FailurePolicy,
		prefix + ".output_directory": defaults.OutputDirectory,
		prefix + ".concurrency":      defaults.Concurrency,
	}
}

// Sanitize trims whitespace and applies defaults to unset configuration values.
// force_continue is the legacy spelling of the skip policy.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	sanitized := configuration

	sanitized.Since = strings.TrimSpace(configuration.Since)
	sanitized.SkipLabels = sanitizeValues(configuration.SkipLabels)
	sanitized.StepNamesFile = strings.TrimSpace(configuration.StepNamesFile)
	sanitized.ReposFile = strings.TrimSpace(configuration.ReposFile)
	sanitized.OutputDirectory = strings.TrimSpace(configuration.OutputDirectory)
	if len(sanitized.OutputDirectory) == 0 {
		sanitized.OutputDirectory = defaultOutputDirectoryConstant
	}
	sanitized.FailurePolicy = strings.ToLower(strings.TrimSpace(configuration.FailurePolicy))
	if configuration.ForceContinue {
		sanitized.FailurePolicy = string(FailurePolicySkip)
	}
	if sanitized.Concurrency <= 0 {
		sanitized.Concurrency = defaultConcurrencyConstant
	}

	return sanitized
}

func sanitizeValues(raw []string) []string {
	sanitized := make([]string, 0, len(raw))
	for index := range raw {
		trimmed := strings.TrimSpace(raw[index])
		if len(trimmed) == 0 {
			continue
		}
		sanitized = append(sanitized, trimmed)
	}
	return sanitized
}
