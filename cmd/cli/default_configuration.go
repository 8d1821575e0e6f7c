package cli

import (
	_ "embed"
	"os"
	"path/filepath"

	"github.com/nickorefice/github-build-auditor/internal/audit"
	githubplatform "github.com/nickorefice/github-build-auditor/internal/platform/github"
	"github.com/nickorefice/github-build-auditor/internal/platform/jenkins"
	"github.com/nickorefice/github-build-auditor/internal/utils"
)

const (
	workingDirectorySearchPathConstant     = "."
	userConfigurationDirectoryNameConstant = "build-auditor"
)

//go:embed default_config.yaml
var defaultConfigurationDocument []byte

// EmbeddedDefaultConfiguration returns a copy of the bundled default_config.yaml and its format.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	return append([]byte(nil), defaultConfigurationDocument...), configurationTypeConstant
}

// configurationDefaultValues returns the lowest-precedence value of every known key.
func configurationDefaultValues() map[string]any {
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:  string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant: string(utils.LogFormatStructured),
	}
	sections := []map[string]any{
		audit.DefaultConfigurationValues(auditConfigurationKeyConstant),
		githubplatform.DefaultConfigurationValues(githubConfigurationKeyConstant),
		jenkins.DefaultConfigurationValues(jenkinsConfigurationKeyConstant),
	}
	for _, section := range sections {
		for configurationKey, configurationValue := range section {
			defaultValues[configurationKey] = configurationValue
		}
	}
	return defaultValues
}

// configurationSearchPaths lists the working directory followed by the per-user
// configuration directory, for example ~/.config/build-auditor on Linux.
func configurationSearchPaths() []string {
	searchPaths := []string{workingDirectorySearchPathConstant}
	userConfigurationDirectory, directoryError := os.UserConfigDir()
	if directoryError != nil {
		return searchPaths
	}
	return append(searchPaths, filepath.Join(userConfigurationDirectory, userConfigurationDirectoryNameConstant))
}
