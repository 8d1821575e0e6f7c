package credentials_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nickorefice/github-build-auditor/internal/credentials"
)

const (
	testCredentialsSubtestTemplateConstant = "%d_%s"
	testTokenFilePathConstant              = "/secrets/token"
)

func mapLookup(environment map[string]string) credentials.EnvironmentLookup {
	return func(key string) (string, bool) {
		value, found := environment[key]
		return value, found
	}
}

func staticFileReader(contents map[string]string) credentials.FileReader {
	return func(path string) ([]byte, error) {
		value, found := contents[path]
		if !found {
			return nil, os.ErrNotExist
		}
		return []byte(value), nil
	}
}

func TestParseSource(testInstance *testing.T) {
	testCases := []struct {
		name          string
		value         string
		expected      credentials.Source
		expectedError bool
	}{
		{name: "bare_name", value: "GITHUB_TOKEN", expected: credentials.Source{Type: credentials.SourceTypeEnvironment, Reference: "GITHUB_TOKEN"}},
		{name: "environment", value: " env:CI_TOKEN ", expected: credentials.Source{Type: credentials.SourceTypeEnvironment, Reference: "CI_TOKEN"}},
		{name: "file", value: "FILE:/secrets/token", expected: credentials.Source{Type: credentials.SourceTypeFile, Reference: "/secrets/token"}},
		{name: "empty", value: "  ", expectedError: true},
		{name: "missing_reference", value: "env:", expectedError: true},
		{name: "unsupported", value: "vault:secret", expectedError: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testCredentialsSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			source, parseError := credentials.ParseSource(testCase.value)
			if testCase.expectedError {
				require.Error(testInstance, parseError)
				return
			}
			require.NoError(testInstance, parseError)
			require.Equal(testInstance, testCase.expected, source)
		})
	}
}

func TestGitHubToken(testInstance *testing.T) {
	testCases := []struct {
		name          string
		environment   map[string]string
		files         map[string]string
		source        string
		expectedToken string
		expectedError error
	}{
		{
			name:          "preference_order",
			environment:   map[string]string{credentials.EnvGitHubToken: "second", credentials.EnvGitHubCLIToken: "first"},
			expectedToken: "first",
		},
		{
			name:          "blank_values_skipped",
			environment:   map[string]string{credentials.EnvGitHubCLIToken: "  ", credentials.EnvGitHubAPIToken: " third "},
			expectedToken: "third",
		},
		{
			name:          "explicit_file",
			environment:   map[string]string{credentials.EnvGitHubCLIToken: "ignored"},
			files:         map[string]string{testTokenFilePathConstant: "from-file\n"},
			source:        "file:" + testTokenFilePathConstant,
			expectedToken: "from-file",
		},
		{
			name:          "missing",
			environment:   map[string]string{},
			expectedError: credentials.ErrMissingGitHubToken,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testCredentialsSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			resolver := credentials.NewResolver(mapLookup(testCase.environment), staticFileReader(testCase.files))
			token, tokenError := resolver.GitHubToken(testCase.source)
			if testCase.expectedError != nil {
				require.ErrorIs(testInstance, tokenError, testCase.expectedError)
				return
			}
			require.NoError(testInstance, tokenError)
			require.Equal(testInstance, testCase.expectedToken, token)
		})
	}
}

func TestJenkinsCredentials(testInstance *testing.T) {
	environment := map[string]string{
		credentials.EnvJenkinsURL:   "https://ci.example.test",
		credentials.EnvJenkinsUser:  "auditor",
		credentials.EnvJenkinsToken: "secret",
	}

	testInstance.Run(fmt.Sprintf(testCredentialsSubtestTemplateConstant, 0, "environment_defaults"), func(testInstance *testing.T) {
		resolver := credentials.NewResolver(mapLookup(environment), nil)
		resolved, resolveError := resolver.JenkinsCredentials("", "", "")
		require.NoError(testInstance, resolveError)
		require.Equal(testInstance, credentials.JenkinsCredentials{BaseURL: "https://ci.example.test", User: "auditor", Token: "secret"}, resolved)
	})

	testInstance.Run(fmt.Sprintf(testCredentialsSubtestTemplateConstant, 1, "configured_values_win"), func(testInstance *testing.T) {
		resolver := credentials.NewResolver(mapLookup(environment), staticFileReader(map[string]string{testTokenFilePathConstant: "file-secret"}))
		resolved, resolveError := resolver.JenkinsCredentials("https://jenkins.internal", "robot", "file:"+testTokenFilePathConstant)
		require.NoError(testInstance, resolveError)
		require.Equal(testInstance, credentials.JenkinsCredentials{BaseURL: "https://jenkins.internal", User: "robot", Token: "file-secret"}, resolved)
	})

	testInstance.Run(fmt.Sprintf(testCredentialsSubtestTemplateConstant, 2, "missing_url"), func(testInstance *testing.T) {
		resolver := credentials.NewResolver(mapLookup(map[string]string{}), nil)
		_, resolveError := resolver.JenkinsCredentials("", "", "")
		require.ErrorIs(testInstance, resolveError, credentials.ErrMissingJenkinsURL)
	})

	testInstance.Run(fmt.Sprintf(testCredentialsSubtestTemplateConstant, 3, "missing_token"), func(testInstance *testing.T) {
		resolver := credentials.NewResolver(mapLookup(map[string]string{credentials.EnvJenkinsURL: "https://ci.example.test"}), nil)
		_, resolveError := resolver.JenkinsCredentials("", "", "")
		require.Error(testInstance, resolveError)
	})
}

func TestLoadDotEnv(testInstance *testing.T) {
	const variableName = "BUILD_AUDITOR_DOTENV_TEST"
	temporaryDirectory := testInstance.TempDir()
	dotEnvPath := filepath.Join(temporaryDirectory, credentials.DefaultDotEnvFileName)
	require.NoError(testInstance, os.WriteFile(dotEnvPath, []byte(variableName+"=from-file\n"), 0o600))

	testInstance.Setenv(variableName, "")
	require.NoError(testInstance, os.Unsetenv(variableName))

	loadError := credentials.LoadDotEnv(filepath.Join(temporaryDirectory, "missing.env"), dotEnvPath)
	require.NoError(testInstance, loadError)
	require.Equal(testInstance, "from-file", os.Getenv(variableName))
}
