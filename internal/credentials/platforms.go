package credentials

import (
	"errors"
	"fmt"
	"strings"
)

// Environment variable names consulted for platform credentials.
const (
	EnvGitHubCLIToken = "GH_TOKEN"
	EnvGitHubToken    = "GITHUB_TOKEN"
	EnvGitHubAPIToken = "GITHUB_API_TOKEN"
	EnvJenkinsURL     = "JENKINS_URL"
	EnvJenkinsUser    = "JENKINS_USER"
	EnvJenkinsToken   = "JENKINS_TOKEN"
)

const (
	missingGitHubTokenMessageConstant   = "GitHub token not found; set GH_TOKEN, GITHUB_TOKEN, or GITHUB_API_TOKEN"
	missingJenkinsURLMessageConstant    = "Jenkins URL not found; set JENKINS_URL or jenkins.base_url"
	jenkinsTokenFailureTemplateConstant = "resolve Jenkins token: %w"
	githubTokenFailureTemplateConstant  = "resolve GitHub token: %w"
)

var (
	// ErrMissingGitHubToken indicates that no GitHub token could be located.
	ErrMissingGitHubToken = errors.New(missingGitHubTokenMessageConstant)
	// ErrMissingJenkinsURL indicates that no Jenkins server URL could be located.
	ErrMissingJenkinsURL = errors.New(missingJenkinsURLMessageConstant)
)

var githubTokenPreference = []string{
	EnvGitHubCLIToken,
	EnvGitHubToken,
	EnvGitHubAPIToken,
}

// GitHubToken resolves the token from an explicit source, or from the first
// non-empty variable of the GitHub preference chain when the source is empty.
func (resolver *Resolver) GitHubToken(sourceValue string) (string, error) {
	if len(strings.TrimSpace(sourceValue)) > 0 {
		source, parseError := ParseSource(sourceValue)
		if parseError != nil {
			return "", fmt.Errorf(githubTokenFailureTemplateConstant, parseError)
		}
		token, resolveError := resolver.Resolve(source)
		if resolveError != nil {
			return "", fmt.Errorf(githubTokenFailureTemplateConstant, resolveError)
		}
		return token, nil
	}

	for _, key := range githubTokenPreference {
		if value, found := resolver.lookup(key); found {
			return value, nil
		}
	}
	return "", ErrMissingGitHubToken
}

// JenkinsCredentials holds the server location and basic-auth pair for Jenkins.
type JenkinsCredentials struct {
	BaseURL string
	User    string
	Token   string
}

// JenkinsCredentials merges configured values with JENKINS_URL and JENKINS_USER
// and reads the API token from tokenSource.
func (resolver *Resolver) JenkinsCredentials(baseURL string, user string, tokenSource string) (JenkinsCredentials, error) {
	credentials := JenkinsCredentials{
		BaseURL: strings.TrimSpace(baseURL),
		User:    strings.TrimSpace(user),
	}
	if len(credentials.BaseURL) == 0 {
		credentials.BaseURL, _ = resolver.lookup(EnvJenkinsURL)
	}
	if len(credentials.BaseURL) == 0 {
		return JenkinsCredentials{}, ErrMissingJenkinsURL
	}
	if len(credentials.User) == 0 {
		credentials.User, _ = resolver.lookup(EnvJenkinsUser)
	}

	if len(strings.TrimSpace(tokenSource)) == 0 {
		tokenSource = EnvJenkinsToken
	}
	source, parseError := ParseSource(tokenSource)
	if parseError != nil {
		return JenkinsCredentials{}, fmt.Errorf(jenkinsTokenFailureTemplateConstant, parseError)
	}
	token, resolveError := resolver.Resolve(source)
	if resolveError != nil {
		return JenkinsCredentials{}, fmt.Errorf(jenkinsTokenFailureTemplateConstant, resolveError)
	}
	credentials.Token = token
	return credentials, nil
}
