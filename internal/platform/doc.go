// Package platform declares the contracts shared by the CI/CD platform clients:
// targets, fetch options, the Fetcher and Enumerator interfaces, and the error
// taxonomy the audit orchestrator uses to decide whether a failure is fatal.
//
// Concrete clients live in the github and jenkins subpackages. The ratelimit and
// transport subpackages hold the shared throttling gate and retrying HTTP client.
package platform
