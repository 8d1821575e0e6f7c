// Package utils holds the configuration and logging plumbing shared by the
// build-auditor commands.
//
// ConfigurationLoader layers embedded defaults, an optional YAML file, and
// BUILDAUDITOR_ prefixed environment variables through Viper. LoggerFactory
// builds zap loggers in structured or console form.
package utils
