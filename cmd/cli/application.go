package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nickorefice/github-build-auditor/internal/audit"
	"github.com/nickorefice/github-build-auditor/internal/credentials"
	"github.com/nickorefice/github-build-auditor/internal/platform"
	githubplatform "github.com/nickorefice/github-build-auditor/internal/platform/github"
	"github.com/nickorefice/github-build-auditor/internal/platform/jenkins"
	"github.com/nickorefice/github-build-auditor/internal/platform/ratelimit"
	"github.com/nickorefice/github-build-auditor/internal/platform/transport"
	"github.com/nickorefice/github-build-auditor/internal/utils"
	pathutils "github.com/nickorefice/github-build-auditor/internal/utils/path"
)

const (
	applicationNameConstant                 = "build-auditor"
	applicationShortDescriptionConstant     = "Audit CI/CD step durations on GitHub Actions and Jenkins"
	applicationLongDescriptionConstant      = "build-auditor walks workflow runs or pipeline builds, collects per-step timings, and writes JSON duration reports."
	configFileFlagNameConstant              = "config"
	configFileFlagUsageConstant             = "Optional path to a configuration file (YAML or JSON)."
	logLevelFlagNameConstant                = "log-level"
	logLevelFlagUsageConstant               = "Override the configured log level."
	logFormatFlagNameConstant               = "log-format"
	logFormatFlagUsageConstant              = "Override the configured log format (structured or console)."
	commonConfigurationKeyConstant          = "common"
	commonLogLevelConfigKeyConstant         = commonConfigurationKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant        = commonConfigurationKeyConstant + ".log_format"
	auditConfigurationKeyConstant           = "audit"
	githubConfigurationKeyConstant          = "github"
	jenkinsConfigurationKeyConstant         = "jenkins"
	environmentPrefixConstant               = "BUILDAUDITOR"
	configurationNameConstant               = "config"
	configurationTypeConstant               = "yaml"
	configurationInitializedMessageConstant = "configuration initialized"
	configurationLogLevelFieldConstant      = "log_level"
	configurationLogFormatFieldConstant     = "log_format"
	configurationFileFieldConstant          = "config_file"
	configurationLoadErrorTemplateConstant  = "unable to load configuration: %w"
	dotEnvLoadErrorTemplateConstant         = "unable to load credentials file: %w"
	loggerCreationErrorTemplateConstant     = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant         = "unable to flush logger: %w"
	rootCommandDebugMessageConstant         = "build-auditor CLI diagnostics"
	clientResolvedMessageConstant           = "platform client configured"
	logFieldCommandNameConstant             = "command_name"
	logFieldPlatformConstant                = "platform"
	logFieldBaseURLConstant                 = "base_url"
	loggerNotInitializedMessageConstant     = "logger not initialized"
)

var (
	ignorableSyncErrors = []error{syscall.ENOTSUP, syscall.EINVAL, syscall.ENOTTY}
	interruptSignals    = []os.Signal{os.Interrupt, syscall.SIGTERM}
)

func interruptibleContext(parentContext context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parentContext, interruptSignals...)
}

type commandBuilder interface {
	Build() (*cobra.Command, error)
}

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common  ApplicationCommonConfiguration `mapstructure:"common"`
	Audit   audit.CommandConfiguration     `mapstructure:"audit"`
	Retry   transport.Configuration        `mapstructure:"retry"`
	GitHub  githubplatform.Configuration   `mapstructure:"github"`
	Jenkins jenkins.Configuration          `mapstructure:"jenkins"`
}

// ApplicationCommonConfiguration stores logging configuration shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand           *cobra.Command
	configurationLoader   *utils.ConfigurationLoader
	loggerFactory         *utils.LoggerFactory
	logger                *zap.Logger
	configuration         ApplicationConfiguration
	configurationMetadata utils.LoadedConfiguration
	configurationFilePath string
	logLevelFlagValue     string
	logFormatFlagValue    string
	credentialResolver    *credentials.Resolver
	dotEnvFilePaths       []string
	homeExpander          *pathutils.HomeExpander
}

// NewApplication wires the root command, its persistent flags, and the audit subcommands.
func NewApplication() *Application {
	loader := utils.NewConfigurationLoader(configurationNameConstant, configurationTypeConstant, environmentPrefixConstant, configurationSearchPaths())
	loader.SetEmbeddedConfiguration(EmbeddedDefaultConfiguration())

	application := &Application{
		configurationLoader: loader,
		loggerFactory:       utils.NewLoggerFactory(),
		logger:              zap.NewNop(),
		credentialResolver:  credentials.NewResolver(nil, nil),
		dotEnvFilePaths:     []string{credentials.DefaultDotEnvFileName},
		homeExpander:        pathutils.NewHomeExpander(),
	}
	application.rootCommand = application.newRootCommand()
	for _, builder := range application.subcommandBuilders() {
		if subcommand, buildError := builder.Build(); buildError == nil {
			application.rootCommand.AddCommand(subcommand)
		}
	}
	return application
}

func (application *Application) newRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, _ []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, _ []string) error {
			return application.runRootCommand(command)
		},
	}
	rootCommand.SetContext(context.Background())

	persistentFlags := rootCommand.PersistentFlags()
	persistentFlags.StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	persistentFlags.StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	persistentFlags.StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)
	return rootCommand
}

func (application *Application) subcommandBuilders() []commandBuilder {
	return []commandBuilder{
		&audit.CommandBuilder{
			Kind:                  platform.KindGitHub,
			LoggerProvider:        application.currentLogger,
			ConfigurationProvider: application.auditConfiguration,
			ClientResolver:        application.resolveGitHubClient,
			HomeExpander:          application.homeExpander,
		},
		&audit.CommandBuilder{
			Kind:                  platform.KindJenkins,
			LoggerProvider:        application.currentLogger,
			ConfigurationProvider: application.auditConfiguration,
			ClientResolver:        application.resolveJenkinsClient,
			HomeExpander:          application.homeExpander,
		},
		&audit.SummarizeCommandBuilder{
			LoggerProvider:        application.currentLogger,
			ConfigurationProvider: application.auditConfiguration,
			HomeExpander:          application.homeExpander,
		},
	}
}

// Execute runs the command tree and flushes the logger afterwards.
func (application *Application) Execute() error {
	return application.ExecuteContext(context.Background())
}

// ExecuteContext runs the command tree under a context that is cancelled on
// SIGINT or SIGTERM, letting in-flight audits wind down before the logger flushes.
func (application *Application) ExecuteContext(parentContext context.Context) error {
	executionContext, stopSignals := interruptibleContext(parentContext)
	defer stopSignals()

	executionError := application.rootCommand.ExecuteContext(executionContext)
	if flushError := application.flushLogger(); flushError != nil {
		return fmt.Errorf(loggerSyncErrorTemplateConstant, flushError)
	}
	return executionError
}

// Execute runs a freshly wired application.
func Execute() error {
	return NewApplication().Execute()
}

// initializeConfiguration loads the credentials file and the layered configuration,
// applies the logging flag overrides, and replaces the placeholder logger.
func (application *Application) initializeConfiguration(command *cobra.Command) error {
	if dotEnvError := credentials.LoadDotEnv(application.dotEnvFilePaths...); dotEnvError != nil {
		return fmt.Errorf(dotEnvLoadErrorTemplateConstant, dotEnvError)
	}

	metadata, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, configurationDefaultValues(), &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}
	application.configurationMetadata = metadata

	common := &application.configuration.Common
	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		common.LogLevel = application.logLevelFlagValue
	}
	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		common.LogFormat = application.logFormatFlagValue
	}

	logger, loggerError := application.loggerFactory.CreateLogger(utils.LogLevel(common.LogLevel), utils.LogFormat(common.LogFormat))
	if loggerError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerError)
	}
	application.logger = logger
	logger.Info(configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, common.LogFormat),
		zap.String(configurationFileFieldConstant, metadata.ConfigFileUsed),
	)
	return nil
}

func (application *Application) currentLogger() *zap.Logger {
	return application.logger
}

func (application *Application) auditConfiguration() audit.CommandConfiguration {
	return application.configuration.Audit
}

// resolveGitHubClient builds the GitHub client from the loaded configuration and
// the token resolved through the credential chain.
func (application *Application) resolveGitHubClient(logger *zap.Logger) (platform.Client, error) {
	configuration := application.configuration.GitHub.Sanitize()
	token, tokenError := application.credentialResolver.GitHubToken(configuration.TokenSource)
	if tokenError != nil {
		return nil, tokenError
	}

	client, clientError := githubplatform.NewClient(configuration, githubplatform.Dependencies{
		Token:      token,
		HTTPClient: transport.NewHTTPClient(application.configuration.Retry, logger),
		Gate:       ratelimit.NewGate(nil, nil, logger),
		Logger:     logger,
	})
	if clientError != nil {
		return nil, clientError
	}
	logger.Debug(clientResolvedMessageConstant, zap.String(logFieldPlatformConstant, string(platform.KindGitHub)), zap.String(logFieldBaseURLConstant, configuration.BaseURL))
	return client, nil
}

func (application *Application) resolveJenkinsClient(logger *zap.Logger) (platform.Client, error) {
	configuration := application.configuration.Jenkins
	jenkinsCredentials, credentialsError := application.credentialResolver.JenkinsCredentials(configuration.BaseURL, configuration.User, configuration.TokenSource)
	if credentialsError != nil {
		return nil, credentialsError
	}
	configuration.BaseURL = jenkinsCredentials.BaseURL

	client, clientError := jenkins.NewClient(configuration, jenkins.Dependencies{
		User:       jenkinsCredentials.User,
		Token:      jenkinsCredentials.Token,
		HTTPClient: transport.NewHTTPClient(application.configuration.Retry, logger),
		Gate:       ratelimit.NewGate(nil, nil, logger),
		Logger:     logger,
	})
	if clientError != nil {
		return nil, clientError
	}
	logger.Debug(clientResolvedMessageConstant, zap.String(logFieldPlatformConstant, string(platform.KindJenkins)), zap.String(logFieldBaseURLConstant, jenkinsCredentials.BaseURL))
	return client, nil
}

func (application *Application) runRootCommand(command *cobra.Command) error {
	if application.logger == nil {
		return errors.New(loggerNotInitializedMessageConstant)
	}
	application.logger.Debug(rootCommandDebugMessageConstant, zap.String(logFieldCommandNameConstant, command.Name()))
	return command.Help()
}

// flushLogger syncs the active logger. Sync errors raised by terminals and pipes
// that do not support fsync are ignored.
func (application *Application) flushLogger() error {
	if application.logger == nil {
		return nil
	}
	syncError := application.logger.Sync()
	for _, ignorableError := range ignorableSyncErrors {
		if errors.Is(syncError, ignorableError) {
			return nil
		}
	}
	return syncError
}

// persistentFlagChanged reports whether a root persistent flag was set on the command line.
func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}
	return command.Root().PersistentFlags().Changed(flagName)
}
