package audit

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nickorefice/github-build-auditor/internal/platform"
	"github.com/nickorefice/github-build-auditor/internal/report"
	"github.com/nickorefice/github-build-auditor/internal/utils/flags"
	pathutils "github.com/nickorefice/github-build-auditor/internal/utils/path"
)

const (
	githubCommandUseConstant             = "github"
	githubCommandShortDescription        = "Audit GitHub Actions step durations"
	githubCommandLongDescription         = "github enumerates the repositories visible to the token (or reads --repos-file), walks completed workflow runs and their jobs, and writes step duration reports."
	jenkinsCommandUseConstant            = "jenkins"
	jenkinsCommandShortDescription       = "Audit Jenkins pipeline stage durations"
	jenkinsCommandLongDescription        = "jenkins enumerates the jobs of the server (or reads --jobs-file), walks every pipeline build, and writes stage duration reports."
	flagSinceName                        = "since"
	flagSinceDescription                 = "Only audit runs created on or after this date (YYYY-MM-DD, GitHub only)"
	flagSkipLabelName                    = "skip-label"
	flagSkipLabelDescription             = "Skip jobs running on runners or agents with this label (repeatable)"
	flagFilterDurationName               = "filter-duration"
	flagFilterDurationDescription        = "Only report steps that took longer than this many seconds"
	flagForceContinueName                = "force-continue"
	flagForceContinueDescription         = "Skip failed targets without asking (same as --failure-policy skip)"
	flagFailurePolicyName                = "failure-policy"
	flagFailurePolicyDescription         = "How to handle a target that cannot be audited"
	flagStepNamesFileName                = "step-names-file"
	flagStepNamesFileDescription         = "JSON or YAML list of step names to aggregate"
	flagGitHubTargetsFileName            = "repos-file"
	flagGitHubTargetsFileDescription     = "JSON or YAML list of repositories to audit instead of enumerating"
	flagJenkinsTargetsFileName           = "jobs-file"
	flagJenkinsTargetsFileDescription    = "JSON or YAML list of jobs to audit instead of enumerating"
	flagGitHubDumpName                   = "dump-repos"
	flagGitHubDumpDescription            = "Write the audited repositories to repositories.json"
	flagJenkinsDumpName                  = "dump-jobs"
	flagJenkinsDumpDescription           = "Write the audited jobs to jobs.json"
	flagMonthlySummaryName               = "monthly-summary"
	flagMonthlySummaryDescription        = "Group step totals by calendar month and write monthly_summary.json"
	flagUniqueStepsName                  = "unique-steps"
	flagUniqueStepsDescription           = "Write the distinct step names to step_names.json"
	flagStepAveragesName                 = "step-averages"
	flagStepAveragesDescription          = "Write mean step durations to avg_stage_durations.json"
	flagOutputDirectoryName              = "output-directory"
	flagOutputDirectoryShorthand         = "o"
	flagOutputDirectoryDescription       = "Directory receiving the JSON reports"
	flagConcurrencyName                  = "concurrency"
	flagConcurrencyDescription           = "Number of targets audited in parallel"
	unsupportedKindTemplateConstant      = "cannot build audit command: %w"
	missingClientResolverMessageConstant = "platform client resolver not configured"
	invalidOptionTemplateConstant        = "invalid %s: %w"
	loadInputTemplateConstant            = "load %s: %w"
	reportsWrittenMessageConstant        = "reports written"
	logFieldPathsConstant                = "paths"
)

var errMissingClientResolver = errors.New(missingClientResolverMessageConstant)

type commandDescriptor struct {
	use                    string
	shortDescription       string
	longDescription        string
	targetsFileFlag        string
	targetsFileDescription string
	dumpFlag               string
	dumpDescription        string
}

var commandDescriptors = map[platform.Kind]commandDescriptor{
	platform.KindGitHub: {
		use:                    githubCommandUseConstant,
		shortDescription:       githubCommandShortDescription,
		longDescription:        githubCommandLongDescription,
		targetsFileFlag:        flagGitHubTargetsFileName,
		targetsFileDescription: flagGitHubTargetsFileDescription,
		dumpFlag:               flagGitHubDumpName,
		dumpDescription:        flagGitHubDumpDescription,
	},
	platform.KindJenkins: {
		use:                    jenkinsCommandUseConstant,
		shortDescription:       jenkinsCommandShortDescription,
		longDescription:        jenkinsCommandLongDescription,
		targetsFileFlag:        flagJenkinsTargetsFileName,
		targetsFileDescription: flagJenkinsTargetsFileDescription,
		dumpFlag:               flagJenkinsDumpName,
		dumpDescription:        flagJenkinsDumpDescription,
	},
}

// CommandBuilder assembles the audit cobra command for one platform.
type CommandBuilder struct {
	Kind                  platform.Kind
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	ClientResolver        ClientResolver
	FailureDecider        FailureDecider
	HomeExpander          *pathutils.HomeExpander
}

// Build constructs the cobra command for the configured platform. Kind is
// normalized, so "GitHub" and " jenkins " are accepted.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	kind, kindError := platform.ParseKind(string(builder.Kind))
	if kindError != nil {
		return nil, fmt.Errorf(unsupportedKindTemplateConstant, kindError)
	}
	builder.Kind = kind
	descriptor := commandDescriptors[kind]

	command := &cobra.Command{
		Use:   descriptor.use,
		Short: descriptor.shortDescription,
		Long:  descriptor.longDescription,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}

	commandFlags := command.Flags()
	commandFlags.String(flagSinceName, "", flagSinceDescription)
	commandFlags.StringSlice(flagSkipLabelName, nil, flagSkipLabelDescription)
	commandFlags.Float64(flagFilterDurationName, 0, flagFilterDurationDescription)
	commandFlags.Bool(flagForceContinueName, false, flagForceContinueDescription)
	commandFlags.String(flagFailurePolicyName, string(FailurePolicyAbort), flags.FormatChoiceUsage(string(FailurePolicyAbort), FailurePolicyChoices, flagFailurePolicyDescription))
	commandFlags.String(flagStepNamesFileName, "", flagStepNamesFileDescription)
	commandFlags.String(descriptor.targetsFileFlag, "", descriptor.targetsFileDescription)
	commandFlags.Bool(descriptor.dumpFlag, false, descriptor.dumpDescription)
	commandFlags.Bool(flagMonthlySummaryName, false, flagMonthlySummaryDescription)
	commandFlags.Bool(flagUniqueStepsName, false, flagUniqueStepsDescription)
	commandFlags.Bool(flagStepAveragesName, false, flagStepAveragesDescription)
	commandFlags.StringP(flagOutputDirectoryName, flagOutputDirectoryShorthand, "", flagOutputDirectoryDescription)
	commandFlags.Int(flagConcurrencyName, 0, flagConcurrencyDescription)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	descriptor := commandDescriptors[builder.Kind]
	configuration := builder.applyFlagOverrides(command, descriptor, builder.resolveConfiguration()).Sanitize()

	options, optionsError := builder.resolveOptions(configuration)
	if optionsError != nil {
		return optionsError
	}

	if builder.ClientResolver == nil {
		return errMissingClientResolver
	}
	logger := builder.resolveLogger()
	client, clientError := builder.ClientResolver(logger)
	if clientError != nil {
		return clientError
	}

	service := NewService(client, builder.resolveFailureDecider(command, options.FailurePolicy), logger)
	result, runError := service.Run(command.Context(), options)
	if runError != nil {
		return runError
	}

	writer := report.NewWriter(builder.expandPath(configuration.OutputDirectory), logger)
	writtenPaths, writeError := writer.WriteArtifacts(result.Artifacts())
	if writeError != nil {
		return writeError
	}
	logger.Info(reportsWrittenMessageConstant, zap.String(logFieldAuditRunIDConstant, result.RunID), zap.Strings(logFieldPathsConstant, writtenPaths))

	renderer := report.NewSummaryRenderer(command.OutOrStdout())
	return renderer.Render(fmt.Sprintf(summaryTitleTemplateConstant, result.Kind), result.Summary.SummaryLines(), result.Summary.Warnings())
}

// applyFlagOverrides layers the flags given on the command line over the configuration.
func (builder *CommandBuilder) applyFlagOverrides(command *cobra.Command, descriptor commandDescriptor, configuration CommandConfiguration) CommandConfiguration {
	commandFlags := command.Flags()
	overridden := configuration

	commandFlags.Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case flagSinceName:
			overridden.Since = flag.Value.String()
		case flagSkipLabelName:
			overridden.SkipLabels, _ = commandFlags.GetStringSlice(flag.Name)
		case flagFilterDurationName:
			filterDuration, _ := commandFlags.GetFloat64(flag.Name)
			overridden.FilterDuration = &filterDuration
		case flagForceContinueName:
			overridden.ForceContinue, _ = commandFlags.GetBool(flag.Name)
		case flagFailurePolicyName:
			overridden.FailurePolicy = flag.Value.String()
		case flagStepNamesFileName:
			overridden.StepNamesFile = flag.Value.String()
		case descriptor.targetsFileFlag:
			overridden.ReposFile = flag.Value.String()
		case descriptor.dumpFlag:
			overridden.DumpRepos, _ = commandFlags.GetBool(flag.Name)
		case flagMonthlySummaryName:
			overridden.MonthlySummary, _ = commandFlags.GetBool(flag.Name)
		case flagUniqueStepsName:
			overridden.UniqueSteps, _ = commandFlags.GetBool(flag.Name)
		case flagStepAveragesName:
			overridden.StepAverages, _ = commandFlags.GetBool(flag.Name)
		case flagOutputDirectoryName:
			overridden.OutputDirectory = flag.Value.String()
		case flagConcurrencyName:
			overridden.Concurrency, _ = commandFlags.GetInt(flag.Name)
		}
	})

	return overridden
}

func (builder *CommandBuilder) resolveOptions(configuration CommandConfiguration) (Options, error) {
	since, sinceError := platform.ParseSinceDate(configuration.Since)
	if sinceError != nil {
		return Options{}, fmt.Errorf(invalidOptionTemplateConstant, flagSinceName, sinceError)
	}
	failurePolicy, policyError := ParseFailurePolicy(configuration.FailurePolicy)
	if policyError != nil {
		return Options{}, fmt.Errorf(invalidOptionTemplateConstant, flagFailurePolicyName, policyError)
	}

	options := Options{
		Since:          since,
		SkipLabels:     configuration.SkipLabels,
		FilterDuration: configuration.FilterDuration,
		DumpTargets:    configuration.DumpRepos,
		MonthlySummary: configuration.MonthlySummary,
		UniqueSteps:    configuration.UniqueSteps,
		StepAverages:   configuration.StepAverages,
		FailurePolicy:  failurePolicy,
		Concurrency:    configuration.Concurrency,
	}

	if len(configuration.StepNamesFile) > 0 {
		stepNames, loadError := report.LoadStepNames(builder.expandPath(configuration.StepNamesFile))
		if loadError != nil {
			return Options{}, fmt.Errorf(loadInputTemplateConstant, flagStepNamesFileName, loadError)
		}
		options.StepNames = stepNames
	}
	if len(configuration.ReposFile) > 0 {
		targets, loadError := report.LoadTargetList(builder.expandPath(configuration.ReposFile))
		if loadError != nil {
			return Options{}, fmt.Errorf(loadInputTemplateConstant, commandDescriptors[builder.Kind].targetsFileFlag, loadError)
		}
		options.ExplicitTargets = targets
	}

	return options, nil
}

func (builder *CommandBuilder) resolveConfiguration() CommandConfiguration {
	if builder.ConfigurationProvider == nil {
		return DefaultCommandConfiguration()
	}
	return builder.ConfigurationProvider()
}

func (builder *CommandBuilder) resolveFailureDecider(command *cobra.Command, policy FailurePolicy) FailureDecider {
	if builder.FailureDecider != nil {
		return builder.FailureDecider
	}
	if policy != FailurePolicyPrompt {
		return nil
	}
	return NewPromptFailureDecider(NewIOConfirmationPrompter(command.InOrStdin(), command.ErrOrStderr()))
}

func (builder *CommandBuilder) expandPath(candidatePath string) string {
	expander := builder.HomeExpander
	if expander == nil {
		expander = pathutils.NewHomeExpander()
	}
	return expander.Expand(candidatePath)
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	return resolveLogger(builder.LoggerProvider)
}

func resolveLogger(provider LoggerProvider) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
