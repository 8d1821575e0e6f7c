package audit

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nickorefice/github-build-auditor/internal/aggregate"
	"github.com/nickorefice/github-build-auditor/internal/report"
	pathutils "github.com/nickorefice/github-build-auditor/internal/utils/path"
)

const (
	summarizeCommandUseConstant             = "summarize <stage_durations.json>"
	summarizeCommandShortDescription        = "Build a monthly summary from an existing stage durations report"
	summarizeCommandLongDescription         = "summarize reads a stage_durations.json written by a previous audit and writes monthly_summary.json without calling any platform API. Records without a start time are skipped."
	summarizeTitleTemplateConstant          = "Monthly summary (%d records)"
	summarizeSkippedWarningTemplateConstant = "%d records without a start time were skipped"
	summarizeMonthValueTemplateConstant     = "%.2fs across %d steps"
	summarizeCompletedMessageConstant       = "monthly summary written"
	logFieldMonthsConstant                  = "months"
	logFieldSkippedRecordsConstant          = "skipped_records"
	logFieldPathConstant                    = "path"
)

// SummarizeCommandBuilder assembles the offline monthly summary command.
type SummarizeCommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	HomeExpander          *pathutils.HomeExpander
}

// Build constructs the summarize cobra command.
func (builder *SummarizeCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   summarizeCommandUseConstant,
		Short: summarizeCommandShortDescription,
		Long:  summarizeCommandLongDescription,
		Args:  cobra.ExactArgs(1),
		RunE:  builder.run,
	}
	command.Flags().StringP(flagOutputDirectoryName, flagOutputDirectoryShorthand, "", flagOutputDirectoryDescription)
	return command, nil
}

func (builder *SummarizeCommandBuilder) run(command *cobra.Command, arguments []string) error {
	configuration := DefaultCommandConfiguration()
	if builder.ConfigurationProvider != nil {
		configuration = builder.ConfigurationProvider()
	}
	if command.Flags().Changed(flagOutputDirectoryName) {
		configuration.OutputDirectory, _ = command.Flags().GetString(flagOutputDirectoryName)
	}
	configuration = configuration.Sanitize()

	expander := builder.HomeExpander
	if expander == nil {
		expander = pathutils.NewHomeExpander()
	}
	logger := resolveLogger(builder.LoggerProvider)

	records, skippedRecords, loadError := report.LoadRecords(expander.Expand(arguments[0]))
	if loadError != nil {
		return loadError
	}

	monthlySummary := aggregate.MonthlySummary(records)
	writer := report.NewWriter(expander.Expand(configuration.OutputDirectory), logger)
	writtenPath, writeError := writer.WriteJSON(report.MonthlySummaryFileName, monthlySummary)
	if writeError != nil {
		return writeError
	}
	logger.Info(
		summarizeCompletedMessageConstant,
		zap.String(logFieldPathConstant, writtenPath),
		zap.Int(logFieldMonthsConstant, len(monthlySummary)),
		zap.Int(logFieldSkippedRecordsConstant, skippedRecords),
	)

	lines := make([]report.SummaryLine, 0, len(monthlySummary))
	for _, monthKey := range aggregate.SortedMonthKeys(monthlySummary) {
		month := monthlySummary[monthKey]
		lines = append(lines, report.SummaryLine{
			Label: monthKey,
			Value: fmt.Sprintf(summarizeMonthValueTemplateConstant, month.TotalDurationSeconds, countStages(month)),
		})
	}
	warnings := make([]string, 0, 1)
	if skippedRecords > 0 {
		warnings = append(warnings, fmt.Sprintf(summarizeSkippedWarningTemplateConstant, skippedRecords))
	}

	return report.NewSummaryRenderer(command.OutOrStdout()).Render(fmt.Sprintf(summarizeTitleTemplateConstant, len(records)), lines, warnings)
}

func countStages(month aggregate.MonthSummary) int {
	total := 0
	for _, stage := range month.Stages {
		total += stage.Count
	}
	return total
}
