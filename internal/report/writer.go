package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	jsonIndentConstant                 = "  "
	outputDirectoryPermissionsConstant = 0o755
	outputFilePermissionsConstant      = 0o644
	createDirectoryTemplateConstant    = "create output directory %s: %w"
	encodeReportTemplateConstant       = "encode %s: %w"
	writeReportTemplateConstant        = "write %s: %w"
	reportWrittenMessageConstant       = "report written"
	logFieldPathConstant               = "path"
)

// Report file names.
const (
	StageDurationsFileName   = "stage_durations.json"
	StepNamesFileName        = "step_names.json"
	StepNameTotalsFileName   = "step_name_totals.json"
	MonthlySummaryFileName   = "monthly_summary.json"
	AverageDurationsFileName = "avg_stage_durations.json"
	RepositoryDumpFileName   = "repositories.json"
	JobDumpFileName          = "jobs.json"
)

// Artifact is one JSON document destined for the output directory.
type Artifact struct {
	FileName string
	Payload  any
}

// Writer serializes artifacts as two-space indented JSON files.
type Writer struct {
	outputDirectory string
	logger          *zap.Logger
}

// NewWriter constructs a writer rooted at outputDirectory. An empty directory means the working directory.
func NewWriter(outputDirectory string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{outputDirectory: outputDirectory, logger: logger}
}

// WriteJSON encodes payload into fileName and returns the written path.
func (writer *Writer) WriteJSON(fileName string, payload any) (string, error) {
	outputPath := filepath.Join(writer.outputDirectory, fileName)
	if len(writer.outputDirectory) > 0 {
		if directoryError := os.MkdirAll(writer.outputDirectory, outputDirectoryPermissionsConstant); directoryError != nil {
			return "", fmt.Errorf(createDirectoryTemplateConstant, writer.outputDirectory, directoryError)
		}
	}

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", jsonIndentConstant)
	if encodeError := encoder.Encode(payload); encodeError != nil {
		return "", fmt.Errorf(encodeReportTemplateConstant, fileName, encodeError)
	}

	if writeError := os.WriteFile(outputPath, buffer.Bytes(), outputFilePermissionsConstant); writeError != nil {
		return "", fmt.Errorf(writeReportTemplateConstant, outputPath, writeError)
	}
	writer.logger.Debug(reportWrittenMessageConstant, zap.String(logFieldPathConstant, outputPath))
	return outputPath, nil
}

// WriteArtifacts writes every artifact in order and stops at the first failure.
func (writer *Writer) WriteArtifacts(artifacts []Artifact) ([]string, error) {
	writtenPaths := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		writtenPath, writeError := writer.WriteJSON(artifact.FileName, artifact.Payload)
		if writeError != nil {
			return writtenPaths, writeError
		}
		writtenPaths = append(writtenPaths, writtenPath)
	}
	return writtenPaths, nil
}
