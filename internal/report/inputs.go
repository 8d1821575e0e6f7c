package report

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/nickorefice/github-build-auditor/internal/platform"
	"github.com/nickorefice/github-build-auditor/internal/steps"
)

const (
	readInputTemplateConstant        = "read %s: %w"
	parseInputTemplateConstant       = "parse %s: %w"
	listExpectedTemplateConstant     = "%s: expected a list"
	unsupportedEntryTemplateConstant = "%s: entry %d is neither a name nor an object"
	fullNameKeyConstant              = "full_name"
	nameKeyConstant                  = "name"
	urlKeyConstant                   = "url"
	identifierKeyConstant            = "id"
	stepNameKeyConstant              = "step_name"
	startedAtKeyConstant             = "started_at"
	completedAtKeyConstant           = "completed_at"
	durationSecondsKeyConstant       = "duration_seconds"
	targetFullNameKeyConstant        = "target_full_name"
	pipelineNameKeyConstant          = "pipeline_name"
	runIdentifierKeyConstant         = "run_id"
	jobIdentifierKeyConstant         = "job_id"
	stepNumberKeyConstant            = "step_number"
	statusKeyConstant                = "status"
	conclusionKeyConstant            = "conclusion"
	durationAnomalyKeyConstant       = "duration_anomaly"
	htmlURLKeyConstant               = "html_url"
	invalidJSONMessageConstant       = "invalid JSON document"
)

var errInvalidJSON = errors.New(invalidJSONMessageConstant)

// LoadTargetList reads an explicit repository or job list. Entries are either names
// or descriptor objects carrying full_name or name, so a previous dump is valid input.
func LoadTargetList(filePath string) ([]platform.Target, error) {
	entries, loadError := loadList(filePath)
	if loadError != nil {
		return nil, loadError
	}

	targets := make([]platform.Target, 0, len(entries))
	for entryIndex, entry := range entries {
		switch typedEntry := entry.(type) {
		case string:
			if len(strings.TrimSpace(typedEntry)) == 0 {
				continue
			}
			targets = append(targets, platform.NewNamedTarget(typedEntry))
		case map[string]any:
			target, named := descriptorTarget(typedEntry)
			if !named {
				continue
			}
			targets = append(targets, target)
		default:
			return nil, fmt.Errorf(unsupportedEntryTemplateConstant, filePath, entryIndex)
		}
	}
	return targets, nil
}

// LoadStepNames reads a list of step names used as an aggregation allow-list.
func LoadStepNames(filePath string) ([]string, error) {
	entries, loadError := loadList(filePath)
	if loadError != nil {
		return nil, loadError
	}

	stepNames := make([]string, 0, len(entries))
	for entryIndex, entry := range entries {
		stepName, isString := entry.(string)
		if !isString {
			return nil, fmt.Errorf(unsupportedEntryTemplateConstant, filePath, entryIndex)
		}
		if len(stepName) == 0 {
			continue
		}
		stepNames = append(stepNames, stepName)
	}
	return stepNames, nil
}

// LoadRecords reads a stage_durations.json document. Records without a start
// time are skipped and counted.
func LoadRecords(filePath string) ([]steps.Record, int, error) {
	content, readError := os.ReadFile(filePath)
	if readError != nil {
		return nil, 0, fmt.Errorf(readInputTemplateConstant, filePath, readError)
	}
	if !gjson.ValidBytes(content) {
		return nil, 0, fmt.Errorf(parseInputTemplateConstant, filePath, errInvalidJSON)
	}
	document := gjson.ParseBytes(content)
	if !document.IsArray() {
		return nil, 0, fmt.Errorf(listExpectedTemplateConstant, filePath)
	}

	records := make([]steps.Record, 0)
	skipped := 0
	for _, item := range document.Array() {
		startedAt, startParsed := parseTimestamp(item.Get(startedAtKeyConstant))
		stepName := item.Get(stepNameKeyConstant).String()
		if !startParsed || len(stepName) == 0 {
			skipped++
			continue
		}
		completedAt, _ := parseTimestamp(item.Get(completedAtKeyConstant))

		record := steps.Record{
			StepName:        stepName,
			TargetFullName:  item.Get(targetFullNameKeyConstant).String(),
			PipelineName:    item.Get(pipelineNameKeyConstant).String(),
			RunID:           item.Get(runIdentifierKeyConstant).Int(),
			JobID:           item.Get(jobIdentifierKeyConstant).Int(),
			StartedAt:       startedAt,
			CompletedAt:     completedAt,
			DurationSeconds: item.Get(durationSecondsKeyConstant).Float(),
			DurationAnomaly: item.Get(durationAnomalyKeyConstant).Bool(),
			Status:          steps.Status(item.Get(statusKeyConstant).String()),
			Conclusion:      steps.Conclusion(item.Get(conclusionKeyConstant).String()),
			URL:             item.Get(urlKeyConstant).String(),
			HTMLURL:         item.Get(htmlURLKeyConstant).String(),
		}
		if stepNumber := item.Get(stepNumberKeyConstant); stepNumber.Exists() && stepNumber.Type != gjson.Null {
			stepNumberValue := stepNumber.Int()
			record.StepNumber = &stepNumberValue
		}
		records = append(records, record)
	}
	return records, skipped, nil
}

func parseTimestamp(value gjson.Result) (time.Time, bool) {
	if !value.Exists() || value.Type != gjson.String {
		return time.Time{}, false
	}
	parsed, parseError := time.Parse(time.RFC3339Nano, value.String())
	if parseError != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

// loadList decodes a JSON or YAML list. JSON goes through gjson so tab-indented
// documents are accepted; anything else is decoded as YAML.
func loadList(filePath string) ([]any, error) {
	content, readError := os.ReadFile(filePath)
	if readError != nil {
		return nil, fmt.Errorf(readInputTemplateConstant, filePath, readError)
	}

	if gjson.ValidBytes(content) {
		document := gjson.ParseBytes(content)
		if !document.IsArray() {
			return nil, fmt.Errorf(listExpectedTemplateConstant, filePath)
		}
		entries := make([]any, 0)
		for _, item := range document.Array() {
			entries = append(entries, item.Value())
		}
		return entries, nil
	}

	var entries []any
	if decodeError := yaml.Unmarshal(content, &entries); decodeError != nil {
		return nil, fmt.Errorf(parseInputTemplateConstant, filePath, decodeError)
	}
	return entries, nil
}

func descriptorTarget(descriptor map[string]any) (platform.Target, bool) {
	fullName := stringField(descriptor, fullNameKeyConstant)
	if len(fullName) == 0 {
		fullName = stringField(descriptor, nameKeyConstant)
	}
	if len(fullName) == 0 {
		return platform.Target{}, false
	}

	identifier := stringField(descriptor, identifierKeyConstant)
	if len(identifier) == 0 {
		identifier = fullName
	}
	return platform.Target{
		ID:         identifier,
		FullName:   fullName,
		URL:        stringField(descriptor, urlKeyConstant),
		Descriptor: descriptor,
	}, true
}

func stringField(descriptor map[string]any, key string) string {
	switch value := descriptor[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	default:
		return ""
	}
}
