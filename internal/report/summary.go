package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

const (
	titleColorConstant          = "12"
	labelColorConstant          = "8"
	valueColorConstant          = "10"
	warningColorConstant        = "11"
	summaryLineTemplateConstant = "%s %s"
	paddedLabelTemplateConstant = "%-*s"
	warningPrefixConstant       = "! "
)

// SummaryLine is one labelled counter of the console run summary.
type SummaryLine struct {
	Label string
	Value string
}

// SummaryRenderer prints the end-of-run summary with terminal colors when the
// output supports them and plain text otherwise.
type SummaryRenderer struct {
	output       io.Writer
	titleStyle   lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	warningStyle lipgloss.Style
}

// NewSummaryRenderer constructs a renderer that detects color support on output.
func NewSummaryRenderer(output io.Writer) *SummaryRenderer {
	renderer := lipgloss.NewRenderer(output)
	return &SummaryRenderer{
		output:       output,
		titleStyle:   renderer.NewStyle().Bold(true).Foreground(lipgloss.Color(titleColorConstant)),
		labelStyle:   renderer.NewStyle().Foreground(lipgloss.Color(labelColorConstant)),
		valueStyle:   renderer.NewStyle().Bold(true).Foreground(lipgloss.Color(valueColorConstant)),
		warningStyle: renderer.NewStyle().Foreground(lipgloss.Color(warningColorConstant)),
	}
}

// Render writes the title, aligned counters, and warnings.
func (summaryRenderer *SummaryRenderer) Render(title string, lines []SummaryLine, warnings []string) error {
	labelWidth := 0
	for _, line := range lines {
		if len(line.Label) > labelWidth {
			labelWidth = len(line.Label)
		}
	}

	renderedLines := make([]string, 0, len(lines)+len(warnings)+1)
	renderedLines = append(renderedLines, summaryRenderer.titleStyle.Render(title))
	for _, line := range lines {
		paddedLabel := fmt.Sprintf(paddedLabelTemplateConstant, labelWidth+1, line.Label+":")
		renderedLines = append(renderedLines, fmt.Sprintf(summaryLineTemplateConstant, summaryRenderer.labelStyle.Render(paddedLabel), summaryRenderer.valueStyle.Render(line.Value)))
	}
	for _, warning := range warnings {
		renderedLines = append(renderedLines, summaryRenderer.warningStyle.Render(warningPrefixConstant+warning))
	}

	_, writeError := io.WriteString(summaryRenderer.output, lipgloss.JoinVertical(lipgloss.Left, renderedLines...)+"\n")
	return writeError
}
