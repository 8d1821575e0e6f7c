package audit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nickorefice/github-build-auditor/internal/platform"
)

const (
	continuePromptTemplateConstant = "%s failed: %v\nContinue with the remaining targets? [y/N]: "
	affirmativeShortAnswerConstant = "y"
	affirmativeLongAnswerConstant  = "yes"
)

// IOConfirmationPrompter reads yes/no answers line by line from a reader.
type IOConfirmationPrompter struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewIOConfirmationPrompter constructs a prompter from the provided reader and writer.
func NewIOConfirmationPrompter(input io.Reader, output io.Writer) *IOConfirmationPrompter {
	return &IOConfirmationPrompter{reader: bufio.NewReader(input), writer: output}
}

// Confirm writes the prompt and treats y or yes as consent. End of input counts as no.
func (prompter *IOConfirmationPrompter) Confirm(prompt string) (bool, error) {
	if prompter.writer != nil {
		if _, writeError := io.WriteString(prompter.writer, prompt); writeError != nil {
			return false, writeError
		}
	}

	response, readError := prompter.reader.ReadString('\n')
	if readError != nil && !errors.Is(readError, io.EOF) {
		return false, readError
	}

	switch strings.ToLower(strings.TrimSpace(response)) {
	case affirmativeShortAnswerConstant, affirmativeLongAnswerConstant:
		return true, nil
	default:
		return false, nil
	}
}

// PromptFailureDecider asks the operator whether a target failure should be skipped.
type PromptFailureDecider struct {
	prompter ConfirmationPrompter
}

// NewPromptFailureDecider wraps a confirmation prompter.
func NewPromptFailureDecider(prompter ConfirmationPrompter) *PromptFailureDecider {
	return &PromptFailureDecider{prompter: prompter}
}

// ContinueAfterFailure prompts with the target name and cause.
func (decider *PromptFailureDecider) ContinueAfterFailure(executionContext context.Context, failure *platform.TargetError) (bool, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return false, contextError
	}
	return decider.prompter.Confirm(fmt.Sprintf(continuePromptTemplateConstant, failure.Target, failure.Cause))
}
