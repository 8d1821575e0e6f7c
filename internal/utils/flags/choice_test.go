package flags

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const choiceSubtestNameTemplateConstant = "%d_%s"

func TestFormatChoiceUsage(testInstance *testing.T) {
	testCases := []struct {
		name           string
		defaultChoice  string
		choices        []string
		description    string
		expectedOutput string
	}{
		{
			name:           "default_first_choice",
			defaultChoice:  "abort",
			choices:        []string{"abort", "skip", "prompt"},
			description:    "Behavior when a target fails.",
			expectedOutput: "`<ABORT|skip|prompt>` Behavior when a target fails.",
		},
		{
			name:           "default_last_choice",
			defaultChoice:  "prompt",
			choices:        []string{"abort", "skip", "prompt"},
			description:    "Ask before continuing.",
			expectedOutput: "`<abort|skip|PROMPT>` Ask before continuing.",
		},
		{
			name:           "empty_description",
			defaultChoice:  "structured",
			choices:        []string{"structured", "console"},
			expectedOutput: "`<STRUCTURED|console>`",
		},
		{
			name:           "duplicate_choices_ignored",
			defaultChoice:  "skip",
			choices:        []string{"skip", "SKIP", "abort", "abort"},
			description:    "Select a policy.",
			expectedOutput: "`<SKIP|abort>` Select a policy.",
		},
		{
			name:           "whitespace_trimmed",
			defaultChoice:  " skip ",
			choices:        []string{" abort ", " skip ", " "},
			description:    "Select a policy.",
			expectedOutput: "`<abort|SKIP>` Select a policy.",
		},
		{
			name:           "unknown_default_not_highlighted",
			defaultChoice:  "retry",
			choices:        []string{"abort", "skip"},
			description:    "Select a policy.",
			expectedOutput: "`<abort|skip>` Select a policy.",
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(choiceSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expectedOutput, FormatChoiceUsage(testCase.defaultChoice, testCase.choices, testCase.description))
		})
	}
}
