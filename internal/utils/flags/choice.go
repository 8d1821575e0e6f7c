package flags

import (
	"fmt"
	"strings"
)

const (
	choicePlaceholderPrefixConstant  = "<"
	choicePlaceholderSuffixConstant  = ">"
	choiceSeparatorConstant          = "|"
	choiceUsageEmptyTemplateConstant = "`%s`"
	choiceUsageFullTemplateConstant  = "`%s` %s"
)

// FormatChoiceUsage builds a usage string where the default option is capitalized inside a placeholder,
// for example "`<ABORT|skip|prompt>` Behavior when a target fails.". Blank and repeated choices are dropped.
func FormatChoiceUsage(defaultChoice string, choices []string, description string) string {
	placeholder := buildChoicePlaceholder(defaultChoice, choices)
	if trimmedDescription := strings.TrimSpace(description); len(trimmedDescription) > 0 {
		return fmt.Sprintf(choiceUsageFullTemplateConstant, placeholder, trimmedDescription)
	}
	return fmt.Sprintf(choiceUsageEmptyTemplateConstant, placeholder)
}

// buildChoicePlaceholder renders "<a|B|c>" with the default choice upper-cased.
func buildChoicePlaceholder(defaultChoice string, choices []string) string {
	normalizedDefault := strings.ToLower(strings.TrimSpace(defaultChoice))
	rendered := make([]string, 0, len(choices))
	seen := make(map[string]bool, len(choices))

	for _, choice := range choices {
		trimmedChoice := strings.TrimSpace(choice)
		normalizedChoice := strings.ToLower(trimmedChoice)
		if len(normalizedChoice) == 0 || seen[normalizedChoice] {
			continue
		}
		seen[normalizedChoice] = true

		if normalizedChoice == normalizedDefault {
			trimmedChoice = strings.ToUpper(trimmedChoice)
		}
		rendered = append(rendered, trimmedChoice)
	}

	return choicePlaceholderPrefixConstant + strings.Join(rendered, choiceSeparatorConstant) + choicePlaceholderSuffixConstant
}
