package validate

import (
	"regexp"
	"strings"
)

var (
	parenPattern    = regexp.MustCompile(`\([^)]*\)`)
	bracketPattern  = regexp.MustCompile(`\[[^\]]*\]`)
	asteriskPattern = regexp.MustCompile(`\*[^*]*\*`)
	spaceRun        = regexp.MustCompile(`\s+`)
)

// DialogueCheck is the result of ValidateDialogueLine.
type DialogueCheck struct {
	IsValid  bool     `json:"isValid"`
	Warnings []string `json:"warnings"`
}

// ValidateDialogueLine flags stage directions that degrade speech synthesis.
// Each pattern class contributes at most one warning.
func ValidateDialogueLine(line string) DialogueCheck {
	warnings := []string{}
	if parenPattern.MatchString(line) {
		warnings = append(warnings, "line contains text in parentheses (stage direction)")
	}
	if bracketPattern.MatchString(line) {
		warnings = append(warnings, "line contains text in square brackets (stage direction)")
	}
	if asteriskPattern.MatchString(line) {
		warnings = append(warnings, "line contains text between asterisks (stage direction)")
	}
	return DialogueCheck{IsValid: len(warnings) == 0, Warnings: warnings}
}

// StripStageDirections removes parenthesized, bracketed and asterisk
// delimited text, in that order, then collapses whitespace.
func StripStageDirections(line string) string {
	line = parenPattern.ReplaceAllString(line, "")
	line = bracketPattern.ReplaceAllString(line, "")
	line = asteriskPattern.ReplaceAllString(line, "")
	return strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
}
