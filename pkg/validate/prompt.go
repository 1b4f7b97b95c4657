package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"scriptstudio/pkg/domain"
)

// PromptCheck is the result of ValidatePromptJSON. Data is set only when the
// text is a valid prompt template.
type PromptCheck struct {
	IsValid bool                 `json:"isValid"`
	Data    *domain.PromptRecord `json:"data,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// promptOptionalKeys are the optional template fields, matched exactly. A
// field whose value has the wrong shape is dropped instead of failing the
// whole template.
var promptOptionalKeys = []string{
	"description", "tags", "icon", "systemInstruction", "outputFormat",
	"modelSettings", "preprocessing", "postprocessing",
}

// ValidatePromptJSON parses text as a prompt template and reports the first
// failing rule: title, then prompt, then category. Keys are matched exactly.
func ValidatePromptJSON(text string) PromptCheck {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return PromptCheck{Error: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if fields == nil {
		return PromptCheck{Error: "invalid JSON: prompt template must be an object"}
	}
	title, ok := stringField(fields, "title")
	if !ok || strings.TrimSpace(title) == "" {
		return PromptCheck{Error: "prompt template requires a non-empty title"}
	}
	prompt, ok := stringField(fields, "prompt")
	if !ok || strings.TrimSpace(prompt) == "" {
		return PromptCheck{Error: "prompt template requires a non-empty prompt"}
	}
	category, _ := stringField(fields, "category")
	if !domain.ValidCategory(domain.PromptCategory(category)) {
		return PromptCheck{Error: fmt.Sprintf("invalid category %q, must be one of: %s", category, domain.CategoryList())}
	}

	rec := domain.PromptRecord{Title: title, Prompt: prompt, Category: domain.PromptCategory(category)}
	for _, key := range promptOptionalKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if key == "tags" {
			rec.Tags = lenientTags(raw)
			continue
		}
		one, _ := json.Marshal(map[string]json.RawMessage{key: raw})
		next := rec
		if err := json.Unmarshal(one, &next); err == nil {
			rec = next
		}
	}
	return PromptCheck{IsValid: true, Data: &rec}
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// lenientTags accepts a string array or a comma separated string.
func lenientTags(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil
	}
	var out []string
	for _, tag := range strings.Split(joined, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// ValidatePromptListJSON validates an exported array of prompt templates and
// stops at the first invalid entry.
func ValidatePromptListJSON(text string) ([]domain.PromptRecord, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, domain.Invalid("body", "invalid JSON: %v", err)
	}
	out := make([]domain.PromptRecord, 0, len(raw))
	for i, item := range raw {
		check := ValidatePromptJSON(string(item))
		if !check.IsValid {
			return nil, domain.Invalid(fmt.Sprintf("prompts[%d]", i), "%s", check.Error)
		}
		out = append(out, *check.Data)
	}
	return out, nil
}
