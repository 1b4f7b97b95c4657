package prompts

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
	"scriptstudio/pkg/domain"
)

//go:embed defaults.yaml
var defaultsYAML []byte

//go:embed script_schema.json
var scriptSchema string

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+)\s*\}\}`)

// Defaults returns the bundled prompt templates. Every call returns a fresh
// slice so callers may modify it.
func Defaults() ([]domain.PromptRecord, error) {
	var records []domain.PromptRecord
	if err := yaml.Unmarshal(defaultsYAML, &records); err != nil {
		return nil, fmt.Errorf("parse default prompts: %w", err)
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, fmt.Errorf("default prompt %d: %w", i, err)
		}
	}
	return records, nil
}

// ScriptSchema is the JSON schema a generated script must follow.
func ScriptSchema() string {
	return scriptSchema
}

// PrimingText is sent to a chat AI app so its replies follow ScriptSchema.
func PrimingText() string {
	var b strings.Builder
	b.WriteString("From now on, when I ask for a script, reply with one JSON object only, ")
	b.WriteString("no prose and no code fences, that validates against this JSON schema. ")
	b.WriteString("Dialogue lines are spoken words only: never put stage directions in ")
	b.WriteString("parentheses, brackets or asterisks.\n\n")
	b.WriteString(scriptSchema)
	return b.String()
}

// Render fills the {{name}} placeholders of rec.Prompt. Variables are only
// substituted when the record enables them; definitions supply defaults and
// a required variable without a value is a validation error. Placeholders
// with no value are left untouched.
func Render(rec domain.PromptRecord, vars map[string]string) (string, error) {
	if !rec.Preprocessing.EnableVariables {
		return rec.Prompt, nil
	}
	values := make(map[string]string, len(vars)+len(rec.Preprocessing.VariableDefinitions))
	for _, def := range rec.Preprocessing.VariableDefinitions {
		if def.Default != "" {
			values[def.Name] = def.Default
		}
	}
	for k, v := range vars {
		if strings.TrimSpace(v) != "" {
			values[k] = v
		}
	}
	for _, def := range rec.Preprocessing.VariableDefinitions {
		if def.Required && values[def.Name] == "" {
			return "", domain.Invalid(def.Name, "variable is required")
		}
	}
	return Expand(rec.Prompt, values), nil
}

// Expand substitutes {{name}} placeholders in template from values.
func Expand(template string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
}

// Variables lists the placeholder names used in template, in first-use order.
func Variables(template string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
