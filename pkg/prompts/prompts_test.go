package prompts

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"scriptstudio/pkg/domain"
)

func TestDefaultsParseAndValidate(t *testing.T) {
	records, err := Defaults()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if len(records) == 0 {
		t.Fatalf("expected bundled prompts")
	}
	categories := map[domain.PromptCategory]bool{}
	for _, rec := range records {
		categories[rec.Category] = true
		if rec.ID != 0 || !rec.CreatedAt.IsZero() {
			t.Fatalf("bundled prompt carries store fields: %+v", rec)
		}
	}
	for _, c := range domain.PromptCategories {
		if !categories[c] {
			t.Fatalf("no bundled prompt for category %s", c)
		}
	}
}

func TestDefaultsReturnsFreshSlice(t *testing.T) {
	first, _ := Defaults()
	first[0].Title = "changed"
	second, _ := Defaults()
	if second[0].Title == "changed" {
		t.Fatalf("defaults share state between calls")
	}
}

func TestRenderAppliesDefaultsAndVars(t *testing.T) {
	rec := domain.PromptRecord{
		Prompt: "Write a {{genre}} film about {{ topic }} in {{missing}}.",
		Preprocessing: domain.Preprocessing{
			EnableVariables: true,
			VariableDefinitions: []domain.VariableDefinition{
				{Name: "genre", Default: "drama"},
				{Name: "topic", Required: true},
			},
		},
	}
	got, err := Render(rec, map[string]string{"topic": "lighthouses"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "Write a drama film about lighthouses in {{missing}}."
	if got != want {
		t.Fatalf("render: got %q want %q", got, want)
	}
}

func TestRenderRequiresVariables(t *testing.T) {
	rec := domain.PromptRecord{
		Prompt: "About {{topic}}",
		Preprocessing: domain.Preprocessing{
			EnableVariables:     true,
			VariableDefinitions: []domain.VariableDefinition{{Name: "topic", Required: true}},
		},
	}
	_, err := Render(rec, nil)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "topic" {
		t.Fatalf("expected topic validation error, got %v", err)
	}
}

func TestRenderLeavesTemplateWhenVariablesDisabled(t *testing.T) {
	rec := domain.PromptRecord{Prompt: "Keep {{this}}"}
	got, err := Render(rec, map[string]string{"this": "x"})
	if err != nil || got != "Keep {{this}}" {
		t.Fatalf("render: got %q err=%v", got, err)
	}
}

func TestVariablesListsFirstUseOrder(t *testing.T) {
	got := Variables("{{b}} {{a}} {{b}}")
	if strings.Join(got, ",") != "b,a" {
		t.Fatalf("variables: got %v", got)
	}
}

func TestScriptSchemaIsJSON(t *testing.T) {
	var schema map[string]any
	if err := json.Unmarshal([]byte(ScriptSchema()), &schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if !strings.Contains(PrimingText(), `"act_number"`) {
		t.Fatalf("priming text does not include schema")
	}
}
