package domain

import (
	"strings"
)

type PromptCategory string

const (
	CategoryScriptGeneration PromptCategory = "script-generation"
	CategoryImageGeneration  PromptCategory = "image-generation"
	CategoryVideoGeneration  PromptCategory = "video-generation"
	CategoryCharacterDev     PromptCategory = "character-dev"
	CategoryGeneral          PromptCategory = "general"
)

// PromptCategories lists the valid categories in display order.
var PromptCategories = []PromptCategory{
	CategoryScriptGeneration,
	CategoryImageGeneration,
	CategoryVideoGeneration,
	CategoryCharacterDev,
	CategoryGeneral,
}

// ValidCategory reports whether c is one of PromptCategories.
func ValidCategory(c PromptCategory) bool {
	for _, known := range PromptCategories {
		if c == known {
			return true
		}
	}
	return false
}

// CategoryList renders the valid categories as "a, b, c".
func CategoryList() string {
	names := make([]string, 0, len(PromptCategories))
	for _, c := range PromptCategories {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

// PromptRecord is a reusable prompt template.
type PromptRecord struct {
	ID                int64               `json:"id,omitempty" yaml:"-"`
	Title             string              `json:"title" yaml:"title"`
	Category          PromptCategory      `json:"category" yaml:"category"`
	Prompt            string              `json:"prompt" yaml:"prompt"`
	Description       string              `json:"description,omitempty" yaml:"description"`
	Tags              []string            `json:"tags,omitempty" yaml:"tags"`
	Icon              string              `json:"icon,omitempty" yaml:"icon"`
	SystemInstruction string              `json:"systemInstruction,omitempty" yaml:"systemInstruction"`
	OutputFormat      string              `json:"outputFormat,omitempty" yaml:"outputFormat"`
	ModelSettings     PromptModelSettings `json:"modelSettings" yaml:"modelSettings"`
	Preprocessing     Preprocessing       `json:"preprocessing" yaml:"preprocessing"`
	Postprocessing    Postprocessing      `json:"postprocessing" yaml:"postprocessing"`
	Timestamps        `yaml:"-"`
}

type PromptModelSettings struct {
	PreferredModel  string  `json:"preferredModel,omitempty" yaml:"preferredModel"`
	Temperature     float64 `json:"temperature,omitempty" yaml:"temperature"`
	TopP            float64 `json:"topP,omitempty" yaml:"topP"`
	TopK            int     `json:"topK,omitempty" yaml:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty" yaml:"maxOutputTokens"`
}

type Preprocessing struct {
	EnableVariables     bool                 `json:"enableVariables" yaml:"enableVariables"`
	VariableDefinitions []VariableDefinition `json:"variableDefinitions,omitempty" yaml:"variableDefinitions"`
	InjectContext       bool                 `json:"injectContext" yaml:"injectContext"`
}

type VariableDefinition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Default     string `json:"default,omitempty" yaml:"default"`
	Required    bool   `json:"required,omitempty" yaml:"required"`
}

type Postprocessing struct {
	Steps []string `json:"steps,omitempty" yaml:"steps"`
}

func (p *PromptRecord) DocumentID() int64      { return p.ID }
func (p *PromptRecord) SetDocumentID(id int64) { p.ID = id }

func (p *PromptRecord) IndexKeys() IndexKeys {
	return IndexKeys{Title: p.Title, Category: string(p.Category)}
}

func (p *PromptRecord) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return Invalid("title", "is required")
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return Invalid("prompt", "is required")
	}
	if !ValidCategory(p.Category) {
		return Invalid("category", "must be one of: %s", CategoryList())
	}
	return nil
}
