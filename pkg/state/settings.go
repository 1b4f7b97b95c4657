package state

import (
	"context"
	"strings"

	"scriptstudio/pkg/kv"
)

const (
	ThemeKey         = "theme-preference"
	ModelSettingsKey = "model-settings"
)

type ThemeMode string

const (
	ThemeLight ThemeMode = "light"
	ThemeDark  ThemeMode = "dark"
)

func normalizeTheme(m ThemeMode) ThemeMode {
	if m == ThemeDark {
		return ThemeDark
	}
	return ThemeLight
}

// Theme is the persisted light/dark preference.
type Theme struct {
	*Container[ThemeMode]
}

func NewTheme(ctx context.Context, store kv.Store) (*Theme, error) {
	c, err := NewPersisted(ctx, store, ThemeKey, ThemeLight, WithNormalize(normalizeTheme))
	if err != nil {
		return nil, err
	}
	return &Theme{Container: c}, nil
}

// Toggle flips between light and dark in one commit and returns the new
// mode.
func (t *Theme) Toggle(ctx context.Context) (ThemeMode, error) {
	var next ThemeMode
	err := t.Update(ctx, func(cur ThemeMode) ThemeMode {
		if cur == ThemeDark {
			next = ThemeLight
		} else {
			next = ThemeDark
		}
		return next
	})
	if err != nil {
		return t.Get(), err
	}
	return next, nil
}

// ModelParams is the AI model selection used for generation.
type ModelParams struct {
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// DefaultModelParams are used until the user picks something else.
func DefaultModelParams() ModelParams {
	return ModelParams{
		Model:           "gemini-2.5-flash",
		Temperature:     0.9,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 8192,
	}
}

// Clamp keeps every parameter inside the range the generators accept.
func (p ModelParams) Clamp() ModelParams {
	def := DefaultModelParams()
	p.Model = strings.TrimSpace(p.Model)
	if p.Model == "" {
		p.Model = def.Model
	}
	p.Temperature = clampFloat(p.Temperature, 0, 2)
	p.TopP = clampFloat(p.TopP, 0, 1)
	if p.TopK <= 0 {
		p.TopK = def.TopK
	}
	if p.TopK > 100 {
		p.TopK = 100
	}
	if p.MaxOutputTokens <= 0 {
		p.MaxOutputTokens = def.MaxOutputTokens
	}
	if p.MaxOutputTokens > 65536 {
		p.MaxOutputTokens = 65536
	}
	return p
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ModelSettings is the persisted model selection.
type ModelSettings struct {
	*Container[ModelParams]
}

func NewModelSettings(ctx context.Context, store kv.Store) (*ModelSettings, error) {
	c, err := NewPersisted(ctx, store, ModelSettingsKey, DefaultModelParams(), WithNormalize(ModelParams.Clamp))
	if err != nil {
		return nil, err
	}
	return &ModelSettings{Container: c}, nil
}

// Reset restores the defaults.
func (m *ModelSettings) Reset(ctx context.Context) error {
	return m.Set(ctx, DefaultModelParams())
}
