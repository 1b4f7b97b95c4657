package app

import (
	"context"
	"encoding/json"
	"strings"

	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/store"
	"scriptstudio/pkg/validate"
)

// ListPrompts returns prompt records, optionally narrowed to one category.
func (a *App) ListPrompts(ctx context.Context, category domain.PromptCategory) ([]domain.PromptRecord, error) {
	if category != "" && !domain.ValidCategory(category) {
		return nil, domain.Invalid("category", "must be one of: %s", domain.CategoryList())
	}
	return a.store.Prompts.List(ctx, store.Filter[domain.PromptRecord]{Category: string(category)})
}

func (a *App) GetPrompt(ctx context.Context, id int64) (domain.PromptRecord, error) {
	p, ok, err := a.store.Prompts.Get(ctx, id)
	if err != nil {
		return domain.PromptRecord{}, err
	}
	if !ok {
		return domain.PromptRecord{}, &domain.NotFoundError{Collection: store.CollectionPrompts, ID: id}
	}
	return p, nil
}

func (a *App) CreatePrompt(ctx context.Context, p domain.PromptRecord) (int64, error) {
	return a.store.Prompts.Add(ctx, p)
}

func (a *App) ReplacePrompt(ctx context.Context, id int64, p domain.PromptRecord) error {
	return a.store.Prompts.Update(ctx, id, func(cur *domain.PromptRecord) error {
		p.ID = cur.ID
		p.Timestamps = cur.Timestamps
		*cur = p
		return nil
	})
}

func (a *App) DeletePrompt(ctx context.Context, id int64) error {
	return a.store.Prompts.Delete(ctx, id)
}

// ImportPrompts accepts one prompt object or an array of them and adds them
// all or none.
func (a *App) ImportPrompts(ctx context.Context, text string) ([]int64, error) {
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		check := validate.ValidatePromptJSON(text)
		if !check.IsValid {
			return nil, domain.Invalid("prompt", "%s", check.Error)
		}
		id, err := a.store.Prompts.Add(ctx, *check.Data)
		if err != nil {
			return nil, err
		}
		return []int64{id}, nil
	}
	recs, err := validate.ValidatePromptListJSON(text)
	if err != nil {
		return nil, err
	}
	return a.store.Prompts.BulkAdd(ctx, recs)
}

// ExportPrompts renders every prompt record as an indented JSON array that
// ImportPrompts accepts.
func (a *App) ExportPrompts(ctx context.Context) ([]byte, error) {
	recs, err := a.store.Prompts.List(ctx, store.Filter[domain.PromptRecord]{})
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].ID = 0
	}
	return json.MarshalIndent(recs, "", "  ")
}
