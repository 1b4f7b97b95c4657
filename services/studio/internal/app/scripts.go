package app

import (
	"context"
	"strings"

	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/store"
	"scriptstudio/pkg/validate"
)

// AddScript stores s and returns its id with advisory warnings.
func (a *App) AddScript(ctx context.Context, s domain.Script) (int64, []string, error) {
	id, err := a.store.Scripts.Add(ctx, s)
	if err != nil {
		return 0, nil, err
	}
	return id, validate.CheckScript(s), nil
}

func (a *App) GetScript(ctx context.Context, id int64) (domain.Script, error) {
	s, ok, err := a.store.Scripts.Get(ctx, id)
	if err != nil {
		return domain.Script{}, err
	}
	if !ok {
		return domain.Script{}, &domain.NotFoundError{Collection: store.CollectionScripts, ID: id}
	}
	return s, nil
}

// ListScripts returns scripts whose title contains query, case-insensitively.
func (a *App) ListScripts(ctx context.Context, query string, limit int) ([]domain.Script, error) {
	filter := store.Filter[domain.Script]{Limit: limit}
	if query != "" {
		filter.Match = func(s domain.Script) bool { return containsFold(s.Title, query) }
	}
	return a.store.Scripts.List(ctx, filter)
}

// ReplaceScript overwrites the content of script id with s.
func (a *App) ReplaceScript(ctx context.Context, id int64, s domain.Script) ([]string, error) {
	var updated domain.Script
	err := a.store.Scripts.Update(ctx, id, func(cur *domain.Script) error {
		s.ID = cur.ID
		s.Timestamps = cur.Timestamps
		*cur = s
		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return validate.CheckScript(updated), nil
}

// CleanScript strips stage directions from every dialogue line and reports
// how many lines changed.
func (a *App) CleanScript(ctx context.Context, id int64) (int, error) {
	changed := 0
	err := a.store.Scripts.Update(ctx, id, func(s *domain.Script) error {
		changed = validate.CleanScriptDialogue(s)
		return nil
	})
	return changed, err
}

// DeleteScript removes the script and every media record attached to it.
func (a *App) DeleteScript(ctx context.Context, id int64) error {
	if err := a.store.Scripts.Delete(ctx, id); err != nil {
		return err
	}
	for _, kind := range []domain.MediaKind{domain.MediaImage, domain.MediaVideo, domain.MediaAudio} {
		items, err := a.ListMedia(ctx, kind, id)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := a.DeleteMedia(ctx, kind, item.ID()); err != nil {
				return err
			}
		}
	}
	return nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(sub)))
}
