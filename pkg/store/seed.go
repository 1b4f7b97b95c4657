package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scriptstudio/pkg/domain"
)

var seedMu sync.Mutex

// SeedDefaultPrompts inserts defaults when the prompt collection is empty and
// returns how many records were added. A populated collection is left as is
// and reports 0; existing records are never merged or updated.
func SeedDefaultPrompts(ctx context.Context, s *Store, defaults []domain.PromptRecord) (int, error) {
	seedMu.Lock()
	defer seedMu.Unlock()

	count, err := s.Prompts.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count prompts: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	if len(defaults) == 0 {
		return 0, nil
	}
	batch := make([]domain.PromptRecord, len(defaults))
	copy(batch, defaults)
	for i := range batch {
		batch[i].CreatedAt = time.Time{}
		batch[i].UpdatedAt = time.Time{}
	}
	ids, err := s.Prompts.BulkAdd(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("seed prompts: %w", err)
	}
	if err := s.markSeeded(ctx, time.Now()); err != nil {
		return len(ids), fmt.Errorf("mark seeded: %w", err)
	}
	return len(ids), nil
}
