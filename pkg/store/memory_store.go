package store

import (
	"context"
	"sync"
	"time"

	"scriptstudio/pkg/domain"
)

// memoryCollection keeps encoded rows in process memory. Rows are stored
// encoded so callers never share nested slices with the store.
type memoryCollection[T any, P docPtr[T]] struct {
	mu     sync.RWMutex
	name   string
	nextID int64
	rows   map[int64]documentRow
	orders []int64
	feed   *Changefeed
}

func newMemoryCollection[T any, P docPtr[T]](name string, feed *Changefeed) *memoryCollection[T, P] {
	return &memoryCollection[T, P]{
		name: name,
		rows: make(map[int64]documentRow),
		feed: feed,
	}
}

func (m *memoryCollection[T, P]) Add(ctx context.Context, rec T) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	row, err := prepareInsert[T, P](&rec, time.Now())
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	id := m.insertLocked(row)
	m.mu.Unlock()
	m.feed.publish(m.name, OpAdd, id)
	return id, nil
}

func (m *memoryCollection[T, P]) BulkAdd(ctx context.Context, recs []T) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	rows := make([]documentRow, 0, len(recs))
	for i := range recs {
		rec := recs[i]
		row, err := prepareInsert[T, P](&rec, now)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	ids := make([]int64, 0, len(rows))
	m.mu.Lock()
	for _, row := range rows {
		ids = append(ids, m.insertLocked(row))
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.feed.publish(m.name, OpAdd, id)
	}
	return ids, nil
}

func (m *memoryCollection[T, P]) insertLocked(row documentRow) int64 {
	m.nextID++
	row.ID = m.nextID
	m.rows[row.ID] = row
	m.orders = append(m.orders, row.ID)
	return row.ID
}

func (m *memoryCollection[T, P]) Get(ctx context.Context, id int64) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	m.mu.RLock()
	row, ok := m.rows[id]
	m.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}
	rec, err := decodeRow[T, P](row)
	if err != nil {
		return zero, false, err
	}
	return rec, true, nil
}

func (m *memoryCollection[T, P]) Update(ctx context.Context, id int64, patch func(*T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	row, ok := m.rows[id]
	if !ok {
		m.mu.Unlock()
		return &domain.NotFoundError{Collection: m.name, ID: id}
	}
	rec, err := decodeRow[T, P](row)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	updated, err := applyPatch[T, P](rec, id, patch, time.Now())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.rows[id] = updated
	m.mu.Unlock()
	m.feed.publish(m.name, OpUpdate, id)
	return nil
}

func (m *memoryCollection[T, P]) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if _, ok := m.rows[id]; !ok {
		m.mu.Unlock()
		return &domain.NotFoundError{Collection: m.name, ID: id}
	}
	delete(m.rows, id)
	filtered := m.orders[:0]
	for _, item := range m.orders {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.orders = filtered
	m.mu.Unlock()
	m.feed.publish(m.name, OpDelete, id)
	return nil
}

func (m *memoryCollection[T, P]) List(ctx context.Context, filter Filter[T]) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	rows := make([]documentRow, 0, len(m.orders))
	for _, id := range m.orders {
		row := m.rows[id]
		if filter.ScriptID > 0 && row.ScriptID != filter.ScriptID {
			continue
		}
		if filter.Category != "" && row.Category != filter.Category {
			continue
		}
		rows = append(rows, row)
	}
	m.mu.RUnlock()
	res := make([]T, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRow[T, P](row)
		if err != nil {
			return nil, err
		}
		if filter.Match != nil && !filter.Match(rec) {
			continue
		}
		res = append(res, rec)
		if filter.Limit > 0 && len(res) == filter.Limit {
			break
		}
	}
	return res, nil
}

func (m *memoryCollection[T, P]) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows), nil
}
