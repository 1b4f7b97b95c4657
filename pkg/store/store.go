package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"scriptstudio/pkg/domain"
)

const (
	// DatabaseName identifies the store on disk and in logs.
	DatabaseName = "script-studio"
	// SchemaVersion is bumped whenever a collection's layout changes.
	SchemaVersion = 3
)

// Collection names double as table names.
const (
	CollectionScripts   = "scripts"
	CollectionPrompts   = "prompts"
	CollectionImages    = "images"
	CollectionVideos    = "videos"
	CollectionAudios    = "audios"
	CollectionBuildMeta = "build_meta"
)

// Collection is a typed set of documents keyed by an auto-assigned id.
// Every write is atomic per call and published on the owning Store's
// Changefeed after it commits.
type Collection[T any] interface {
	// Add validates and inserts rec, returning the assigned id.
	Add(ctx context.Context, rec T) (int64, error)
	// BulkAdd inserts all records or none, returning ids in input order.
	BulkAdd(ctx context.Context, recs []T) ([]int64, error)
	Get(ctx context.Context, id int64) (T, bool, error)
	// Update applies patch to the stored record inside one transaction.
	// The record id and creation time cannot be changed by patch.
	Update(ctx context.Context, id int64, patch func(*T) error) error
	Delete(ctx context.Context, id int64) error
	// List returns matching records in insertion order.
	List(ctx context.Context, filter Filter[T]) ([]T, error)
	Count(ctx context.Context) (int, error)
}

// Filter narrows List results. Zero values match everything.
type Filter[T any] struct {
	ScriptID int64
	Category string
	Match    func(T) bool
	Limit    int
}

// Store groups the collections of one database.
type Store struct {
	Scripts Collection[domain.Script]
	Prompts Collection[domain.PromptRecord]
	Images  Collection[domain.ImageRecord]
	Videos  Collection[domain.VideoRecord]
	Audios  Collection[domain.AudioRecord]
	Meta    Collection[domain.BuildMeta]

	Changes *Changefeed

	db *gorm.DB
}

type Options struct {
	AppVersion string
}

type Option func(*Options)

// WithAppVersion records the running application version in BuildMeta.
func WithAppVersion(version string) Option {
	return func(opts *Options) {
		opts.AppVersion = version
	}
}

// NewMemory returns a Store that keeps everything in process memory.
func NewMemory() *Store {
	feed := NewChangefeed()
	return &Store{
		Scripts: newMemoryCollection[domain.Script](CollectionScripts, feed),
		Prompts: newMemoryCollection[domain.PromptRecord](CollectionPrompts, feed),
		Images:  newMemoryCollection[domain.ImageRecord](CollectionImages, feed),
		Videos:  newMemoryCollection[domain.VideoRecord](CollectionVideos, feed),
		Audios:  newMemoryCollection[domain.AudioRecord](CollectionAudios, feed),
		Meta:    newMemoryCollection[domain.BuildMeta](CollectionBuildMeta, feed),
		Changes: feed,
	}
}

// DB exposes the underlying connection so other persisted stores (settings)
// can share the database file. It is nil for memory stores.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// BuildMeta returns the store's version marker.
func (s *Store) BuildMeta(ctx context.Context) (domain.BuildMeta, bool, error) {
	items, err := s.Meta.List(ctx, Filter[domain.BuildMeta]{Limit: 1})
	if err != nil {
		return domain.BuildMeta{}, false, err
	}
	if len(items) == 0 {
		return domain.BuildMeta{}, false, nil
	}
	return items[0], true, nil
}

// NeedsSeeding reports whether default prompts have never been seeded.
func (s *Store) NeedsSeeding(ctx context.Context) (bool, error) {
	meta, ok, err := s.BuildMeta(ctx)
	if err != nil {
		return false, err
	}
	return !ok || meta.SeededAt.IsZero(), nil
}

// EnsureBuildMeta creates or upgrades the version marker.
func (s *Store) EnsureBuildMeta(ctx context.Context, appVersion string) (domain.BuildMeta, error) {
	meta, ok, err := s.BuildMeta(ctx)
	if err != nil {
		return domain.BuildMeta{}, err
	}
	if !ok {
		meta = domain.BuildMeta{SchemaVersion: SchemaVersion, AppVersion: appVersion}
		id, err := s.Meta.Add(ctx, meta)
		if err != nil {
			return domain.BuildMeta{}, fmt.Errorf("create build meta: %w", err)
		}
		meta.ID = id
		return meta, nil
	}
	if meta.SchemaVersion >= SchemaVersion && (appVersion == "" || meta.AppVersion == appVersion) {
		return meta, nil
	}
	err = s.Meta.Update(ctx, meta.ID, func(m *domain.BuildMeta) error {
		if m.SchemaVersion < SchemaVersion {
			m.SchemaVersion = SchemaVersion
		}
		if appVersion != "" {
			m.AppVersion = appVersion
		}
		meta = *m
		return nil
	})
	if err != nil {
		return domain.BuildMeta{}, fmt.Errorf("upgrade build meta: %w", err)
	}
	return meta, nil
}

func (s *Store) markSeeded(ctx context.Context, at time.Time) error {
	meta, err := s.EnsureBuildMeta(ctx, "")
	if err != nil {
		return err
	}
	return s.Meta.Update(ctx, meta.ID, func(m *domain.BuildMeta) error {
		m.SeededAt = at.UTC()
		return nil
	})
}
