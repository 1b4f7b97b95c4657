package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"scriptstudio/pkg/domain"
)

var collectionTables = []string{
	CollectionScripts,
	CollectionPrompts,
	CollectionImages,
	CollectionVideos,
	CollectionAudios,
	CollectionBuildMeta,
}

// Open opens or creates the database at dsn and migrates every collection.
// A postgres:// DSN selects Postgres; anything else is a SQLite file path,
// optionally prefixed with sqlite://.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	opts := Options{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	db, err := openDB(dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	feed := NewChangefeed()
	s := &Store{
		Scripts: newGormCollection[domain.Script](db, CollectionScripts, feed),
		Prompts: newGormCollection[domain.PromptRecord](db, CollectionPrompts, feed),
		Images:  newGormCollection[domain.ImageRecord](db, CollectionImages, feed),
		Videos:  newGormCollection[domain.VideoRecord](db, CollectionVideos, feed),
		Audios:  newGormCollection[domain.AudioRecord](db, CollectionAudios, feed),
		Meta:    newGormCollection[domain.BuildMeta](db, CollectionBuildMeta, feed),
		Changes: feed,
		db:      db,
	}
	if _, err := s.EnsureBuildMeta(ctx, opts.AppVersion); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func openDB(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{Logger: gormLog}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps transactions
	// from racing each other for the file lock.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func migrate(db *gorm.DB) error {
	for _, table := range collectionTables {
		if err := db.Table(table).AutoMigrate(&documentRow{}); err != nil {
			return fmt.Errorf("auto migrate %s: %w", table, err)
		}
		for _, column := range []string{"script_id", "category"} {
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", table, column, table, column)
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index %s.%s: %w", table, column, err)
			}
		}
	}
	return nil
}

type docPtr[T any] interface {
	*T
	domain.Document
}

// gormCollection implements Collection on one table of documentRow.
type gormCollection[T any, P docPtr[T]] struct {
	db    *gorm.DB
	table string
	feed  *Changefeed
}

func newGormCollection[T any, P docPtr[T]](db *gorm.DB, table string, feed *Changefeed) *gormCollection[T, P] {
	return &gormCollection[T, P]{db: db, table: table, feed: feed}
}

func (c *gormCollection[T, P]) Add(ctx context.Context, rec T) (int64, error) {
	row, err := prepareInsert[T, P](&rec, time.Now())
	if err != nil {
		return 0, err
	}
	if err := c.db.WithContext(ctx).Table(c.table).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("insert %s: %w", c.table, err)
	}
	c.feed.publish(c.table, OpAdd, row.ID)
	return row.ID, nil
}

func (c *gormCollection[T, P]) BulkAdd(ctx context.Context, recs []T) ([]int64, error) {
	if len(recs) == 0 {
		return []int64{}, nil
	}
	now := time.Now()
	rows := make([]documentRow, 0, len(recs))
	for i := range recs {
		rec := recs[i]
		row, err := prepareInsert[T, P](&rec, now)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	ids := make([]int64, 0, len(rows))
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			if err := tx.Table(c.table).Create(&rows[i]).Error; err != nil {
				return err
			}
			ids = append(ids, rows[i].ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bulk insert %s: %w", c.table, err)
	}
	for _, id := range ids {
		c.feed.publish(c.table, OpAdd, id)
	}
	return ids, nil
}

func (c *gormCollection[T, P]) Get(ctx context.Context, id int64) (T, bool, error) {
	var zero T
	var row documentRow
	if err := c.db.WithContext(ctx).Table(c.table).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, false, nil
		}
		return zero, false, err
	}
	rec, err := decodeRow[T, P](row)
	if err != nil {
		return zero, false, err
	}
	return rec, true, nil
}

func (c *gormCollection[T, P]) Update(ctx context.Context, id int64, patch func(*T) error) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row documentRow
		if err := tx.Table(c.table).Where("id = ?", id).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &domain.NotFoundError{Collection: c.table, ID: id}
			}
			return err
		}
		rec, err := decodeRow[T, P](row)
		if err != nil {
			return err
		}
		updated, err := applyPatch[T, P](rec, id, patch, time.Now())
		if err != nil {
			return err
		}
		return tx.Table(c.table).Where("id = ?", id).Updates(map[string]any{
			"title":      updated.Title,
			"category":   updated.Category,
			"script_id":  updated.ScriptID,
			"body":       updated.Body,
			"updated_at": updated.UpdatedAt,
		}).Error
	})
	if err != nil {
		return err
	}
	c.feed.publish(c.table, OpUpdate, id)
	return nil
}

func (c *gormCollection[T, P]) Delete(ctx context.Context, id int64) error {
	res := c.db.WithContext(ctx).Table(c.table).Where("id = ?", id).Delete(&documentRow{})
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", c.table, res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Collection: c.table, ID: id}
	}
	c.feed.publish(c.table, OpDelete, id)
	return nil
}

func (c *gormCollection[T, P]) List(ctx context.Context, filter Filter[T]) ([]T, error) {
	tx := c.db.WithContext(ctx).Table(c.table).Order("id ASC")
	if filter.ScriptID > 0 {
		tx = tx.Where("script_id = ?", filter.ScriptID)
	}
	if filter.Category != "" {
		tx = tx.Where("category = ?", filter.Category)
	}
	if filter.Match == nil && filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	var rows []documentRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
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

func (c *gormCollection[T, P]) Count(ctx context.Context) (int, error) {
	var count int64
	if err := c.db.WithContext(ctx).Table(c.table).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// prepareInsert validates rec, stamps it and encodes the row. The id is
// cleared so the database assigns it.
func prepareInsert[T any, P docPtr[T]](rec *T, now time.Time) (documentRow, error) {
	p := P(rec)
	p.SetDocumentID(0)
	if err := p.Validate(); err != nil {
		return documentRow{}, err
	}
	p.Touch(now)
	return encodeRow[T, P](rec)
}

// applyPatch runs patch against a copy of rec and re-encodes it, keeping
// the id and creation time of the stored record.
func applyPatch[T any, P docPtr[T]](rec T, id int64, patch func(*T) error, now time.Time) (documentRow, error) {
	original := rec
	if err := patch(&rec); err != nil {
		return documentRow{}, err
	}
	p := P(&rec)
	p.SetDocumentID(0)
	if err := p.Validate(); err != nil {
		return documentRow{}, err
	}
	p.SetCreated(P(&original).Created())
	p.Touch(now)
	row, err := encodeRow[T, P](&rec)
	if err != nil {
		return documentRow{}, err
	}
	row.ID = id
	return row, nil
}

func encodeRow[T any, P docPtr[T]](rec *T) (documentRow, error) {
	p := P(rec)
	body, err := json.Marshal(rec)
	if err != nil {
		return documentRow{}, fmt.Errorf("encode document: %w", err)
	}
	keys := p.IndexKeys()
	return documentRow{
		ID:        p.DocumentID(),
		Title:     keys.Title,
		Category:  keys.Category,
		ScriptID:  keys.ScriptID,
		Body:      datatypes.JSON(body),
		CreatedAt: p.Created(),
		UpdatedAt: p.Updated(),
	}, nil
}

func decodeRow[T any, P docPtr[T]](row documentRow) (T, error) {
	var rec T
	if err := json.Unmarshal(row.Body, &rec); err != nil {
		return rec, fmt.Errorf("decode document %d: %w", row.ID, err)
	}
	P(&rec).SetDocumentID(row.ID)
	return rec, nil
}
