package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/storage"
	"scriptstudio/pkg/store"
)

// MediaUpload describes a generated image, video or audio clip. Body is
// optional when SourceURI points at an existing blob.
type MediaUpload struct {
	Kind        domain.MediaKind
	ScriptID    int64
	ActNumber   int
	SceneNumber int
	SourceURI   string
	ContentType string
	Size        int64
	Body        io.Reader
	Params      map[string]any

	Prompt          string
	Width           int
	Height          int
	DurationSeconds float64
	RoleID          string
	Voice           string
	Text            string
}

// MediaItem is one stored media record of any kind.
type MediaItem struct {
	Kind   domain.MediaKind
	Record mediaDoc
}

func (m MediaItem) ID() int64 { return m.Record.Media().ID }

func (m MediaItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Record)
}

type mediaDoc interface {
	Media() *domain.MediaRecord
}

type mediaPtr[T any] interface {
	*T
	mediaDoc
}

// UploadMedia stores the blob under a key derived from the script alias and
// records its metadata. The blob is removed again when the record is
// rejected.
func (a *App) UploadMedia(ctx context.Context, up MediaUpload) (MediaItem, error) {
	script, err := a.GetScript(ctx, up.ScriptID)
	if err != nil {
		return MediaItem{}, err
	}
	base := domain.MediaRecord{
		ScriptID:    up.ScriptID,
		ActNumber:   up.ActNumber,
		SceneNumber: up.SceneNumber,
		SourceURI:   strings.TrimSpace(up.SourceURI),
		MimeType:    up.ContentType,
		Params:      up.Params,
	}
	if up.Body != nil {
		if a.blobs == nil {
			return MediaItem{}, ErrBlobsDisabled
		}
		key := storage.MediaKey(script, up.Kind, up.ActNumber, up.SceneNumber, up.ContentType)
		if err := a.blobs.Put(ctx, key, up.Body, up.Size, up.ContentType); err != nil {
			return MediaItem{}, fmt.Errorf("store blob: %w", err)
		}
		base.BlobKey = key
	}

	var item MediaItem
	switch up.Kind {
	case domain.MediaImage:
		item, err = addMedia(ctx, a.store.Images, up.Kind, domain.ImageRecord{MediaRecord: base, Prompt: up.Prompt, Width: up.Width, Height: up.Height})
	case domain.MediaVideo:
		item, err = addMedia(ctx, a.store.Videos, up.Kind, domain.VideoRecord{MediaRecord: base, Prompt: up.Prompt, DurationSeconds: up.DurationSeconds})
	case domain.MediaAudio:
		item, err = addMedia(ctx, a.store.Audios, up.Kind, domain.AudioRecord{MediaRecord: base, RoleID: up.RoleID, Voice: up.Voice, Text: up.Text, DurationSeconds: up.DurationSeconds})
	default:
		err = ErrUnknownKind
	}
	if err != nil && base.BlobKey != "" {
		if derr := a.blobs.Delete(ctx, base.BlobKey); derr != nil {
			slog.Warn("app: remove orphan blob failed", "key", base.BlobKey, "err", derr)
		}
	}
	return item, err
}

func addMedia[T any, P mediaPtr[T]](ctx context.Context, c store.Collection[T], kind domain.MediaKind, rec T) (MediaItem, error) {
	id, err := c.Add(ctx, rec)
	if err != nil {
		return MediaItem{}, err
	}
	P(&rec).Media().ID = id
	return MediaItem{Kind: kind, Record: P(&rec)}, nil
}

// ListMedia returns the media of one kind attached to scriptID, or all of
// them when scriptID is zero.
func (a *App) ListMedia(ctx context.Context, kind domain.MediaKind, scriptID int64) ([]MediaItem, error) {
	switch kind {
	case domain.MediaImage:
		return listMedia(ctx, a.store.Images, kind, scriptID)
	case domain.MediaVideo:
		return listMedia(ctx, a.store.Videos, kind, scriptID)
	case domain.MediaAudio:
		return listMedia(ctx, a.store.Audios, kind, scriptID)
	}
	return nil, ErrUnknownKind
}

func listMedia[T any, P mediaPtr[T]](ctx context.Context, c store.Collection[T], kind domain.MediaKind, scriptID int64) ([]MediaItem, error) {
	recs, err := c.List(ctx, store.Filter[T]{ScriptID: scriptID})
	if err != nil {
		return nil, err
	}
	items := make([]MediaItem, 0, len(recs))
	for i := range recs {
		items = append(items, MediaItem{Kind: kind, Record: P(&recs[i])})
	}
	return items, nil
}

func (a *App) GetMedia(ctx context.Context, kind domain.MediaKind, id int64) (MediaItem, error) {
	switch kind {
	case domain.MediaImage:
		return getMedia(ctx, a.store.Images, kind, store.CollectionImages, id)
	case domain.MediaVideo:
		return getMedia(ctx, a.store.Videos, kind, store.CollectionVideos, id)
	case domain.MediaAudio:
		return getMedia(ctx, a.store.Audios, kind, store.CollectionAudios, id)
	}
	return MediaItem{}, ErrUnknownKind
}

func getMedia[T any, P mediaPtr[T]](ctx context.Context, c store.Collection[T], kind domain.MediaKind, collection string, id int64) (MediaItem, error) {
	rec, ok, err := c.Get(ctx, id)
	if err != nil {
		return MediaItem{}, err
	}
	if !ok {
		return MediaItem{}, &domain.NotFoundError{Collection: collection, ID: id}
	}
	return MediaItem{Kind: kind, Record: P(&rec)}, nil
}

// MediaURL returns a time-limited URL for the blob of a media record, or its
// SourceURI when it has no blob.
func (a *App) MediaURL(ctx context.Context, kind domain.MediaKind, id int64, expiry time.Duration) (string, error) {
	item, err := a.GetMedia(ctx, kind, id)
	if err != nil {
		return "", err
	}
	m := item.Record.Media()
	if m.BlobKey == "" {
		return m.SourceURI, nil
	}
	if a.blobs == nil {
		return "", ErrBlobsDisabled
	}
	return a.blobs.PresignGet(ctx, m.BlobKey, expiry)
}

// DeleteMedia removes the record, then its blob. A blob that cannot be
// removed is logged and left behind.
func (a *App) DeleteMedia(ctx context.Context, kind domain.MediaKind, id int64) error {
	item, err := a.GetMedia(ctx, kind, id)
	if err != nil {
		return err
	}
	switch kind {
	case domain.MediaImage:
		err = a.store.Images.Delete(ctx, id)
	case domain.MediaVideo:
		err = a.store.Videos.Delete(ctx, id)
	case domain.MediaAudio:
		err = a.store.Audios.Delete(ctx, id)
	}
	if err != nil {
		return err
	}
	if key := item.Record.Media().BlobKey; key != "" && a.blobs != nil {
		if err := a.blobs.Delete(ctx, key); err != nil {
			slog.Warn("app: delete blob failed", "key", key, "err", err)
		}
	}
	return nil
}
