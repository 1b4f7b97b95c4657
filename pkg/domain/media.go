package domain

import "strings"

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// MediaRecord is the metadata shared by generated images, videos and audio.
// The blob itself lives at SourceURI or under BlobKey in object storage.
type MediaRecord struct {
	ID          int64          `json:"id,omitempty"`
	ScriptID    int64          `json:"scriptId"`
	ActNumber   int            `json:"actNumber,omitempty"`
	SceneNumber int            `json:"sceneNumber,omitempty"`
	SourceURI   string         `json:"sourceUri,omitempty"`
	BlobKey     string         `json:"blobKey,omitempty"`
	MimeType    string         `json:"mimeType,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Timestamps
}

func (m *MediaRecord) DocumentID() int64      { return m.ID }
func (m *MediaRecord) SetDocumentID(id int64) { m.ID = id }

// Media returns the shared metadata of any media record.
func (m *MediaRecord) Media() *MediaRecord { return m }

// ParseMediaKind maps "image", "video" and "audio" (singular or plural) to
// a MediaKind.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "image":
		return MediaImage, true
	case "video":
		return MediaVideo, true
	case "audio":
		return MediaAudio, true
	}
	return "", false
}

func (m *MediaRecord) validateMedia() error {
	if m.ScriptID <= 0 {
		return Invalid("scriptId", "is required")
	}
	if strings.TrimSpace(m.SourceURI) == "" && strings.TrimSpace(m.BlobKey) == "" {
		return Invalid("sourceUri", "sourceUri or blobKey is required")
	}
	return nil
}

type ImageRecord struct {
	MediaRecord
	Prompt string `json:"prompt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func (r *ImageRecord) Validate() error { return r.validateMedia() }

func (r *ImageRecord) IndexKeys() IndexKeys {
	return IndexKeys{Category: string(MediaImage), ScriptID: r.ScriptID}
}

type VideoRecord struct {
	MediaRecord
	Prompt          string  `json:"prompt,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

func (r *VideoRecord) Validate() error { return r.validateMedia() }

func (r *VideoRecord) IndexKeys() IndexKeys {
	return IndexKeys{Category: string(MediaVideo), ScriptID: r.ScriptID}
}

type AudioRecord struct {
	MediaRecord
	RoleID          string  `json:"roleId,omitempty"`
	Voice           string  `json:"voice,omitempty"`
	Text            string  `json:"text,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

func (r *AudioRecord) Validate() error { return r.validateMedia() }

func (r *AudioRecord) IndexKeys() IndexKeys {
	return IndexKeys{Category: string(MediaAudio), Title: r.RoleID, ScriptID: r.ScriptID}
}
