package domain

import "time"

// BuildMeta marks the schema version the store was last migrated to and
// when the default prompts were seeded.
type BuildMeta struct {
	ID            int64     `json:"id,omitempty"`
	SchemaVersion int       `json:"schemaVersion"`
	AppVersion    string    `json:"appVersion,omitempty"`
	SeededAt      time.Time `json:"seededAt,omitempty"`
	Timestamps
}

func (b *BuildMeta) DocumentID() int64      { return b.ID }
func (b *BuildMeta) SetDocumentID(id int64) { b.ID = id }
func (b *BuildMeta) IndexKeys() IndexKeys   { return IndexKeys{Title: b.AppVersion} }

func (b *BuildMeta) Validate() error {
	if b.SchemaVersion <= 0 {
		return Invalid("schemaVersion", "must be positive")
	}
	return nil
}
