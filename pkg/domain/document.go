package domain

import "time"

// Document is a record persisted in one of the store collections.
// Implementations are pointer receivers on the domain structs.
type Document interface {
	DocumentID() int64
	SetDocumentID(id int64)
	// Touch stamps CreatedAt (when unset) and UpdatedAt.
	Touch(now time.Time)
	Created() time.Time
	Updated() time.Time
	SetCreated(at time.Time)
	Validate() error
	IndexKeys() IndexKeys
}

// IndexKeys are the secondary columns a collection indexes for filtering.
type IndexKeys struct {
	Title    string
	Category string
	ScriptID int64
}

// Timestamps is embedded by every stored document.
type Timestamps struct {
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

func (t *Timestamps) Touch(now time.Time) {
	now = now.UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

func (t *Timestamps) Created() time.Time     { return t.CreatedAt }
func (t *Timestamps) Updated() time.Time     { return t.UpdatedAt }
func (t *Timestamps) SetCreated(at time.Time) { t.CreatedAt = at }
