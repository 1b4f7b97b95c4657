package store

import (
	"sync"
	"time"
)

type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one committed write.
type Change struct {
	Collection string    `json:"collection"`
	Op         Op        `json:"op"`
	ID         int64     `json:"id"`
	At         time.Time `json:"at"`
}

// Changefeed fans committed writes out to in-process subscribers, in
// subscription order, on the writing goroutine.
type Changefeed struct {
	mu   sync.RWMutex
	next int
	subs []subscriber
}

type subscriber struct {
	id int
	fn func(Change)
}

func NewChangefeed() *Changefeed {
	return &Changefeed{}
}

// Subscribe registers fn and returns a function that removes it.
func (f *Changefeed) Subscribe(fn func(Change)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.subs = append(f.subs, subscriber{id: id, fn: fn})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s.id == id {
				f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
				return
			}
		}
	}
}

func (f *Changefeed) publish(collection string, op Op, id int64) {
	if f == nil {
		return
	}
	f.mu.RLock()
	subs := make([]subscriber, len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()
	change := Change{Collection: collection, Op: op, ID: id, At: time.Now().UTC()}
	for _, s := range subs {
		s.fn(change)
	}
}
