package app

import "errors"

var (
	// ErrQueueDisabled is returned by job operations when no Redis queue is
	// configured.
	ErrQueueDisabled = errors.New("generation queue not configured")
	// ErrBlobsDisabled is returned by media uploads without a blob store.
	ErrBlobsDisabled = errors.New("media storage not configured")
	ErrUnknownKind   = errors.New("unknown media kind")
)
