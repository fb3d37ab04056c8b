package storage

import (
	"context"
	"errors"
)

// ErrConflict is returned when an insert hits an existing unique key.
var ErrConflict = errors.New("storage conflict: unique key already exists")

// Store is the process-wide handle to the persistence backend.
type Store interface {
	// Session acquires a scoped handle, runs fn with it and releases the
	// handle on every path. Transactional backends commit when fn returns
	// nil and roll back otherwise.
	Session(ctx context.Context, fn func(Session) error) error
	Close() error
}

// Session is the set of operations available inside a Store.Session scope.
type Session interface {
	// InsertLinkIfAbsent writes link unless its short_id or custom_alias is
	// already taken, in which case it returns ErrConflict and writes nothing.
	// On success ID and CreatedAt are filled in by the store.
	InsertLinkIfAbsent(ctx context.Context, link *ShortLink) error
	// GetLink returns nil, nil when no link has shortID.
	GetLink(ctx context.Context, shortID string) (*ShortLink, error)
	// AppendClick fills in ID and ClickedAt.
	AppendClick(ctx context.Context, link *ShortLink, click *ClickEvent) error
	CountClicks(ctx context.Context, link *ShortLink) (int64, error)
	// RecentClicks returns at most limit clicks, oldest first.
	RecentClicks(ctx context.Context, link *ShortLink, limit int) ([]ClickEvent, error)
}
