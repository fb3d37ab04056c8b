package service

import (
	"context"
	"sync"
	"time"

	"shortlink/pkg/storage"
)

// mockStore is a map-backed storage.Store that counts sessions so tests
// can check that every acquired session is released.
type mockStore struct {
	mu       sync.Mutex
	links    map[string]*storage.ShortLink
	clicks   map[int64][]storage.ClickEvent
	nextID   int64
	acquired int
	released int

	// failInsert, when set, is returned by InsertLinkIfAbsent.
	failInsert error
	// clock supplies click timestamps; identical values exercise tie-breaking.
	clock func() time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		links:  make(map[string]*storage.ShortLink),
		clicks: make(map[int64][]storage.ClickEvent),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *mockStore) Session(ctx context.Context, fn func(storage.Session) error) error {
	m.mu.Lock()
	m.acquired++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.released++
		m.mu.Unlock()
	}()
	return fn(&mockSession{store: m})
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) linkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

type mockSession struct {
	store *mockStore
}

func (s *mockSession) InsertLinkIfAbsent(ctx context.Context, link *storage.ShortLink) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failInsert != nil {
		return m.failInsert
	}
	if _, exists := m.links[link.ShortID]; exists {
		return storage.ErrConflict
	}
	m.nextID++
	link.ID = m.nextID
	link.CreatedAt = time.Now().UTC()
	stored := *link
	m.links[link.ShortID] = &stored
	return nil
}

func (s *mockSession) GetLink(ctx context.Context, shortID string) (*storage.ShortLink, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if link, exists := m.links[shortID]; exists {
		cp := *link
		return &cp, nil
	}
	return nil, nil
}

func (s *mockSession) AppendClick(ctx context.Context, link *storage.ShortLink, click *storage.ClickEvent) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	click.ID = m.nextID
	click.LinkID = link.ID
	click.ClickedAt = m.clock()
	m.clicks[link.ID] = append(m.clicks[link.ID], *click)
	return nil
}

func (s *mockSession) CountClicks(ctx context.Context, link *storage.ShortLink) (int64, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.clicks[link.ID])), nil
}

func (s *mockSession) RecentClicks(ctx context.Context, link *storage.ShortLink, limit int) ([]storage.ClickEvent, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.clicks[link.ID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]storage.ClickEvent{}, all...), nil
}
