package session

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"

	"archivision/internal/domain"
)

const memoryCleanupInterval = 10 * time.Minute

// MemoryStore keeps sessions in process memory and expires idle ones after
// the configured TTL. Sessions are copied on the way in and out.
type MemoryStore struct {
	items *cache.Cache
	ttl   time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryStore{items: cache.New(ttl, memoryCleanupInterval), ttl: ttl}
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.items.Get(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s, ok := v.(*Session)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.ID == "" {
		return errors.New("session: id is required")
	}
	m.items.Set(s.ID, s.Clone(), m.ttl)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.items.Delete(id)
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	return m.items.ItemCount()
}

var _ Store = (*MemoryStore)(nil)
