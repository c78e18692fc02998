package cookiepool

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/use-agent/mediagate/models"
)

var (
	// ErrNotFound is returned when no cookie record has the requested id.
	ErrNotFound = errors.New("cookiepool: cookie not found")
	// ErrDuplicate is returned by Create when the id is taken.
	ErrDuplicate = errors.New("cookiepool: duplicate cookie id")
)

// Store persists cookie records. Implementations must return copies so
// callers can mutate results freely.
type Store interface {
	List(ctx context.Context, platform models.Platform) ([]models.CookieRecord, error)
	Get(ctx context.Context, id string) (models.CookieRecord, error)
	Create(ctx context.Context, rec models.CookieRecord) error
	// Save replaces the stored record unless it already holds a newer
	// Version, in which case the write is dropped without error.
	Save(ctx context.Context, rec models.CookieRecord) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]models.CookieRecord
}

// NewMemoryStore returns a MemoryStore holding recs.
func NewMemoryStore(recs ...models.CookieRecord) *MemoryStore {
	s := &MemoryStore{recs: make(map[string]models.CookieRecord, len(recs))}
	for _, r := range recs {
		s.recs[r.ID] = r
	}
	return s
}

func (s *MemoryStore) List(_ context.Context, platform models.Platform) ([]models.CookieRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CookieRecord
	for _, r := range s.recs {
		if r.Platform == platform {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (models.CookieRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[id]
	if !ok {
		return models.CookieRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Create(_ context.Context, rec models.CookieRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; ok {
		return ErrDuplicate
	}
	s.recs[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Save(_ context.Context, rec models.CookieRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.recs[rec.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version > rec.Version {
		return nil
	}
	s.recs[rec.ID] = rec
	return nil
}
