package identity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the single owner of the current identity. All methods are safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	current Identity
	backend Backend
	now     func() time.Time
}

// Open loads the persisted identity. A backend with nothing stored yields an
// empty identity, which is the state of an unpaired device.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}

	current, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	return &Store{
		current: current,
		backend: backend,
		now:     time.Now,
	}, nil
}

func (s *Store) Current() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

// Replace persists next and makes it current. Expiry never moves backwards.
func (s *Store) Replace(ctx context.Context, next Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next.ExpiresAt.Before(s.current.ExpiresAt) {
		next.ExpiresAt = s.current.ExpiresAt
	}

	err := s.backend.Save(ctx, next)
	if err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}

	s.current = next

	return nil
}

func (s *Store) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current.IsExpired(s.now())
}
