// Package session groups interactions that happen close together in time.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 180 * time.Second

type Manager struct {
	mu      sync.Mutex
	ttl     time.Duration
	id      string
	touched time.Time
	now     func() time.Time
}

func New(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Manager{ttl: ttl, now: time.Now}
}

// Touch extends the current session, starting a new one if none is live, and
// returns its id.
func (m *Manager) Touch() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if m.id == "" || now.Sub(m.touched) > m.ttl {
		m.id = uuid.NewString()
	}

	m.touched = now

	return m.id
}

// Current returns the live session id, starting one if needed. Unlike Touch it
// does not extend a live session.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if m.id == "" || now.Sub(m.touched) > m.ttl {
		m.id = uuid.NewString()
		m.touched = now
	}

	return m.id
}
