package store

import (
	"strings"
	"sync"
	"time"

	"github.com/deegee85/negotiation-lab/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore is the in-process SessionStore. Sessions are volatile: the map
// starts empty, grows monotonically, and is lost on process termination.
type MemoryStore struct {
	mu       sync.RWMutex
	byHandle map[string]*domain.Session
	byEmail  map[string]*domain.Session
	order    []*domain.Session
	window   time.Duration
	now      func() time.Time
}

// NewMemoryStore creates an empty session store. window is the fixed
// negotiation window applied to every new session's deadline.
func NewMemoryStore(window time.Duration) *MemoryStore {
	return &MemoryStore{
		byHandle: make(map[string]*domain.Session),
		byEmail:  make(map[string]*domain.Session),
		order:    []*domain.Session{},
		window:   window,
		now:      time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.now = now
}

// Create returns the session for the identity, creating it on first start.
// The second return is true when a new session was created.
func (m *MemoryStore) Create(name, email string) (*domain.Session, bool, error) {
	key := normalizeEmail(email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byEmail[key]; ok {
		return existing, false, nil
	}

	start := m.now()
	session := &domain.Session{
		Handle:         uuid.NewString(),
		Name:           name,
		Email:          key,
		Phase:          domain.PhaseNegotiating,
		History:        []domain.Turn{},
		StartedAt:      start,
		Deadline:       start.Add(m.window),
		LastActivityAt: start,
	}

	m.byHandle[session.Handle] = session
	m.byEmail[key] = session
	m.order = append(m.order, session)
	return session, true, nil
}

// Get retrieves a session by handle.
func (m *MemoryStore) Get(handle string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.byHandle[handle]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

// GetByEmail retrieves a session by identity key.
func (m *MemoryStore) GetByEmail(email string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

// All returns every session in creation order.
func (m *MemoryStore) All() []*domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Session, len(m.order))
	copy(out, m.order)
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ SessionStore = (*MemoryStore)(nil)
