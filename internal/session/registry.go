package session

import (
	"sync"

	"github.com/saudebot/exam-reminders/internal/domain"
)

// Registry tracks the single active conversation per identifier. The memory
// backend is the default: a restart drops in-flight conversations, which is
// an accepted trade-off since every flow can simply be re-entered.
type Registry interface {
	Get(id string) (*domain.Session, bool)
	Set(id string, s *domain.Session)
	Clear(id string)
}

type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]*domain.Session)}
}

func (r *MemoryRegistry) Get(id string) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

func (r *MemoryRegistry) Set(id string, s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[id] = &cp
}

func (r *MemoryRegistry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
