package server

import (
	"slices"
	"strings"
	"sync"
)

type SessionRegistry struct {
	mu    sync.RWMutex
	store map[string]Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{store: make(map[string]Session)}
}

func (r *SessionRegistry) Store(session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[session.Meta().Id] = session
}

func (r *SessionRegistry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.store[id]
	return val, ok
}

func (r *SessionRegistry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.store, id)
}

func (r *SessionRegistry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]Session, 0, len(r.store))
	for _, s := range r.store {
		sessions = append(sessions, s)
	}

	return sessions
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}

// MarkLoggedIn records a successful login on the session with id, replacing
// the product keys of any earlier login on it.
func (r *SessionRegistry) MarkLoggedIn(id string, productKeys []string, prefetch int) (Session, bool) {
	r.mu.RLock()
	session, ok := r.store[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	meta := session.Meta()
	meta.Mu.Lock()
	meta.LoggedIn = true
	meta.ProductKeys = slices.Clone(productKeys)
	meta.Prefetch = prefetch
	meta.Mu.Unlock()
	return session, true
}

// LoggedIn lists the sessions that completed a login, ordered by id.
func (r *SessionRegistry) LoggedIn() []Session {
	return r.filter(func(meta *SessionMetadata) bool { return meta.LoggedIn })
}

// ByProductKey lists the logged in sessions subscribed to productKey, ordered
// by id.
func (r *SessionRegistry) ByProductKey(productKey string) []Session {
	return r.filter(func(meta *SessionMetadata) bool {
		return meta.LoggedIn && slices.Contains(meta.ProductKeys, productKey)
	})
}

func (r *SessionRegistry) filter(keep func(meta *SessionMetadata) bool) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []Session
	for _, s := range r.store {
		meta := s.Meta()
		meta.Mu.RLock()
		ok := keep(meta)
		meta.Mu.RUnlock()
		if ok {
			sessions = append(sessions, s)
		}
	}
	slices.SortFunc(sessions, func(a, b Session) int {
		return strings.Compare(a.Meta().Id, b.Meta().Id)
	})
	return sessions
}
