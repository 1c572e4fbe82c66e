// Package session keeps logged-in family sessions in memory.
//
// Sessions are opaque random ids mapped to a family code, with TTL expiry and
// LRU eviction so an abandoned browser tab can never grow the map unbounded.
package session

import (
	"container/list"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const CookieName = "buoni_session"

// Store is an in-memory TTL+LRU session store.
type Store struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
}

type entry struct {
	id        string
	family    string
	expiresAt time.Time
}

func NewStore(maxSize int, ttl time.Duration) *Store {
	return &Store{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Create opens a new session for the family and returns its id.
func (s *Store) Create(family string) string {
	id := newSessionID()

	s.mu.Lock()
	defer s.mu.Unlock()

	elem := s.lru.PushFront(&entry{
		id:        id,
		family:    family,
		expiresAt: time.Now().Add(s.ttl),
	})
	s.items[id] = elem

	if s.lru.Len() > s.maxSize {
		if oldest := s.lru.Back(); oldest != nil {
			s.removeElement(oldest)
		}
	}

	return id
}

// Lookup resolves a session id to its family code. A hit refreshes the
// session's position, not its deadline: sessions expire ttl after login.
func (s *Store) Lookup(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, exists := s.items[id]
	if !exists {
		return "", false
	}

	e := elem.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		s.removeElement(elem)
		return "", false
	}

	s.lru.MoveToFront(elem)
	return e.family, true
}

// Delete ends a session. Unknown ids are ignored.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, exists := s.items[id]; exists {
		s.removeElement(elem)
	}
}

func (s *Store) removeElement(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(s.items, e.id)
	s.lru.Remove(elem)
}

// CleanExpired removes expired sessions and returns how many were dropped.
func (s *Store) CleanExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element

	for elem := s.lru.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*entry).expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		s.removeElement(elem)
	}

	return len(toRemove)
}

// TTL returns the session lifetime, for cookie max-age alignment.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Size returns the number of live sessions.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func newSessionID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand failing is close to fatal; a timestamp id keeps login working.
		return fmt.Sprintf("sess_%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
