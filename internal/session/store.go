package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventType classifies store mutations delivered to subscribers.
type EventType int

const (
	EventUpserted EventType = iota
	EventRemoved
)

// Event carries a committed mutation to subscribers. Session is a snapshot
// (safe to retain); it is nil for removals.
type Event struct {
	Type    EventType
	ID      string
	Session *Session
}

// Persister is the durable mirror behind the in-memory cache. Writes are
// synchronous: a mutation is acknowledged only after the mirror accepted it.
type Persister interface {
	Save(*Session) error
	Delete(id string) error
	LoadAll() ([]*Session, error)
}

// Store is the single source of truth for session records. All reads return
// deep copies; all mutations are merge -> persist -> notify under one lock,
// so no reader or subscriber ever observes a half-applied mutation.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	persist  Persister
	subs     []func(Event)
	logger   *slog.Logger

	now func() time.Time // injectable for tests
}

// NewStore builds a Store over the given mirror and warms the cache from it.
func NewStore(persist Persister, logger *slog.Logger) (*Store, error) {
	s := &Store{
		sessions: make(map[string]*Session),
		persist:  persist,
		logger:   logger,
		now:      time.Now,
	}
	loaded, err := persist.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	for _, sess := range loaded {
		s.sessions[sess.ID] = sess
	}
	return s, nil
}

// Subscribe registers a listener invoked synchronously after each committed
// mutation. Listeners must not call back into the Store and must not block;
// panics are recovered and logged so one bad listener cannot poison a write.
func (s *Store) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Upsert merges a mutation over the existing record, or over a fresh default
// when the id is unknown, stamps LastActivityAt, writes through to the
// mirror, and notifies subscribers. Read-your-writes: a Get issued after
// Upsert returns observes the write. The returned snapshot is a copy.
func (s *Store) Upsert(id string, mutate func(*Session)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &Session{ID: id, Status: Pending}
	if existing, ok := s.sessions[id]; ok {
		next = existing.Clone()
	}
	if mutate != nil {
		mutate(next)
	}
	next.ID = id
	next.LastActivityAt = s.now()

	if err := s.persist.Save(next); err != nil {
		return nil, fmt.Errorf("persist session %s: %w", id, err)
	}
	s.sessions[id] = next

	snap := next.Clone()
	s.notify(Event{Type: EventUpserted, ID: id, Session: snap.Clone()})
	return snap, nil
}

// Get returns a copy of the record, or ok=false if absent.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// All returns copies of every record, in no particular order.
func (s *Store) All() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess.Clone())
	}
	return result
}

// Count returns the number of tracked sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Remove deletes a record from cache and mirror. Removing an unknown id is
// a no-op: producers deliver at most best-effort, so an end signal may
// arrive twice or for a session never seen.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return nil
	}
	if err := s.persist.Delete(id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	delete(s.sessions, id)
	s.notify(Event{Type: EventRemoved, ID: id})
	return nil
}

// notify runs under the write lock so subscribers see mutations in commit
// order and never interleave with a concurrent write.
func (s *Store) notify(ev Event) {
	for _, fn := range s.subs {
		s.safeCall(fn, ev)
	}
}

func (s *Store) safeCall(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store subscriber panicked", "panic", r, "session", ev.ID)
		}
	}()
	fn(ev)
}
