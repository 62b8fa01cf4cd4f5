package session

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

// memPersister is an in-memory Persister for tests. failSave makes the
// next Save return an error.
type memPersister struct {
	saved    map[string]*Session
	failSave bool
}

func newMemPersister() *memPersister {
	return &memPersister{saved: make(map[string]*Session)}
}

func (m *memPersister) Save(s *Session) error {
	if m.failSave {
		return errors.New("disk full")
	}
	m.saved[s.ID] = s.Clone()
	return nil
}

func (m *memPersister) Delete(id string) error {
	delete(m.saved, id)
	return nil
}

func (m *memPersister) LoadAll() ([]*Session, error) {
	var all []*Session
	for _, s := range m.saved {
		all = append(all, s.Clone())
	}
	return all, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*Store, *memPersister) {
	t.Helper()
	p := newMemPersister()
	s, err := NewStore(p, testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, p
}

func TestUpsertCreatesWithDefaults(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.Upsert("a", nil)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got.ID != "a" {
		t.Errorf("ID = %q, want a", got.ID)
	}
	if got.Status != Pending {
		t.Errorf("new session Status = %v, want Pending", got.Status)
	}
	if got.LastActivityAt.IsZero() {
		t.Error("LastActivityAt not stamped")
	}
}

func TestUpsertReadYourWrites(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Upsert("a", func(sess *Session) { sess.Status = Working }); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok := s.Get("a")
	if !ok {
		t.Fatal("Get returned ok=false after Upsert")
	}
	if got.Status != Working {
		t.Errorf("Get after Upsert: Status = %v, want Working", got.Status)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	s.Upsert("a", func(sess *Session) { sess.Name = "original" })

	got, _ := s.Get("a")
	got.Name = "mutated"

	got2, _ := s.Get("a")
	if got2.Name != "original" {
		t.Error("Get did not return a copy; mutation leaked into store")
	}
}

func TestUpsertWritesThrough(t *testing.T) {
	s, p := newTestStore(t)
	s.Upsert("a", func(sess *Session) { sess.Name = "alpha" })

	saved, ok := p.saved["a"]
	if !ok {
		t.Fatal("session not written to persister")
	}
	if saved.Name != "alpha" {
		t.Errorf("persisted Name = %q, want alpha", saved.Name)
	}
}

func TestUpsertPersistFailureIsAtomic(t *testing.T) {
	s, p := newTestStore(t)
	s.Upsert("a", func(sess *Session) { sess.Name = "before" })

	notified := 0
	s.Subscribe(func(Event) { notified++ })

	p.failSave = true
	if _, err := s.Upsert("a", func(sess *Session) { sess.Name = "after" }); err == nil {
		t.Fatal("Upsert succeeded despite persist failure")
	}

	got, _ := s.Get("a")
	if got.Name != "before" {
		t.Errorf("failed Upsert mutated cache: Name = %q, want before", got.Name)
	}
	if notified != 0 {
		t.Errorf("failed Upsert notified %d subscribers, want 0", notified)
	}
}

func TestSubscribersSeeCommitOrder(t *testing.T) {
	s, _ := newTestStore(t)

	var seen []string
	s.Subscribe(func(ev Event) {
		switch ev.Type {
		case EventUpserted:
			seen = append(seen, "up:"+ev.ID)
		case EventRemoved:
			seen = append(seen, "rm:"+ev.ID)
		}
	})

	s.Upsert("a", nil)
	s.Upsert("b", nil)
	s.Remove("a")

	want := []string{"up:a", "up:b", "rm:a"}
	if len(seen) != len(want) {
		t.Fatalf("saw %d events, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	s, _ := newTestStore(t)

	s.Subscribe(func(Event) { panic("bad subscriber") })
	called := false
	s.Subscribe(func(Event) { called = true })

	if _, err := s.Upsert("a", nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if !called {
		t.Error("panic in one subscriber starved the next")
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("panic in subscriber lost the write")
	}
}

func TestRemoveUnknownIsNoOp(t *testing.T) {
	s, _ := newTestStore(t)

	notified := false
	s.Subscribe(func(Event) { notified = true })

	if err := s.Remove("ghost"); err != nil {
		t.Errorf("Remove of unknown id returned %v, want nil", err)
	}
	if notified {
		t.Error("Remove of unknown id notified subscribers")
	}
}

func TestNewStoreWarmsFromPersister(t *testing.T) {
	p := newMemPersister()
	p.saved["a"] = &Session{ID: "a", Status: Working}

	s, err := NewStore(p, testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, ok := s.Get("a")
	if !ok || got.Status != Working {
		t.Errorf("warmed session = %+v, ok=%v", got, ok)
	}
}

func TestAllReturnsCopies(t *testing.T) {
	s, _ := newTestStore(t)
	s.Upsert("a", func(sess *Session) { sess.Name = "original" })

	all := s.All()
	if len(all) != 1 {
		t.Fatalf("All returned %d sessions, want 1", len(all))
	}
	all[0].Name = "mutated"

	got, _ := s.Get("a")
	if got.Name != "original" {
		t.Error("All did not return copies; mutation leaked into store")
	}
}

func TestCount(t *testing.T) {
	s, _ := newTestStore(t)
	if got := s.Count(); got != 0 {
		t.Errorf("empty store Count = %d", got)
	}
	s.Upsert("a", nil)
	s.Upsert("b", nil)
	if got := s.Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}
