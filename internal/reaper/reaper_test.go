package reaper

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/agent-beacon/backend/internal/config"
	"github.com/agent-beacon/backend/internal/session"
)

type memPersister struct{}

func (memPersister) Save(*session.Session) error          { return nil }
func (memPersister) Delete(string) error                  { return nil }
func (memPersister) LoadAll() ([]*session.Session, error) { return nil, nil }

func newTestReaper(t *testing.T, cfg config.ReaperConfig) (*Reaper, *session.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := session.NewStore(memPersister{}, logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return New(store, cfg, logger), store
}

func seed(t *testing.T, store *session.Store, s session.Session) {
	t.Helper()
	if _, err := store.Upsert(s.ID, func(dst *session.Session) { *dst = s }); err != nil {
		t.Fatalf("seed %s: %v", s.ID, err)
	}
}

func TestSweepCompletesDeadPID(t *testing.T) {
	r, store := newTestReaper(t, config.ReaperConfig{InactiveAfter: 2 * time.Hour})
	r.pidAlive = func(int32) (bool, error) { return false, nil }

	seed(t, store, session.Session{
		ID: "a", Status: session.NeedsInput, Alerting: true,
		Attention: session.AttentionCritical,
		Terminal:  session.TerminalBinding{PID: 1234},
	})

	r.Sweep()

	s, _ := store.Get("a")
	if s.Status != session.Completed {
		t.Errorf("Status = %v, want Completed", s.Status)
	}
	if s.Alerting || s.Attention != session.AttentionNone {
		t.Errorf("dead session still alerting: %+v", s)
	}
}

func TestSweepKeepsLivePID(t *testing.T) {
	r, store := newTestReaper(t, config.ReaperConfig{InactiveAfter: 2 * time.Hour})
	r.pidAlive = func(int32) (bool, error) { return true, nil }

	seed(t, store, session.Session{
		ID: "a", Status: session.Working,
		Terminal: session.TerminalBinding{PID: 1234},
	})

	r.Sweep()

	s, _ := store.Get("a")
	if s.Status != session.Working {
		t.Errorf("live session was touched: Status = %v", s.Status)
	}
}

func TestSweepProbeErrorAssumesAlive(t *testing.T) {
	r, store := newTestReaper(t, config.ReaperConfig{InactiveAfter: 2 * time.Hour})
	r.pidAlive = func(int32) (bool, error) { return false, errors.New("permission denied") }

	seed(t, store, session.Session{
		ID: "a", Status: session.Working,
		Terminal: session.TerminalBinding{PID: 1234},
	})

	r.Sweep()

	s, _ := store.Get("a")
	if s.Status != session.Working {
		t.Errorf("inconclusive probe killed the session: Status = %v", s.Status)
	}
}

func TestSweepCompletesInactiveWithoutPID(t *testing.T) {
	r, store := newTestReaper(t, config.ReaperConfig{InactiveAfter: time.Hour})

	seed(t, store, session.Session{ID: "stale", Status: session.Working})

	// Sweep from past the inactivity threshold.
	r.now = func() time.Time { return time.Now().Add(61 * time.Minute) }
	r.Sweep()

	if s, ok := store.Get("stale"); ok && s.Status != session.Completed {
		t.Errorf("inactive session not completed: %v", s.Status)
	}
}

func TestSweepKeepsRecentlyActiveWithoutPID(t *testing.T) {
	r, store := newTestReaper(t, config.ReaperConfig{InactiveAfter: time.Hour})

	seed(t, store, session.Session{ID: "fresh", Status: session.Working})

	r.now = func() time.Time { return time.Now().Add(30 * time.Minute) }
	r.Sweep()

	if s, ok := store.Get("fresh"); !ok || s.Status != session.Working {
		t.Errorf("active session was reaped: %+v, ok=%v", s, ok)
	}
}

func TestSweepPrunesOldCompleted(t *testing.T) {
	r, store := newTestReaper(t, config.ReaperConfig{
		InactiveAfter:       2 * time.Hour,
		CompletedPruneAfter: 30 * time.Minute,
	})

	seed(t, store, session.Session{ID: "done", Status: session.Completed})
	r.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	r.Sweep()

	if _, ok := store.Get("done"); ok {
		t.Error("old completed session survived prune")
	}
}

func TestSweepPrunesAnyPastLongThreshold(t *testing.T) {
	r, store := newTestReaper(t, config.ReaperConfig{
		InactiveAfter:       time.Hour,
		CompletedPruneAfter: 30 * time.Minute,
	})

	seed(t, store, session.Session{
		ID: "ancient", Status: session.Working,
		Terminal: session.TerminalBinding{PID: 1234},
	})
	r.pidAlive = func(int32) (bool, error) { return true, nil }
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	r.Sweep()

	if _, ok := store.Get("ancient"); ok {
		t.Error("record past the long threshold survived prune")
	}
}

func TestSweepSkipsTerminalSessions(t *testing.T) {
	r, store := newTestReaper(t, config.ReaperConfig{
		InactiveAfter:       2 * time.Hour,
		CompletedPruneAfter: time.Hour,
	})
	probed := false
	r.pidAlive = func(int32) (bool, error) { probed = true; return false, nil }

	seed(t, store, session.Session{
		ID: "done", Status: session.Completed,
		Terminal: session.TerminalBinding{PID: 1234},
	})

	r.Sweep()

	if probed {
		t.Error("reaper probed the pid of a completed session")
	}
}

func TestPruneByAge(t *testing.T) {
	r, store := newTestReaper(t, config.ReaperConfig{})

	seed(t, store, session.Session{ID: "a", Status: session.Working})
	seed(t, store, session.Session{ID: "b", Status: session.Completed})

	r.now = func() time.Time { return time.Now().Add(20 * time.Minute) }

	if removed := r.Prune(30 * time.Minute); removed != 0 {
		t.Errorf("Prune(30m) removed %d records under the threshold", removed)
	}
	if removed := r.Prune(10 * time.Minute); removed != 2 {
		t.Errorf("Prune(10m) removed %d, want 2", removed)
	}
	if store.Count() != 0 {
		t.Errorf("%d records survived admin prune", store.Count())
	}
}
