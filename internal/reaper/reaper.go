package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/agent-beacon/backend/internal/config"
	"github.com/agent-beacon/backend/internal/session"
)

// Reaper reconciles store state against OS process liveness and age. It is
// a single local probe, not a failure detector: an inconclusive check is
// treated as "still alive", preferring false negatives over killing a live
// session's record.
type Reaper struct {
	store  *session.Store
	cfg    config.ReaperConfig
	logger *slog.Logger

	pidAlive func(pid int32) (bool, error)
	now      func() time.Time
}

func New(store *session.Store, cfg config.ReaperConfig, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		pidAlive: process.PidExists,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on every interval tick until the
// context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.Sweep()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep marks dead or long-inactive sessions completed, then prunes old
// records. Mutations go through the store so subscribers observe them.
func (r *Reaper) Sweep() {
	now := r.now()

	for _, s := range r.store.All() {
		if s.IsTerminal() {
			continue
		}

		if s.Terminal.PID > 0 {
			alive, err := r.pidAlive(int32(s.Terminal.PID))
			if err != nil {
				// Probe inconclusive; assume alive.
				r.logger.Debug("liveness probe failed", "id", s.ID, "pid", s.Terminal.PID, "error", err)
				continue
			}
			if !alive {
				r.markCompleted(s.ID, "process gone")
			}
			continue
		}

		if r.cfg.InactiveAfter > 0 && now.Sub(s.LastActivityAt) > r.cfg.InactiveAfter {
			r.markCompleted(s.ID, "inactive")
		}
	}

	r.prune(now)
}

func (r *Reaper) markCompleted(id, reason string) {
	_, err := r.store.Upsert(id, func(s *session.Session) {
		s.Status = session.Completed
		s.Alerting = false
		s.Attention = session.AttentionNone
	})
	if err != nil {
		r.logger.Error("failed to mark session completed", "id", id, "error", err)
		return
	}
	r.logger.Info("session completed by reaper", "id", id, "reason", reason)
}

// prune hard-deletes completed records past the short threshold and any
// record past the long threshold.
func (r *Reaper) prune(now time.Time) {
	for _, s := range r.store.All() {
		age := now.Sub(s.LastActivityAt)
		expired := (s.IsTerminal() && r.cfg.CompletedPruneAfter > 0 && age > r.cfg.CompletedPruneAfter) ||
			(r.cfg.InactiveAfter > 0 && age > r.cfg.InactiveAfter)
		if !expired {
			continue
		}
		if err := r.store.Remove(s.ID); err != nil {
			r.logger.Error("failed to prune session", "id", s.ID, "error", err)
			continue
		}
		r.logger.Info("session pruned", "id", s.ID, "age", age.Round(time.Second))
	}
}

// Prune hard-deletes every record older than the given age, regardless of
// status. Backs the administrative prune endpoint. Returns the number of
// records removed.
func (r *Reaper) Prune(olderThan time.Duration) int {
	now := r.now()
	removed := 0
	for _, s := range r.store.All() {
		if now.Sub(s.LastActivityAt) <= olderThan {
			continue
		}
		if err := r.store.Remove(s.ID); err != nil {
			r.logger.Error("failed to prune session", "id", s.ID, "error", err)
			continue
		}
		removed++
	}
	return removed
}
