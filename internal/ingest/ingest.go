package ingest

import (
	"fmt"
	"log/slog"

	"github.com/agent-beacon/backend/internal/session"
)

// Ingestor maps each inbound event kind to a state transition against the
// store. Every transition is idempotent under duplicate delivery: applying
// the same event twice yields the same record (modulo LastActivityAt).
type Ingestor struct {
	store  *session.Store
	logger *slog.Logger
}

func New(store *session.Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: store, logger: logger}
}

// Apply validates the event and runs its transition rule. A returned
// *ValidationError means nothing was applied.
func (i *Ingestor) Apply(ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	switch ev.Kind {
	case KindStart:
		return i.applyStart(ev)
	case KindNotification:
		return i.applyNotification(ev)
	case KindToolUse:
		return i.applyToolUse(ev)
	case KindStatusChange:
		return i.applyStatusChange(ev)
	case KindSubagentStart:
		return i.applySubagentStart(ev)
	case KindSubagentStop:
		return i.applySubagentStop(ev)
	case KindTodoUpdate:
		return i.applyTodoUpdate(ev)
	case KindPlanUpdate:
		return i.applyPlanUpdate(ev)
	case KindEnd:
		return i.applyEnd(ev)
	}
	return fmt.Errorf("unhandled event kind %q", ev.Kind)
}

// applyStart resets the session to a fresh idle state and refreshes its
// terminal binding and project metadata. A pending record discovered
// earlier for the same project path is superseded, never merged.
func (i *Ingestor) applyStart(ev Event) error {
	if ev.ProjectPath != "" {
		for _, existing := range i.store.All() {
			if existing.ID == ev.SessionID {
				continue
			}
			if existing.Status == session.Pending && existing.ProjectPath == ev.ProjectPath {
				if err := i.store.Remove(existing.ID); err != nil {
					return err
				}
				i.logger.Debug("superseded pending session", "id", existing.ID, "by", ev.SessionID)
			}
		}
	}

	_, err := i.store.Upsert(ev.SessionID, func(s *session.Session) {
		s.Status = session.Idle
		s.Alerting = false
		s.Attention = session.AttentionNone
		s.PendingMessage = ""
		applyProjectMetadata(s, ev)
		applyTerminalBinding(s, ev)
	})
	return err
}

// applyNotification marks the session as needing input. An unknown id is
// synthesized as a newly discovered subagent; the parent link is attached
// best-effort and never validated.
func (i *Ingestor) applyNotification(ev Event) error {
	_, err := i.store.Upsert(ev.SessionID, func(s *session.Session) {
		s.Status = session.NeedsInput
		s.Alerting = true
		s.Attention = ClassifyAttention(ev.Message)
		if ev.Message != "" {
			s.PendingMessage = ev.Message
		}
		if s.ParentID == "" && ev.ParentID != "" {
			s.ParentID = ev.ParentID
		}
		applyProjectMetadata(s, ev)
		applyTerminalBinding(s, ev)
	})
	return err
}

// applyToolUse moves the session to working unless the tool use looks like
// a stale signal racing an unacknowledged alert.
func (i *Ingestor) applyToolUse(ev Event) error {
	_, err := i.store.Upsert(ev.SessionID, func(s *session.Session) {
		switch {
		case s.Alerting && isReadOnlyTool(ev.Tool):
			// A read-only tool cannot have consumed the pending approval;
			// the alert stands.
		case ev.Tool == spawnTool:
			// Spawning a child does not consume a pending approval either,
			// but the parent is demonstrably busy.
			s.Status = session.Working
			s.CurrentTask = ev.Tool
		default:
			s.Status = session.Working
			s.Alerting = false
			s.Attention = session.AttentionNone
			if ev.Tool != "" {
				s.CurrentTask = ev.Tool
			}
		}
	})
	return err
}

// applyStatusChange applies an explicit status, except that an idle
// downgrade must not silently clear an unacknowledged concurrent alert.
// The narrated status text updates unconditionally.
func (i *Ingestor) applyStatusChange(ev Event) error {
	next, _ := session.ParseStatus(ev.Status) // validated in Apply
	_, err := i.store.Upsert(ev.SessionID, func(s *session.Session) {
		s.LastStatusText = ev.StatusText
		if next == session.Idle && s.Status == session.NeedsInput && s.Alerting {
			return
		}
		s.Status = next
	})
	return err
}

func (i *Ingestor) applySubagentStart(ev Event) error {
	_, err := i.store.Upsert(ev.SessionID, func(s *session.Session) {
		s.Status = session.Working
		if s.ParentID == "" && ev.ParentID != "" {
			s.ParentID = ev.ParentID
		}
		if s.Name == "" {
			if ev.SubagentDescription != "" {
				s.Name = ev.SubagentDescription
			} else if ev.SubagentType != "" {
				s.Name = ev.SubagentType
			}
		}
		if ev.SubagentDescription != "" {
			s.CurrentTask = ev.SubagentDescription
		}
	})
	return err
}

// applySubagentStop marks the child completed without deleting it; history
// is retained for the life of the process.
func (i *Ingestor) applySubagentStop(ev Event) error {
	_, err := i.store.Upsert(ev.SessionID, func(s *session.Session) {
		s.Status = session.Completed
		s.Alerting = false
		s.Attention = session.AttentionNone
		if s.ParentID == "" && ev.ParentID != "" {
			s.ParentID = ev.ParentID
		}
	})
	return err
}

// applyTodoUpdate merges auxiliary progress only; status and alerting are
// never touched.
func (i *Ingestor) applyTodoUpdate(ev Event) error {
	_, err := i.store.Upsert(ev.SessionID, func(s *session.Session) {
		s.Todos = ev.Todos
	})
	return err
}

func (i *Ingestor) applyPlanUpdate(ev Event) error {
	_, err := i.store.Upsert(ev.SessionID, func(s *session.Session) {
		if ev.PlanName != "" {
			s.Plan.Name = ev.PlanName
		}
		if len(ev.Steps) > 0 {
			s.Plan.Steps = ev.Steps
		}
		s.Plan.CurrentStep = ev.PlanStep
		if ev.PlanFile != "" {
			s.Plan.FilePath = ev.PlanFile
		}
	})
	return err
}

func (i *Ingestor) applyEnd(ev Event) error {
	return i.store.Remove(ev.SessionID)
}

func applyProjectMetadata(s *session.Session, ev Event) {
	if ev.ProjectPath != "" {
		s.ProjectPath = ev.ProjectPath
	}
	if ev.ProjectName != "" {
		s.Name = ev.ProjectName
	}
}

func applyTerminalBinding(s *session.Session, ev Event) {
	if ev.TerminalKind != "" {
		s.Terminal.Kind = ev.TerminalKind
	}
	if ev.TerminalTarget != "" {
		s.Terminal.Target = ev.TerminalTarget
	}
	if ev.TerminalPID != 0 {
		s.Terminal.PID = ev.TerminalPID
	}
	if ev.TerminalTTY != "" {
		s.Terminal.TTY = ev.TerminalTTY
	}
}
