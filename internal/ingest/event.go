package ingest

import (
	"fmt"

	"github.com/agent-beacon/backend/internal/session"
)

// Kind identifies an inbound lifecycle event. The set is closed: unknown
// kinds are rejected at the boundary, never silently ignored.
type Kind string

const (
	KindStart         Kind = "start"
	KindNotification  Kind = "notification"
	KindToolUse       Kind = "tool_use"
	KindStatusChange  Kind = "status_change"
	KindSubagentStart Kind = "subagent_start"
	KindSubagentStop  Kind = "subagent_stop"
	KindTodoUpdate    Kind = "todo_update"
	KindPlanUpdate    Kind = "plan_update"
	KindEnd           Kind = "end"
)

var validKinds = map[Kind]bool{
	KindStart:         true,
	KindNotification:  true,
	KindToolUse:       true,
	KindStatusChange:  true,
	KindSubagentStart: true,
	KindSubagentStop:  true,
	KindTodoUpdate:    true,
	KindPlanUpdate:    true,
	KindEnd:           true,
}

// Event is the wire payload produced by the hook scripts. Producers are
// best-effort: an event may be lost, duplicated, or arrive out of order,
// so every field beyond Kind and SessionID is optional.
type Event struct {
	Kind      Kind   `json:"kind"`
	SessionID string `json:"session_id"`

	ProjectPath string `json:"project_path,omitempty"`
	ProjectName string `json:"project_name,omitempty"`

	Message    string `json:"message,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Status     string `json:"status,omitempty"`
	StatusText string `json:"status_text,omitempty"`

	TerminalKind   string `json:"terminal_kind,omitempty"`
	TerminalTarget string `json:"terminal_target,omitempty"`
	TerminalPID    int    `json:"terminal_pid,omitempty"`
	TerminalTTY    string `json:"terminal_tty,omitempty"`

	ParentID            string `json:"parent_id,omitempty"`
	SubagentType        string `json:"subagent_type,omitempty"`
	SubagentDescription string `json:"subagent_description,omitempty"`

	Todos []session.Todo `json:"todos,omitempty"`

	PlanName string   `json:"plan_name,omitempty"`
	PlanStep int      `json:"plan_step,omitempty"`
	Steps    []string `json:"plan_steps,omitempty"`
	PlanFile string   `json:"plan_file,omitempty"`
}

// ValidationError marks a malformed event. Malformed events are rejected
// wholesale: nothing is applied to the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// Validate checks the identifying fields an event must carry before any
// transition rule runs.
func (e *Event) Validate() error {
	if !validKinds[e.Kind] {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown value %q", e.Kind)}
	}
	if e.SessionID == "" {
		return &ValidationError{Field: "session_id", Reason: "is required"}
	}
	if e.Kind == KindStatusChange {
		if _, ok := session.ParseStatus(e.Status); !ok {
			return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", e.Status)}
		}
	}
	return nil
}
