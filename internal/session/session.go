package session

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a tracked session.
type Status int

const (
	Pending Status = iota
	Idle
	Working
	NeedsInput
	Error
	Completed
)

var statusNames = map[Status]string{
	Pending:    "pending",
	Idle:       "idle",
	Working:    "working",
	NeedsInput: "needs_input",
	Error:      "error",
	Completed:  "completed",
}

var statusFromName = map[string]Status{
	"pending":     Pending,
	"idle":        Idle,
	"working":     Working,
	"needs_input": NeedsInput,
	"error":       Error,
	"completed":   Completed,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseStatus maps a wire name to a Status. ok is false for unknown names.
func ParseStatus(name string) (Status, bool) {
	s, ok := statusFromName[name]
	return s, ok
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

// statusPriority orders statuses by urgency. Higher wins when a session
// tree is folded into a single effective status.
var statusPriority = map[Status]int{
	NeedsInput: 5,
	Error:      4,
	Working:    3,
	Idle:       2,
	Pending:    1,
	Completed:  0,
}

// Priority returns the urgency rank of the status, highest first.
func (s Status) Priority() int {
	return statusPriority[s]
}

// Attention classifies an alerting session by how badly it needs a human.
type Attention string

const (
	AttentionNone     Attention = ""
	AttentionCritical Attention = "critical"
	AttentionCasual   Attention = "casual"
)

// TerminalBinding is the opaque reference needed to deliver automated
// input to the process driving a session. Target is multiplexer-specific
// (for tmux, a pane reference like "main:2.0").
type TerminalBinding struct {
	Kind   string `json:"kind,omitempty"`
	Target string `json:"target,omitempty"`
	PID    int    `json:"pid,omitempty"`
	TTY    string `json:"tty,omitempty"`
}

type Todo struct {
	Text   string `json:"text"`
	Status string `json:"status,omitempty"`
}

type Plan struct {
	Name        string   `json:"name,omitempty"`
	Steps       []string `json:"steps,omitempty"`
	CurrentStep int      `json:"currentStep,omitempty"`
	FilePath    string   `json:"filePath,omitempty"`
}

// Session is the canonical per-session record. Subagent sessions carry a
// ParentID; the link is event-supplied and may dangle.
type Session struct {
	ID             string          `json:"id"`
	Name           string          `json:"name,omitempty"`
	Status         Status          `json:"status"`
	ProjectPath    string          `json:"projectPath,omitempty"`
	CurrentTask    string          `json:"currentTask,omitempty"`
	PendingMessage string          `json:"pendingMessage,omitempty"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	Alerting       bool            `json:"alerting"`
	Attention      Attention       `json:"attention,omitempty"`
	Terminal       TerminalBinding `json:"terminal"`
	ParentID       string          `json:"parentId,omitempty"`
	Todos          []Todo          `json:"todos,omitempty"`
	Plan           Plan            `json:"plan"`
	LastStatusText string          `json:"lastStatusText,omitempty"`
}

// Clone returns a deep copy of the Session, duplicating slice fields so the
// copy can be mutated independently of the original.
func (s *Session) Clone() *Session {
	c := *s
	if len(s.Todos) > 0 {
		c.Todos = make([]Todo, len(s.Todos))
		copy(c.Todos, s.Todos)
	}
	if len(s.Plan.Steps) > 0 {
		c.Plan.Steps = make([]string, len(s.Plan.Steps))
		copy(c.Plan.Steps, s.Plan.Steps)
	}
	return &c
}

// IsTerminal reports whether the session has finished.
func (s *Session) IsTerminal() bool {
	return s.Status == Completed
}
