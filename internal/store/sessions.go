package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agent-beacon/backend/internal/session"
)

// SessionStore mirrors session records into the sessions table. It
// implements session.Persister.
type SessionStore struct {
	db *DB
}

func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Save writes the full record, inserting or replacing by id.
func (s *SessionStore) Save(sess *session.Session) error {
	todos, err := encodeJSON(sess.Todos)
	if err != nil {
		return fmt.Errorf("encode todos: %w", err)
	}
	plan, err := encodeJSON(sess.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (
			id, name, status, project_path, current_task, pending_message,
			last_activity_at, alerting, attention,
			terminal_kind, terminal_target, terminal_pid, terminal_tty,
			parent_id, todos, plan, last_status_text
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			project_path = excluded.project_path,
			current_task = excluded.current_task,
			pending_message = excluded.pending_message,
			last_activity_at = excluded.last_activity_at,
			alerting = excluded.alerting,
			attention = excluded.attention,
			terminal_kind = excluded.terminal_kind,
			terminal_target = excluded.terminal_target,
			terminal_pid = excluded.terminal_pid,
			terminal_tty = excluded.terminal_tty,
			parent_id = excluded.parent_id,
			todos = excluded.todos,
			plan = excluded.plan,
			last_status_text = excluded.last_status_text`,
		sess.ID, sess.Name, sess.Status.String(), sess.ProjectPath,
		sess.CurrentTask, sess.PendingMessage,
		sess.LastActivityAt.UnixMilli(), boolToInt(sess.Alerting),
		string(sess.Attention),
		sess.Terminal.Kind, sess.Terminal.Target, sess.Terminal.PID,
		sess.Terminal.TTY,
		sess.ParentID, todos, plan, sess.LastStatusText,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// Delete removes the row for id. Deleting an absent row is not an error.
func (s *SessionStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// LoadAll reads every mirrored record, used to warm the cache at startup.
func (s *SessionStore) LoadAll() ([]*session.Session, error) {
	rows, err := s.db.Query(`
		SELECT id, name, status, project_path, current_task, pending_message,
			last_activity_at, alerting, attention,
			terminal_kind, terminal_target, terminal_pid, terminal_tty,
			parent_id, todos, plan, last_status_text
		FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var result []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func scanSession(rows *sql.Rows) (*session.Session, error) {
	var (
		sess       session.Session
		statusName string
		activityMs int64
		alerting   int
		attention  string
		todos      sql.NullString
		plan       sql.NullString
	)
	err := rows.Scan(
		&sess.ID, &sess.Name, &statusName, &sess.ProjectPath,
		&sess.CurrentTask, &sess.PendingMessage,
		&activityMs, &alerting, &attention,
		&sess.Terminal.Kind, &sess.Terminal.Target, &sess.Terminal.PID,
		&sess.Terminal.TTY,
		&sess.ParentID, &todos, &plan, &sess.LastStatusText,
	)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if st, ok := session.ParseStatus(statusName); ok {
		sess.Status = st
	}
	sess.LastActivityAt = time.UnixMilli(activityMs)
	sess.Alerting = alerting != 0
	sess.Attention = session.Attention(attention)
	if todos.Valid && todos.String != "" {
		if err := json.Unmarshal([]byte(todos.String), &sess.Todos); err != nil {
			return nil, fmt.Errorf("decode todos for %s: %w", sess.ID, err)
		}
	}
	if plan.Valid && plan.String != "" {
		if err := json.Unmarshal([]byte(plan.String), &sess.Plan); err != nil {
			return nil, fmt.Errorf("decode plan for %s: %w", sess.ID, err)
		}
	}
	return &sess, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
