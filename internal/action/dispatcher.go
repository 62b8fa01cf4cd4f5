package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/agent-beacon/backend/internal/session"
)

// Action is a quick action delivered to the terminal driving a session.
type Action string

const (
	Approve Action = "approve"
	Deny    Action = "deny"
	Respond Action = "respond"
	Cancel  Action = "cancel"
	Focus   Action = "focus"
)

var validActions = map[Action]bool{
	Approve: true,
	Deny:    true,
	Respond: true,
	Cancel:  true,
	Focus:   true,
}

var (
	// ErrUnknownSession means the referenced id has no record.
	ErrUnknownSession = errors.New("session not found")
	// ErrUnsupportedTerminal means the session's binding is not a kind
	// this dispatcher can drive. No state is mutated.
	ErrUnsupportedTerminal = errors.New("session terminal is not actionable")
	// ErrUnknownAction means the action name is not in the closed set.
	ErrUnknownAction = errors.New("unknown action")
	// ErrEmptyResponse means respond was called without text.
	ErrEmptyResponse = errors.New("respond requires text")
)

// BindingKindTmux is the one actionable terminal binding kind.
const BindingKindTmux = "tmux"

const commandTimeout = 5 * time.Second

// Runner executes the terminal multiplexer binary with the given arguments.
// Injectable so tests run without tmux.
type Runner func(args ...string) error

func tmuxRunner(args ...string) error {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return fmt.Errorf("tmux not found: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if out, err := exec.CommandContext(ctx, path, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("tmux %s: %w (%s)", args[0], err, string(out))
	}
	return nil
}

// Dispatcher resolves a session's terminal binding to an outbound tmux
// command. On send success it clears the session's pending message and
// alert through the store; on failure the pending state is left intact so
// the user can retry.
type Dispatcher struct {
	store  *session.Store
	run    Runner
	logger *slog.Logger
}

func NewDispatcher(store *session.Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, run: tmuxRunner, logger: logger}
}

// NewDispatcherWithRunner builds a Dispatcher with an injected runner.
func NewDispatcherWithRunner(store *session.Store, run Runner, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, run: run, logger: logger}
}

// Dispatch delivers the action to the session's terminal. response is only
// consulted for Respond.
func (d *Dispatcher) Dispatch(id string, act Action, response string) error {
	if !validActions[act] {
		return fmt.Errorf("%w: %q", ErrUnknownAction, act)
	}
	if act == Respond && response == "" {
		return ErrEmptyResponse
	}

	s, ok := d.store.Get(id)
	if !ok {
		return ErrUnknownSession
	}
	if s.Terminal.Kind != BindingKindTmux || s.Terminal.Target == "" {
		return fmt.Errorf("%w: kind=%q", ErrUnsupportedTerminal, s.Terminal.Kind)
	}

	if err := d.send(s.Terminal.Target, act, response); err != nil {
		return err
	}

	// Focus only switches the user's view; the alert is still pending.
	if act != Focus {
		if _, err := d.store.Upsert(id, func(s *session.Session) {
			s.PendingMessage = ""
			s.Alerting = false
			s.Attention = session.AttentionNone
		}); err != nil {
			return err
		}
	}
	d.logger.Info("action dispatched", "id", id, "action", act, "target", s.Terminal.Target)
	return nil
}

func (d *Dispatcher) send(target string, act Action, response string) error {
	switch act {
	case Approve:
		// Permission prompts are numbered menus; option 1 accepts.
		return d.run("send-keys", "-t", target, "1", "Enter")
	case Deny:
		return d.run("send-keys", "-t", target, "Escape")
	case Respond:
		// -l sends the text literally so it is never interpreted as key names.
		if err := d.run("send-keys", "-t", target, "-l", response); err != nil {
			return err
		}
		return d.run("send-keys", "-t", target, "Enter")
	case Cancel:
		return d.run("send-keys", "-t", target, "C-c")
	case Focus:
		if err := d.run("select-window", "-t", target); err != nil {
			return err
		}
		return d.run("select-pane", "-t", target)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, act)
}
