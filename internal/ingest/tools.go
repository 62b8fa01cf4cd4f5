package ingest

import (
	"strings"

	"github.com/agent-beacon/backend/internal/session"
)

// readOnlyTools never mutate state and never require approval. A tool_use
// for one of these while the session is alerting is assumed to be a stale
// signal and does not clear the alert.
var readOnlyTools = map[string]bool{
	"Read":         true,
	"Glob":         true,
	"Grep":         true,
	"LS":           true,
	"NotebookRead": true,
	"WebFetch":     true,
	"WebSearch":    true,
	"TodoRead":     true,
}

// spawnTool starts child sessions. It moves the parent to working but keeps
// an existing alert, since a spawned child may itself need input shortly.
const spawnTool = "Task"

func isReadOnlyTool(name string) bool {
	return readOnlyTools[name]
}

// approvalKeywords marks a notification as a blocking approval request.
// Substring matching over the lowercased message; a replaceable heuristic,
// not a contract.
var approvalKeywords = []string{
	"permission",
	"approve",
	"approval",
	"confirm",
	"proceed",
	"y/n",
	"yes/no",
	"allow",
}

// ClassifyAttention distinguishes a blocking approval request (critical)
// from a soft question (casual).
func ClassifyAttention(message string) session.Attention {
	lower := strings.ToLower(message)
	for _, kw := range approvalKeywords {
		if strings.Contains(lower, kw) {
			return session.AttentionCritical
		}
	}
	return session.AttentionCasual
}
