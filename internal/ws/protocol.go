package ws

import (
	"github.com/agent-beacon/backend/internal/hierarchy"
	"github.com/agent-beacon/backend/internal/session"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload carries the full urgency-sorted root view, the same shape
// the list endpoint serves.
type SnapshotPayload struct {
	Sessions []hierarchy.Aggregate `json:"sessions"`
}

// DeltaPayload carries raw per-session changes since the last flush.
type DeltaPayload struct {
	Updates []*session.Session `json:"updates"`
	Removed []string           `json:"removed,omitempty"`
}
