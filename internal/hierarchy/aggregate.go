package hierarchy

import (
	"sort"

	"github.com/agent-beacon/backend/internal/session"
)

// Aggregate folds a session and all of its descendants into the effective
// view the dashboard displays.
type Aggregate struct {
	Session *session.Session `json:"session"`

	// Status is the highest-priority status among the session and all
	// descendants; Alerting is true if any of them is alerting.
	Status   session.Status `json:"status"`
	Alerting bool           `json:"alerting"`

	ChildCount       int `json:"childCount"`
	AlertingChildren int `json:"alertingChildCount"`
	DescendantCount  int `json:"descendantCount"`
}

// index holds a snapshot of the store keyed for traversal.
type index struct {
	byID     map[string]*session.Session
	children map[string][]string
}

func buildIndex(all []*session.Session) *index {
	idx := &index{
		byID:     make(map[string]*session.Session, len(all)),
		children: make(map[string][]string),
	}
	for _, s := range all {
		idx.byID[s.ID] = s
	}
	for _, s := range all {
		if s.ParentID != "" {
			idx.children[s.ParentID] = append(idx.children[s.ParentID], s.ID)
		}
	}
	return idx
}

// Compute aggregates the session with the given id over a snapshot of all
// sessions. ok is false when the id is unknown. Parent links are
// event-supplied and unvalidated, so traversal tracks visited ids and halts
// on a cycle instead of recursing forever.
func Compute(all []*session.Session, id string) (Aggregate, bool) {
	idx := buildIndex(all)
	root, ok := idx.byID[id]
	if !ok {
		return Aggregate{}, false
	}
	return computeFrom(idx, root), true
}

func computeFrom(idx *index, root *session.Session) Aggregate {
	agg := Aggregate{
		Session:    root,
		Status:     root.Status,
		Alerting:   root.Alerting,
		ChildCount: len(idx.children[root.ID]),
	}

	visited := map[string]bool{root.ID: true}
	stack := append([]string(nil), idx.children[root.ID]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true

		desc, ok := idx.byID[id]
		if !ok {
			continue
		}
		agg.DescendantCount++
		if desc.Status.Priority() > agg.Status.Priority() {
			agg.Status = desc.Status
		}
		if desc.Alerting {
			agg.Alerting = true
			agg.AlertingChildren++
		}
		stack = append(stack, idx.children[id]...)
	}
	return agg
}

// Roots aggregates every root session, ordered by display urgency:
// alerting roots first, then effective status priority, then most recent
// activity. A session is a root when it has no parent or its parent link
// dangles.
func Roots(all []*session.Session) []Aggregate {
	idx := buildIndex(all)

	var roots []Aggregate
	for _, s := range all {
		if s.ParentID != "" {
			if _, parentKnown := idx.byID[s.ParentID]; parentKnown {
				continue
			}
		}
		roots = append(roots, computeFrom(idx, s))
	}

	sort.SliceStable(roots, func(a, b int) bool {
		ra, rb := roots[a], roots[b]
		if ra.Alerting != rb.Alerting {
			return ra.Alerting
		}
		if pa, pb := ra.Status.Priority(), rb.Status.Priority(); pa != pb {
			return pa > pb
		}
		return ra.Session.LastActivityAt.After(rb.Session.LastActivityAt)
	})
	return roots
}
