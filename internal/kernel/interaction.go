package kernel

import (
	"fmt"
	"time"
)

// Kind identifies what an interaction asks the kernel to do. Each kind
// maps to exactly one handler; agent_registration is served by the
// imperative RegisterAgent API instead.
type Kind string

const (
	KindQuery                Kind = "query"
	KindSystemAnalysis       Kind = "system_analysis"
	KindComponentImprovement Kind = "component_improvement"
	KindAgentRegistration    Kind = "agent_registration"
	KindPublishEvent         Kind = "publish_event"
)

// Valid reports whether k is a known interaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindQuery, KindSystemAnalysis, KindComponentImprovement,
		KindAgentRegistration, KindPublishEvent:
		return true
	}
	return false
}

// Status is the lifecycle state of an interaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusRouted     Status = "routed"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// statusRank orders statuses for the monotonicity check. Routed sits
// between in_progress and the terminal states: an interaction handed to
// another component still finishes as completed or failed.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusRouted:     2,
	StatusCompleted:  3,
	StatusFailed:     3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether s ends the interaction lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Interaction is the unit of work routed through the kernel. The kernel
// creates it, mutates it, and retains it; everyone else reads snapshots.
type Interaction struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	Content     string         `json:"content"`
	UserID      string         `json:"user_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      Status         `json:"status"`
	Response    any            `json:"response,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// advance moves the interaction to next, enforcing that statuses only
// ever move forward. Terminal states are final.
func (i *Interaction) advance(next Status, now time.Time) error {
	if !next.Valid() {
		return fmt.Errorf("unknown interaction status %q", next)
	}
	if i.Status.Terminal() {
		return fmt.Errorf("interaction %s is already %s", i.ID, i.Status)
	}
	if statusRank[next] <= statusRank[i.Status] {
		return fmt.Errorf("interaction %s cannot move %s -> %s", i.ID, i.Status, next)
	}
	i.Status = next
	if next.Terminal() {
		t := now
		i.CompletedAt = &t
	}
	return nil
}

// clone returns a snapshot safe to hand to external readers. Metadata
// and Response are shared references; readers must treat them as
// read-only.
func (i *Interaction) clone() *Interaction {
	cp := *i
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
