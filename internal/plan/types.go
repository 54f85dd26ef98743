// Package plan implements plan creation and execution: ordered or
// dependency-driven parallel action runs with bounded concurrency,
// $action_result parameter resolution, and critical-failure propagation.
package plan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionStatus is the lifecycle state of a single action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionReady     ActionStatus = "ready" // startable, waiting for headroom
	ActionRunning   ActionStatus = "in_progress"
	ActionCompleted ActionStatus = "completed_success"
	ActionFailed    ActionStatus = "failed"
	ActionSkipped   ActionStatus = "skipped_dependency"
	ActionCancelled ActionStatus = "cancelled"
)

// Terminal reports whether the action has finished one way or another.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionCompleted, ActionFailed, ActionSkipped, ActionCancelled:
		return true
	}
	return false
}

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanPendingGeneration PlanStatus = "pending_generation"
	PlanReady             PlanStatus = "ready"
	PlanRunning           PlanStatus = "in_progress"
	PlanCompleted         PlanStatus = "completed_success"
	PlanFailedAction      PlanStatus = "failed_action"
	PlanFailedValidation  PlanStatus = "failed_validation"
	PlanPaused            PlanStatus = "paused"
	PlanCancelled         PlanStatus = "cancelled"
)

// Terminal reports whether the plan has finished.
func (s PlanStatus) Terminal() bool {
	switch s {
	case PlanCompleted, PlanFailedAction, PlanFailedValidation, PlanCancelled:
		return true
	}
	return false
}

// Action is one executable step of a plan.
type Action struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Params        map[string]any `json:"params,omitempty"`
	Description   string         `json:"description,omitempty"`
	Status        ActionStatus   `json:"status"`
	Result        any            `json:"result,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	AttemptCount  int            `json:"attempt_count"`
	DependencyIDs []string       `json:"dependency_ids,omitempty"`
	IsCritical    bool           `json:"is_critical"`
}

// Plan is an ordered set of actions serving one goal.
type Plan struct {
	ID               string         `json:"id"`
	GoalID           string         `json:"goal_id"`
	Description      string         `json:"description,omitempty"`
	Actions          []*Action      `json:"actions"`
	Status           PlanStatus     `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CurrentActionIdx int            `json:"current_action_idx"`
	ActionResults    map[string]any `json:"action_results,omitempty"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	CreatedBy        string         `json:"created_by,omitempty"`
}

// Descriptor is the raw shape a plan is built from (typically decoded from
// generated JSON).
type Descriptor struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type"`
	Params      map[string]any `json:"params,omitempty"`
	Description string         `json:"description,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	Critical    *bool          `json:"is_critical,omitempty"` // default true
}

// buildActions validates descriptors and materializes actions with stable
// ids. Caller-provided ids are honored; missing ones are assigned.
func buildActions(descriptors []Descriptor) ([]*Action, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("plan needs at least one action")
	}

	actions := make([]*Action, 0, len(descriptors))
	ids := make(map[string]bool, len(descriptors))
	for i, d := range descriptors {
		if d.Type == "" {
			return nil, fmt.Errorf("action %d: type must not be empty", i)
		}
		id := d.ID
		if id == "" {
			id = "act-" + uuid.New().String()[:8]
		}
		if ids[id] {
			return nil, fmt.Errorf("duplicate action id %q", id)
		}
		ids[id] = true

		critical := true
		if d.Critical != nil {
			critical = *d.Critical
		}
		actions = append(actions, &Action{
			ID:            id,
			Type:          d.Type,
			Params:        d.Params,
			Description:   d.Description,
			Status:        ActionPending,
			DependencyIDs: append([]string(nil), d.DependsOn...),
			IsCritical:    critical,
		})
	}

	// Dependencies must reference actions in this plan.
	for _, a := range actions {
		for _, dep := range a.DependencyIDs {
			if !ids[dep] {
				return nil, fmt.Errorf("action %s depends on unknown action %q", a.ID, dep)
			}
		}
	}
	return actions, nil
}

// actionByID is a lookup helper over a plan's actions.
func (p *Plan) actionByID(id string) *Action {
	for _, a := range p.Actions {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// depsSatisfied reports whether every dependency of a completed
// successfully.
func (p *Plan) depsSatisfied(a *Action) bool {
	for _, dep := range a.DependencyIDs {
		d := p.actionByID(dep)
		if d == nil || d.Status != ActionCompleted {
			return false
		}
	}
	return true
}

// depsUnsatisfiable reports whether some dependency of a terminated
// without success, so a can never run.
func (p *Plan) depsUnsatisfiable(a *Action) bool {
	for _, dep := range a.DependencyIDs {
		d := p.actionByID(dep)
		if d != nil && d.Status.Terminal() && d.Status != ActionCompleted {
			return true
		}
	}
	return false
}

// finalStatus applies the completion rule over terminal actions: success
// only when nothing failed.
func (p *Plan) finalStatus() PlanStatus {
	for _, a := range p.Actions {
		if a.Status == ActionFailed {
			return PlanFailedAction
		}
	}
	return PlanCompleted
}
