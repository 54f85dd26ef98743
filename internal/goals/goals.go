// Package goals implements the prioritized goal set with dependency
// tracking. Selection order is priority (high first) with creation time
// breaking ties. Dependencies form a DAG; edges that would close a cycle
// are rejected up front, leaving the graph untouched.
package goals

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mastermind/internal/logging"
)

// Status is the goal lifecycle state.
type Status string

const (
	StatusPending           Status = "pending"
	StatusActive            Status = "active"
	StatusCompletedSuccess  Status = "completed_success"
	StatusCompletedNoAction Status = "completed_no_action"
	StatusFailedPlanning    Status = "failed_planning"
	StatusFailedExecution   Status = "failed_execution"
	StatusPausedDependency  Status = "paused_dependency"
	StatusCancelled         Status = "cancelled"
)

// Terminal reports whether no further work happens on a goal in this
// state (recovery may still reset it explicitly).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompletedSuccess, StatusCompletedNoAction,
		StatusFailedPlanning, StatusFailedExecution, StatusCancelled:
		return true
	}
	return false
}

// Goal is one unit of intent.
type Goal struct {
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	Priority      int            `json:"priority"` // 1..10, higher first
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
	ParentID      string         `json:"parent_id,omitempty"`
	SubgoalIDs    []string       `json:"subgoal_ids,omitempty"`
	DependencyIDs []string       `json:"dependency_ids,omitempty"`
	DependentIDs  []string       `json:"dependent_ids,omitempty"`
	PlanID        string         `json:"plan_id,omitempty"`
	AttemptCount  int            `json:"attempt_count"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Source        string         `json:"source,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	seq uint64 // stable tiebreak for equal timestamps
}

func (g *Goal) clone() *Goal {
	cp := *g
	cp.SubgoalIDs = append([]string(nil), g.SubgoalIDs...)
	cp.DependencyIDs = append([]string(nil), g.DependencyIDs...)
	cp.DependentIDs = append([]string(nil), g.DependentIDs...)
	if g.Metadata != nil {
		cp.Metadata = make(map[string]any, len(g.Metadata))
		for k, v := range g.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// GoalOption customizes Add.
type GoalOption func(*Goal)

// WithParent links the new goal under a parent. The parent's subgoal list
// is updated when the parent exists in the set.
func WithParent(parentID string) GoalOption {
	return func(g *Goal) { g.ParentID = parentID }
}

// WithSource tags the goal's origin (user, recovery, audit seeding).
func WithSource(source string) GoalOption {
	return func(g *Goal) { g.Source = source }
}

// WithMetadata attaches free-form metadata.
func WithMetadata(md map[string]any) GoalOption {
	return func(g *Goal) { g.Metadata = md }
}

// WithID forces a specific goal id (campaign replays, tests).
func WithID(id string) GoalOption {
	return func(g *Goal) { g.ID = id }
}

// Set owns goals for one agent. Safe for concurrent use.
type Set struct {
	mu       sync.Mutex
	goals    map[string]*Goal
	maxGoals int
	nextSeq  uint64

	now func() time.Time
}

// NewSet builds an unbounded goal set.
func NewSet() *Set {
	return NewSetWithLimit(0)
}

// NewSetWithLimit bounds the number of stored goals (0 = unbounded).
func NewSetWithLimit(maxGoals int) *Set {
	return &Set{
		goals:    make(map[string]*Goal),
		maxGoals: maxGoals,
		now:      time.Now,
	}
}

// Add registers a new pending goal. Priority is clamped into [1, 10].
func (s *Set) Add(description string, priority int, opts ...GoalOption) (*Goal, error) {
	if description == "" {
		return nil, fmt.Errorf("goal description must not be empty")
	}
	if priority < 1 {
		priority = 1
	} else if priority > 10 {
		priority = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxGoals > 0 && len(s.goals) >= s.maxGoals {
		return nil, fmt.Errorf("goal set full (%d goals)", s.maxGoals)
	}

	now := s.now()
	s.nextSeq++
	g := &Goal{
		ID:            "goal-" + uuid.New().String()[:8],
		Description:   description,
		Priority:      priority,
		Status:        StatusPending,
		CreatedAt:     now,
		LastUpdatedAt: now,
		seq:           s.nextSeq,
	}
	for _, opt := range opts {
		opt(g)
	}
	if _, exists := s.goals[g.ID]; exists {
		return nil, fmt.Errorf("goal id %s already exists", g.ID)
	}

	if g.ParentID != "" {
		if parent, ok := s.goals[g.ParentID]; ok {
			parent.SubgoalIDs = append(parent.SubgoalIDs, g.ID)
		}
	}

	s.goals[g.ID] = g
	logging.GoalsDebug("add %s priority=%d: %s", g.ID, g.Priority, g.Description)
	return g.clone(), nil
}

// Get returns a copy of the goal.
func (s *Set) Get(id string) (*Goal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return nil, false
	}
	return g.clone(), true
}

// List returns copies of all goals in selection order.
func (s *Set) List() []*Goal {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Goal, 0, len(s.goals))
	for _, g := range s.goals {
		out = append(out, g.clone())
	}
	sortGoals(out)
	return out
}

func sortGoals(gs []*Goal) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].Priority != gs[j].Priority {
			return gs[i].Priority > gs[j].Priority
		}
		if !gs[i].CreatedAt.Equal(gs[j].CreatedAt) {
			return gs[i].CreatedAt.Before(gs[j].CreatedAt)
		}
		return gs[i].seq < gs[j].seq
	})
}

// UpdateStatus moves a goal to status. Completing a goal promotes any
// dependency-paused dependents whose dependencies are now all satisfied
// back to pending in the same call.
func (s *Set) UpdateStatus(id string, status Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.goals[id]
	if !ok {
		return fmt.Errorf("goal %s not found", id)
	}
	g.Status = status
	g.LastUpdatedAt = s.now()
	if reason != "" {
		g.FailureReason = reason
	}
	logging.GoalsDebug("status %s -> %s", id, status)

	if status == StatusCompletedSuccess {
		s.promoteDependentsLocked(g)
	}
	return nil
}

// promoteDependentsLocked unblocks paused dependents of a just-completed
// goal when all of their dependencies are complete.
func (s *Set) promoteDependentsLocked(done *Goal) {
	for _, depID := range done.DependentIDs {
		d, ok := s.goals[depID]
		if !ok || d.Status != StatusPausedDependency {
			continue
		}
		if s.dependenciesSatisfiedLocked(d) {
			d.Status = StatusPending
			d.LastUpdatedAt = s.now()
			logging.GoalsDebug("promoted %s: dependencies satisfied", d.ID)
		}
	}
}

func (s *Set) dependenciesSatisfiedLocked(g *Goal) bool {
	for _, depID := range g.DependencyIDs {
		dep, ok := s.goals[depID]
		if !ok || dep.Status != StatusCompletedSuccess {
			return false
		}
	}
	return true
}

// AddDependency records that goalID cannot start until depID completes.
// The edge is rejected when either goal is missing or when it would close
// a dependency cycle; rejection leaves the graph unchanged.
func (s *Set) AddDependency(goalID, depID string) error {
	if goalID == depID {
		return fmt.Errorf("goal %s cannot depend on itself", goalID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.goals[goalID]
	if !ok {
		return fmt.Errorf("goal %s not found", goalID)
	}
	dep, ok := s.goals[depID]
	if !ok {
		return fmt.Errorf("dependency goal %s not found", depID)
	}
	for _, existing := range g.DependencyIDs {
		if existing == depID {
			return nil // already recorded
		}
	}

	// The new edge closes a cycle iff dep already reaches goal.
	if s.reachesLocked(depID, goalID) {
		return fmt.Errorf("dependency %s -> %s would create a cycle", goalID, depID)
	}

	g.DependencyIDs = append(g.DependencyIDs, depID)
	dep.DependentIDs = append(dep.DependentIDs, goalID)
	g.LastUpdatedAt = s.now()
	return nil
}

// reachesLocked reports whether from reaches target following dependency
// edges (iterative DFS).
func (s *Set) reachesLocked(from, target string) bool {
	visited := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if g, ok := s.goals[cur]; ok {
			stack = append(stack, g.DependencyIDs...)
		}
	}
	return false
}

// NextActionable returns a copy of the highest-priority pending goal whose
// dependencies are all complete, or nil. Pending goals found blocked on
// dependencies are parked as paused_dependency so completion of their
// dependencies can promote them later.
func (s *Set) NextActionable() *Goal {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*Goal, 0, len(s.goals))
	for _, g := range s.goals {
		if g.Status == StatusPending {
			candidates = append(candidates, g)
		}
	}
	sortGoals(candidates)

	for _, g := range candidates {
		if s.dependenciesSatisfiedLocked(g) {
			return g.clone()
		}
		g.Status = StatusPausedDependency
		g.LastUpdatedAt = s.now()
		logging.GoalsDebug("paused %s: dependencies unmet", g.ID)
	}
	return nil
}

// SetPlan links the goal to its current plan.
func (s *Set) SetPlan(id, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return fmt.Errorf("goal %s not found", id)
	}
	g.PlanID = planID
	g.LastUpdatedAt = s.now()
	return nil
}

// IncrementAttempts bumps the goal's attempt counter and returns the new
// value.
func (s *Set) IncrementAttempts(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return 0, fmt.Errorf("goal %s not found", id)
	}
	g.AttemptCount++
	g.LastUpdatedAt = s.now()
	return g.AttemptCount, nil
}

// Len returns the number of goals in the set.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.goals)
}
