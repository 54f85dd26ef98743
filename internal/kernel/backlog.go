package kernel

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mastermind/internal/logging"
	"mastermind/internal/persist"
	"mastermind/internal/types"
)

// BacklogStatus is the lifecycle state of an improvement backlog item.
// The set is closed; backlog statuses are not interaction or goal
// statuses even where the words overlap.
type BacklogStatus string

const (
	BacklogPending    BacklogStatus = "pending"
	BacklogInProgress BacklogStatus = "in_progress"
	BacklogCompleted  BacklogStatus = "completed"
	BacklogFailed     BacklogStatus = "failed"
	BacklogApproved   BacklogStatus = "approved"
	BacklogRejected   BacklogStatus = "rejected"
)

// Valid reports whether s is a known backlog status.
func (s BacklogStatus) Valid() bool {
	switch s {
	case BacklogPending, BacklogInProgress, BacklogCompleted,
		BacklogFailed, BacklogApproved, BacklogRejected:
		return true
	}
	return false
}

// Terminal reports whether s closes the item.
func (s BacklogStatus) Terminal() bool {
	return s == BacklogCompleted || s == BacklogFailed || s == BacklogRejected
}

// BacklogItem is one queued improvement suggestion.
type BacklogItem struct {
	ID              string        `json:"id"`
	Target          string        `json:"target"`
	Suggestion      string        `json:"suggestion"`
	Priority        int           `json:"priority"`
	Status          BacklogStatus `json:"status"`
	Source          string        `json:"source,omitempty"`
	AddedAt         time.Time     `json:"added_at"`
	AttemptCount    int           `json:"attempt_count"`
	LastAttemptedAt *time.Time    `json:"last_attempted_at,omitempty"`
	ApprovedAt      *time.Time    `json:"approved_at,omitempty"`
}

func (i *BacklogItem) clone() *BacklogItem {
	cp := *i
	if i.LastAttemptedAt != nil {
		t := *i.LastAttemptedAt
		cp.LastAttemptedAt = &t
	}
	if i.ApprovedAt != nil {
		t := *i.ApprovedAt
		cp.ApprovedAt = &t
	}
	return &cp
}

// backlog is the kernel-owned improvement queue. Items for critical
// targets stay non-actionable until approved. Every mutation snapshots
// to disk when a path is configured.
type backlog struct {
	mu       sync.Mutex
	items    []*BacklogItem
	path     string
	limit    int
	critical func(target string) bool
	now      func() time.Time
}

func newBacklog(path string, limit int, critical func(string) bool) *backlog {
	if limit < 1 {
		limit = 500
	}
	return &backlog{
		path:     path,
		limit:    limit,
		critical: critical,
		now:      time.Now,
	}
}

// load restores the persisted snapshot. Items caught in_progress by a
// crash go back to pending so they get retried.
func (b *backlog) load() {
	if b.path == "" {
		return
	}
	var items []*BacklogItem
	if !persist.LoadJSON(b.path, &items) {
		return
	}
	recovered := 0
	for _, it := range items {
		if it.Status == BacklogInProgress {
			it.Status = BacklogPending
			recovered++
		}
	}
	b.mu.Lock()
	b.items = items
	b.mu.Unlock()
	if recovered > 0 {
		logging.Kernel("backlog: recovered %d interrupted item(s) to pending", recovered)
	}
	logging.KernelDebug("backlog: loaded %d item(s) from %s", len(items), b.path)
}

func (b *backlog) saveLocked() {
	if b.path == "" {
		return
	}
	if err := persist.SaveJSON(b.path, b.items); err != nil {
		logging.KernelWarn("backlog: snapshot failed: %v", err)
	}
}

func (b *backlog) needsApproval(target string) bool {
	return b.critical != nil && b.critical(target)
}

// Add queues a suggestion. A duplicate (same target and suggestion with
// an open item) is absorbed into the existing entry, keeping the higher
// priority. Returns the stored item and whether a new entry was created.
func (b *backlog) Add(target, suggestion string, priority int, source string) (*BacklogItem, bool) {
	if target == "" || suggestion == "" {
		logging.KernelWarn("backlog: dropped item with empty target or suggestion (source=%s)", source)
		return nil, false
	}
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, it := range b.items {
		if it.Target == target && it.Suggestion == suggestion && !it.Status.Terminal() {
			if priority > it.Priority {
				it.Priority = priority
				b.saveLocked()
			}
			return it.clone(), false
		}
	}

	if len(b.items) >= b.limit {
		b.compactLocked()
	}
	if len(b.items) >= b.limit {
		logging.KernelWarn("backlog: full (%d items), dropping suggestion for %s", b.limit, target)
		return nil, false
	}

	item := &BacklogItem{
		ID:         "bl-" + uuid.New().String()[:8],
		Target:     target,
		Suggestion: suggestion,
		Priority:   priority,
		Status:     BacklogPending,
		Source:     source,
		AddedAt:    b.now(),
	}
	b.items = append(b.items, item)
	b.saveLocked()
	logging.KernelDebug("backlog: added %s target=%s priority=%d source=%s", item.ID, target, priority, source)
	return item.clone(), true
}

// compactLocked drops closed items, oldest first, to make room.
func (b *backlog) compactLocked() {
	kept := b.items[:0]
	for _, it := range b.items {
		if !it.Status.Terminal() {
			kept = append(kept, it)
		}
	}
	if len(kept) != len(b.items) {
		logging.KernelDebug("backlog: compacted %d closed item(s)", len(b.items)-len(kept))
		b.items = kept
		b.saveLocked()
	}
}

// Items returns snapshots, highest priority first (ties by age). With
// statuses given, only matching items are returned.
func (b *backlog) Items(statuses ...BacklogStatus) []BacklogItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BacklogItem, 0, len(b.items))
	for _, it := range b.items {
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if it.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *it.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

// Get returns a snapshot of one item, or nil.
func (b *backlog) Get(id string) *BacklogItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	if it := b.findLocked(id); it != nil {
		return it.clone()
	}
	return nil
}

func (b *backlog) findLocked(id string) *BacklogItem {
	for _, it := range b.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// Approve marks a pending item approved, making it actionable even for
// critical targets.
func (b *backlog) Approve(id string) error {
	return b.transition(id, BacklogApproved, BacklogPending)
}

// Reject closes a pending or approved item without running it.
func (b *backlog) Reject(id string) error {
	return b.transition(id, BacklogRejected, BacklogPending, BacklogApproved)
}

func (b *backlog) transition(id string, next BacklogStatus, from ...BacklogStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	it := b.findLocked(id)
	if it == nil {
		return errBacklogUnknown(id)
	}
	allowed := false
	for _, s := range from {
		if it.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errBacklogState(id, it.Status, next)
	}
	it.Status = next
	if next == BacklogApproved {
		t := b.now()
		it.ApprovedAt = &t
	}
	b.saveLocked()
	logging.Kernel("backlog: item %s -> %s", id, next)
	return nil
}

// Claim moves an actionable item to in_progress and stamps the attempt.
// Pending items for critical targets cannot be claimed until approved.
func (b *backlog) Claim(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	it := b.findLocked(id)
	if it == nil {
		return errBacklogUnknown(id)
	}
	if it.Status != BacklogPending && it.Status != BacklogApproved {
		return errBacklogState(id, it.Status, BacklogInProgress)
	}
	if it.Status == BacklogPending && b.needsApproval(it.Target) {
		return types.NewKindError(types.ErrPermissionDenied, "kernel.backlog",
			"item "+id+" targets a critical component and needs approval", nil)
	}
	b.claimLocked(it)
	return nil
}

func (b *backlog) claimLocked(it *BacklogItem) {
	it.Status = BacklogInProgress
	it.AttemptCount++
	t := b.now()
	it.LastAttemptedAt = &t
	b.saveLocked()
}

// NextActionable pops the highest-priority actionable item and marks it
// in_progress. Approved items are always actionable; pending items only
// when their target does not require approval. Returns nil when nothing
// is runnable.
func (b *backlog) NextActionable() *BacklogItem {
	b.mu.Lock()
	defer b.mu.Unlock()

	var best *BacklogItem
	for _, it := range b.items {
		actionable := it.Status == BacklogApproved ||
			(it.Status == BacklogPending && !b.needsApproval(it.Target))
		if !actionable {
			continue
		}
		if best == nil || it.Priority > best.Priority ||
			(it.Priority == best.Priority && it.AddedAt.Before(best.AddedAt)) {
			best = it
		}
	}
	if best == nil {
		return nil
	}
	b.claimLocked(best)
	return best.clone()
}

// Complete closes an in_progress item.
func (b *backlog) Complete(id string, success bool) error {
	next := BacklogCompleted
	if !success {
		next = BacklogFailed
	}
	return b.transition(id, next, BacklogInProgress)
}

// Len reports the total number of items, open and closed.
func (b *backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func errBacklogUnknown(id string) error {
	return types.NewKindError(types.ErrInvalidInput, "kernel.backlog",
		"unknown backlog item "+id, nil)
}

func errBacklogState(id string, cur, next BacklogStatus) error {
	return types.NewKindError(types.ErrInvalidInput, "kernel.backlog",
		fmt.Sprintf("item %s cannot move %s -> %s", id, cur, next), nil)
}
