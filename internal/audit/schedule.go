// Package audit runs the autonomous audit scheduler: standing audit
// campaigns persisted as schedules, executed when due through the
// strategic evolution coordinator, deferred while the host is busy, and
// feeding high-severity findings back into the kernel's improvement
// backlog.
package audit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"mastermind/internal/logging"
	"mastermind/internal/persist"
	"mastermind/internal/types"
)

// scheduleFile is the snapshot name under the data directory.
const scheduleFile = "audit_schedules.json"

// Schedule is one standing audit campaign.
type Schedule struct {
	CampaignID string        `json:"campaign_id"`
	Scope      string        `json:"scope"`
	Targets    []string      `json:"targets,omitempty"`
	Interval   time.Duration `json:"interval"`
	Priority   int           `json:"priority"`
	Enabled    bool          `json:"enabled"`
	LastRunAt  *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time    `json:"next_run_at,omitempty"`
	Runs       int           `json:"runs"`
	Successes  int           `json:"successes"`
	Failures   int           `json:"failures"`
}

// IsDue reports whether the schedule should run now. A schedule that has
// never been scheduled forward (nil NextRunAt) is due immediately.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	return s.NextRunAt == nil || !now.Before(*s.NextRunAt)
}

func (s *Schedule) clone() *Schedule {
	cp := *s
	if s.Targets != nil {
		cp.Targets = append([]string(nil), s.Targets...)
	}
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		cp.LastRunAt = &t
	}
	if s.NextRunAt != nil {
		t := *s.NextRunAt
		cp.NextRunAt = &t
	}
	return &cp
}

// Store owns the persisted schedule set. Every mutation snapshots to
// disk when a path is configured; loading tolerates missing or corrupt
// snapshots by starting empty.
type Store struct {
	mu        sync.Mutex
	schedules map[string]*Schedule
	path      string
	now       func() time.Time
}

// NewStore builds a store backed by path ("" keeps it in memory) and
// restores any persisted snapshot.
func NewStore(path string) *Store {
	st := &Store{
		schedules: make(map[string]*Schedule),
		path:      path,
		now:       time.Now,
	}
	st.load()
	return st
}

func (st *Store) load() {
	if st.path == "" {
		return
	}
	var list []*Schedule
	if !persist.LoadJSON(st.path, &list) {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range list {
		if s.CampaignID == "" {
			continue
		}
		st.schedules[s.CampaignID] = s
	}
	logging.AuditDebug("schedules: loaded %d from %s", len(st.schedules), st.path)
}

func (st *Store) saveLocked() {
	if st.path == "" {
		return
	}
	list := make([]*Schedule, 0, len(st.schedules))
	for _, s := range st.schedules {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CampaignID < list[j].CampaignID })
	if err := persist.SaveJSON(st.path, list); err != nil {
		logging.AuditWarn("schedules: snapshot failed: %v", err)
	}
}

// Upsert validates and stores a schedule, replacing any existing entry
// with the same campaign id. Priority is clamped to [1,10]; an empty
// scope becomes "full".
func (st *Store) Upsert(s Schedule) (*Schedule, error) {
	if s.CampaignID == "" {
		return nil, types.NewKindError(types.ErrInvalidInput, "audit.schedule",
			"campaign_id must not be empty", nil)
	}
	if s.Interval <= 0 {
		return nil, types.NewKindError(types.ErrInvalidInput, "audit.schedule",
			fmt.Sprintf("schedule %s: interval must be positive", s.CampaignID), nil)
	}
	if s.Scope == "" {
		s.Scope = "full"
	}
	if s.Priority < 1 {
		s.Priority = 1
	}
	if s.Priority > 10 {
		s.Priority = 10
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	stored := s.clone()
	st.schedules[s.CampaignID] = stored
	st.saveLocked()
	logging.AuditDebug("schedules: upserted %s (scope=%s interval=%s)", s.CampaignID, s.Scope, s.Interval)
	return stored.clone(), nil
}

// Get returns a snapshot of one schedule, or nil.
func (st *Store) Get(campaignID string) *Schedule {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.schedules[campaignID]; ok {
		return s.clone()
	}
	return nil
}

// Remove deletes a schedule. Removing an unknown id is an error so CLI
// callers get feedback on typos.
func (st *Store) Remove(campaignID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.schedules[campaignID]; !ok {
		return types.NewKindError(types.ErrInvalidInput, "audit.schedule",
			"unknown schedule "+campaignID, nil)
	}
	delete(st.schedules, campaignID)
	st.saveLocked()
	logging.Audit("schedules: removed %s", campaignID)
	return nil
}

// SetEnabled flips a schedule on or off.
func (st *Store) SetEnabled(campaignID string, enabled bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.schedules[campaignID]
	if !ok {
		return types.NewKindError(types.ErrInvalidInput, "audit.schedule",
			"unknown schedule "+campaignID, nil)
	}
	s.Enabled = enabled
	st.saveLocked()
	logging.Audit("schedules: %s enabled=%v", campaignID, enabled)
	return nil
}

// List returns snapshots of all schedules sorted by campaign id.
func (st *Store) List() []Schedule {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Schedule, 0, len(st.schedules))
	for _, s := range st.schedules {
		out = append(out, *s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
	return out
}

// Due returns snapshots of the schedules due at now, highest priority
// first (ties by campaign id for determinism).
func (st *Store) Due(now time.Time) []Schedule {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Schedule, 0, len(st.schedules))
	for _, s := range st.schedules {
		if s.IsDue(now) {
			out = append(out, *s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CampaignID < out[j].CampaignID
	})
	return out
}

// MarkRun records one execution: counters update by outcome and the
// next run moves a full interval out from now regardless of how the
// campaign went.
func (st *Store) MarkRun(campaignID string, now time.Time, success bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.schedules[campaignID]
	if !ok {
		return
	}
	s.Runs++
	if success {
		s.Successes++
	} else {
		s.Failures++
	}
	last := now
	s.LastRunAt = &last
	next := now.Add(s.Interval)
	s.NextRunAt = &next
	st.saveLocked()
}

// Len reports the number of schedules.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.schedules)
}

// SeedDefaults installs the standing audit schedules when the store is
// empty: daily security, weekly full-system, bi-daily performance, and
// a 36-hour code-quality pass. Returns how many were installed.
func (st *Store) SeedDefaults() int {
	st.mu.Lock()
	if len(st.schedules) > 0 {
		st.mu.Unlock()
		return 0
	}
	st.mu.Unlock()

	defaults := []Schedule{
		{CampaignID: "daily_security_audit", Scope: "security", Interval: 24 * time.Hour, Priority: 8, Enabled: true},
		{CampaignID: "weekly_full_audit", Scope: "full", Interval: 7 * 24 * time.Hour, Priority: 6, Enabled: true},
		{CampaignID: "performance_audit", Scope: "performance", Interval: 48 * time.Hour, Priority: 5, Enabled: true},
		{CampaignID: "code_quality_audit", Scope: "code_quality", Interval: 36 * time.Hour, Priority: 4, Enabled: true},
	}
	for _, s := range defaults {
		if _, err := st.Upsert(s); err != nil {
			logging.AuditWarn("schedules: default %s rejected: %v", s.CampaignID, err)
		}
	}
	logging.Audit("schedules: seeded %d default(s)", len(defaults))
	return len(defaults)
}
