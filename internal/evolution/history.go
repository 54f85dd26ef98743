package evolution

import (
	"sync"
	"time"

	"mastermind/internal/logging"
	"mastermind/internal/persist"
)

// Campaign kinds, one per entry point.
const (
	KindEvolution   = "evolution"
	KindEnhanced    = "enhanced_blueprint"
	KindAuditDriven = "audit_driven"
)

// CampaignSummary is one recorded campaign outcome.
type CampaignSummary struct {
	RunID     string         `json:"run_id"`
	AgentID   string         `json:"agent_id"`
	Kind      string         `json:"kind"`
	Goal      string         `json:"goal,omitempty"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// maxHistory caps the retained campaign history.
const maxHistory = 200

// historyFile is the persisted snapshot shape.
type historyFile struct {
	Campaigns []CampaignSummary `json:"campaigns"`
}

// History accumulates campaign summaries across runs.
type History struct {
	mu      sync.Mutex
	path    string
	entries []CampaignSummary
}

// NewHistory loads prior campaign summaries from path. An empty path
// keeps the store memory-only.
func NewHistory(path string) *History {
	h := &History{path: path}
	if path != "" {
		var f historyFile
		if persist.LoadJSON(path, &f) {
			h.entries = f.Campaigns
			logging.EvolutionDebug("loaded %d campaign summaries from %s", len(h.entries), path)
		}
	}
	return h
}

// Append records a summary, trimming the oldest entries past the cap.
func (h *History) Append(s CampaignSummary) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, s)
	if n := len(h.entries) - maxHistory; n > 0 {
		h.entries = append(h.entries[:0:0], h.entries[n:]...)
	}
	h.saveLocked()
}

// Recent returns up to n summaries, newest first.
func (h *History) Recent(n int) []CampaignSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n < 1 || len(h.entries) == 0 {
		return nil
	}
	if n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]CampaignSummary, 0, n)
	for i := len(h.entries) - 1; i >= len(h.entries)-n; i-- {
		out = append(out, h.entries[i])
	}
	return out
}

// Len returns the number of retained summaries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *History) saveLocked() {
	if h.path == "" {
		return
	}
	f := historyFile{Campaigns: h.entries}
	if err := persist.SaveJSON(h.path, f); err != nil {
		logging.EvolutionWarn("campaign history save failed: %v", err)
	}
}
