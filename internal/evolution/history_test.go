package evolution

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "campaign_history.json")

	h := NewHistory(path)
	h.Append(CampaignSummary{RunID: "run-1", AgentID: "sea-test", Kind: KindEvolution,
		Goal: "first", Status: StatusCompleted})
	h.Append(CampaignSummary{RunID: "run-2", AgentID: "sea-test", Kind: KindAuditDriven,
		Goal: "second", Status: StatusFailed, Message: "audit failed"})

	reloaded := NewHistory(path)
	require.Equal(t, 2, reloaded.Len())

	recent := reloaded.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "run-2", recent[0].RunID)
	assert.Equal(t, StatusFailed, recent[0].Status)
	assert.False(t, recent[0].Timestamp.IsZero())

	all := reloaded.Recent(10)
	require.Len(t, all, 2)
	assert.Equal(t, "run-2", all[0].RunID, "newest first")
	assert.Equal(t, "run-1", all[1].RunID)
}

func TestHistoryCapped(t *testing.T) {
	t.Parallel()

	h := NewHistory("")
	for i := 0; i < maxHistory+25; i++ {
		h.Append(CampaignSummary{RunID: fmt.Sprintf("run-%d", i), Kind: KindEvolution, Status: StatusCompleted})
	}

	assert.Equal(t, maxHistory, h.Len())
	recent := h.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, fmt.Sprintf("run-%d", maxHistory+24), recent[0].RunID)
}

func TestHistoryRecentBounds(t *testing.T) {
	t.Parallel()

	h := NewHistory("")
	assert.Nil(t, h.Recent(5))

	h.Append(CampaignSummary{RunID: "run-1", Kind: KindEvolution, Status: StatusCompleted})
	assert.Nil(t, h.Recent(0))
	assert.Len(t, h.Recent(3), 1)
}
