package kernel

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mastermind/internal/types"
)

func newTestBacklog(t *testing.T, critical func(string) bool) *backlog {
	t.Helper()
	path := filepath.Join(t.TempDir(), backlogFile)
	return newBacklog(path, 50, critical)
}

func TestBacklogAddAndOrdering(t *testing.T) {
	t.Parallel()
	b := newTestBacklog(t, nil)

	low, added := b.Add("journal", "add an index", 2, "test")
	require.True(t, added)
	require.NotNil(t, low)
	high, _ := b.Add("scheduler", "reduce wakeups", 8, "test")
	mid, _ := b.Add("watcher", "debounce renames", 5, "test")

	items := b.Items()
	require.Len(t, items, 3)
	assert.Equal(t, high.ID, items[0].ID)
	assert.Equal(t, mid.ID, items[1].ID)
	assert.Equal(t, low.ID, items[2].ID)
	assert.True(t, strings.HasPrefix(low.ID, "bl-"))
	assert.Equal(t, BacklogPending, items[0].Status)
}

func TestBacklogDedupeAbsorbsAndBumpsPriority(t *testing.T) {
	t.Parallel()
	b := newTestBacklog(t, nil)

	first, added := b.Add("journal", "add an index", 3, "test")
	require.True(t, added)

	same, again := b.Add("journal", "add an index", 7, "other")
	assert.False(t, again)
	assert.Equal(t, first.ID, same.ID)
	assert.Equal(t, 7, same.Priority, "higher priority wins on dedupe")

	lower, _ := b.Add("journal", "add an index", 1, "other")
	assert.Equal(t, 7, lower.Priority, "lower priority does not downgrade")

	assert.Equal(t, 1, b.Len())
}

func TestBacklogApprovalGate(t *testing.T) {
	t.Parallel()
	critical := func(target string) bool { return strings.Contains(target, "kernel") }
	b := newTestBacklog(t, critical)

	item, _ := b.Add("kernel.router", "tighten dispatch", 9, "test")
	safe, _ := b.Add("journal", "add an index", 2, "test")

	err := b.Claim(item.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrPermissionDenied, types.KindOf(err))

	// The critical item outranks the safe one but is not actionable yet.
	next := b.NextActionable()
	require.NotNil(t, next)
	assert.Equal(t, safe.ID, next.ID)

	require.NoError(t, b.Approve(item.ID))
	got := b.Get(item.ID)
	require.NotNil(t, got.ApprovedAt)

	next = b.NextActionable()
	require.NotNil(t, next)
	assert.Equal(t, item.ID, next.ID)
	assert.Equal(t, BacklogInProgress, next.Status)
	assert.Equal(t, 1, next.AttemptCount)
	require.NotNil(t, next.LastAttemptedAt)
}

func TestBacklogReject(t *testing.T) {
	t.Parallel()
	b := newTestBacklog(t, nil)

	item, _ := b.Add("journal", "add an index", 5, "test")
	require.NoError(t, b.Reject(item.ID))
	assert.Equal(t, BacklogRejected, b.Get(item.ID).Status)
	assert.Nil(t, b.NextActionable())

	err := b.Reject(item.ID)
	require.Error(t, err, "rejecting twice is a state error")
	assert.Equal(t, types.ErrInvalidInput, types.KindOf(err))
}

func TestBacklogApproveRequiresPending(t *testing.T) {
	t.Parallel()
	b := newTestBacklog(t, nil)

	item, _ := b.Add("journal", "add an index", 5, "test")
	require.NoError(t, b.Claim(item.ID))
	err := b.Approve(item.ID)
	require.Error(t, err)

	err = b.Approve("bl-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backlog item")
}

func TestBacklogComplete(t *testing.T) {
	t.Parallel()
	b := newTestBacklog(t, nil)

	item, _ := b.Add("journal", "add an index", 5, "test")
	require.Error(t, b.Complete(item.ID, true), "pending items cannot complete")

	require.NoError(t, b.Claim(item.ID))
	require.NoError(t, b.Complete(item.ID, false))
	assert.Equal(t, BacklogFailed, b.Get(item.ID).Status)
}

func TestBacklogPersistRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), backlogFile)

	b := newBacklog(path, 50, nil)
	done, _ := b.Add("journal", "add an index", 5, "test")
	running, _ := b.Add("scheduler", "reduce wakeups", 8, "test")
	require.NoError(t, b.Claim(running.ID))
	require.NoError(t, b.Claim(done.ID))
	require.NoError(t, b.Complete(done.ID, true))

	reloaded := newBacklog(path, 50, nil)
	reloaded.load()
	require.Equal(t, 2, reloaded.Len())
	assert.Equal(t, BacklogCompleted, reloaded.Get(done.ID).Status)
	// Interrupted work goes back to pending on restart.
	got := reloaded.Get(running.ID)
	assert.Equal(t, BacklogPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestBacklogCompactsClosedItemsWhenFull(t *testing.T) {
	t.Parallel()
	b := newBacklog("", 3, nil)

	for i, target := range []string{"a", "b", "c"} {
		item, added := b.Add(target, "tune", i+1, "test")
		require.True(t, added)
		require.NoError(t, b.Claim(item.ID))
		require.NoError(t, b.Complete(item.ID, true))
	}
	require.Equal(t, 3, b.Len())

	item, added := b.Add("d", "tune", 4, "test")
	require.True(t, added, "closed items make room for new ones")
	require.NotNil(t, item)
	assert.Equal(t, 1, b.Len())
}

func TestBacklogRejectsWhenFullOfOpenItems(t *testing.T) {
	t.Parallel()
	b := newBacklog("", 2, nil)
	b.Add("a", "tune", 1, "test")
	b.Add("b", "tune", 2, "test")

	item, added := b.Add("c", "tune", 9, "test")
	assert.Nil(t, item)
	assert.False(t, added)
	assert.Equal(t, 2, b.Len())
}

func TestBacklogValidation(t *testing.T) {
	t.Parallel()
	b := newTestBacklog(t, nil)

	item, added := b.Add("", "tune", 5, "test")
	assert.Nil(t, item)
	assert.False(t, added)

	item, _ = b.Add("journal", "tune", 99, "test")
	assert.Equal(t, 10, item.Priority)
	item, _ = b.Add("journal", "tune harder", -3, "test")
	assert.Equal(t, 1, item.Priority)
}

func TestBacklogItemsStatusFilter(t *testing.T) {
	t.Parallel()
	b := newTestBacklog(t, nil)

	open, _ := b.Add("a", "tune", 5, "test")
	closed, _ := b.Add("b", "tune", 5, "test")
	require.NoError(t, b.Claim(closed.ID))
	require.NoError(t, b.Complete(closed.ID, true))

	pending := b.Items(BacklogPending)
	require.Len(t, pending, 1)
	assert.Equal(t, open.ID, pending[0].ID)

	completed := b.Items(BacklogCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, closed.ID, completed[0].ID)
}

func TestBacklogStatusEnum(t *testing.T) {
	t.Parallel()
	for _, s := range []BacklogStatus{BacklogPending, BacklogInProgress,
		BacklogCompleted, BacklogFailed, BacklogApproved, BacklogRejected} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, BacklogStatus("on_hold").Valid())

	assert.True(t, BacklogCompleted.Terminal())
	assert.True(t, BacklogFailed.Terminal())
	assert.True(t, BacklogRejected.Terminal())
	assert.False(t, BacklogPending.Terminal())
	assert.False(t, BacklogApproved.Terminal())
	assert.False(t, BacklogInProgress.Terminal())
}

func TestBacklogSnapshotIsolation(t *testing.T) {
	t.Parallel()
	b := newTestBacklog(t, nil)
	item, _ := b.Add("journal", "tune", 5, "test")

	item.Priority = 10
	item.Status = BacklogRejected
	now := time.Now()
	item.ApprovedAt = &now

	stored := b.Get(item.ID)
	assert.Equal(t, 5, stored.Priority)
	assert.Equal(t, BacklogPending, stored.Status)
	assert.Nil(t, stored.ApprovedAt)
}
