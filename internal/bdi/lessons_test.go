package bdi

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLessonRatesMoveByEMA(t *testing.T) {
	t.Parallel()

	ls := NewLessonStore("", 0.3)
	assert.InDelta(t, 0.5, ls.Rate(FailureToolExecution, RecoverRetryWithDelay), 1e-9,
		"unseen pairs start neutral")

	ls.Record(Lesson{FailureType: FailureToolExecution, Strategy: RecoverRetryWithDelay, Success: true})
	assert.InDelta(t, 0.65, ls.Rate(FailureToolExecution, RecoverRetryWithDelay), 1e-9)

	ls.Record(Lesson{FailureType: FailureToolExecution, Strategy: RecoverRetryWithDelay, Success: false})
	assert.InDelta(t, 0.455, ls.Rate(FailureToolExecution, RecoverRetryWithDelay), 1e-9)
}

func TestLessonStoreCoercesBadAlpha(t *testing.T) {
	t.Parallel()

	ls := NewLessonStore("", 5)
	ls.Record(Lesson{FailureType: FailureNetwork, Strategy: RecoverRetryWithDelay, Success: true})
	assert.InDelta(t, 0.65, ls.Rate(FailureNetwork, RecoverRetryWithDelay), 1e-9)
}

func TestBestPrefersRecordedRates(t *testing.T) {
	t.Parallel()

	ls := NewLessonStore("", 0.3)
	assert.Equal(t, RecoverEscalate, ls.Best(FailurePermission),
		"defaults apply before any history")

	ls.Record(Lesson{FailureType: FailureToolExecution, Strategy: RecoverRetryWithDelay, Success: true})
	assert.Equal(t, RecoverRetryWithDelay, ls.Best(FailureToolExecution))

	ls.Record(Lesson{FailureType: FailureToolExecution, Strategy: RecoverRetryWithDelay, Success: false})
	for i := 0; i < 3; i++ {
		ls.Record(Lesson{FailureType: FailureToolExecution, Strategy: RecoverSimplifiedApproach, Success: true})
	}
	assert.Equal(t, RecoverSimplifiedApproach, ls.Best(FailureToolExecution))
	assert.Equal(t, RecoverEscalate, ls.Best(FailurePermission),
		"history on one failure type leaves the others at defaults")
}

func TestLessonPersistenceRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lessons.json")
	ls := NewLessonStore(path, 0.3)
	ls.Record(Lesson{AgentID: "bdi-test", FailureType: FailureNetwork, Strategy: RecoverAlternativeTool, Success: false})
	ls.Record(Lesson{AgentID: "bdi-test", FailureType: FailureToolExecution, Strategy: RecoverRetryWithDelay, Success: true})

	reloaded := NewLessonStore(path, 0.3)
	assert.Equal(t, 2, reloaded.Len())
	assert.InDelta(t, 0.35, reloaded.Rate(FailureNetwork, RecoverAlternativeTool), 1e-9)
	assert.InDelta(t, 0.65, reloaded.Rate(FailureToolExecution, RecoverRetryWithDelay), 1e-9)

	recent := reloaded.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, FailureToolExecution, recent[0].FailureType, "recent is newest first")
	assert.Equal(t, "bdi-test", recent[0].AgentID)
	assert.False(t, recent[0].Timestamp.IsZero())
}

func TestLessonHistoryCapped(t *testing.T) {
	t.Parallel()

	ls := NewLessonStore("", 0.3)
	for i := 0; i < maxLessons+10; i++ {
		ls.Record(Lesson{
			FailureType: FailureUnknown,
			Strategy:    RecoverRetryWithDelay,
			Detail:      fmt.Sprintf("run %d", i),
			Success:     true,
		})
	}
	assert.Equal(t, maxLessons, ls.Len())

	recent := ls.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, fmt.Sprintf("run %d", maxLessons+9), recent[0].Detail,
		"trimming drops the oldest entries")

	assert.Nil(t, ls.Recent(0))
}
