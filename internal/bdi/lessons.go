package bdi

import (
	"sync"
	"time"

	"mastermind/internal/logging"
	"mastermind/internal/persist"
)

// Lesson is one recorded recovery outcome.
type Lesson struct {
	AgentID     string           `json:"agent_id"`
	FailureType FailureType      `json:"failure_type"`
	Strategy    RecoveryStrategy `json:"strategy"`
	ActionType  string           `json:"action_type,omitempty"`
	Detail      string           `json:"detail,omitempty"`
	Success     bool             `json:"success"`
	Timestamp   time.Time        `json:"timestamp"`
}

// maxLessons caps the retained lesson history; the rate table keeps the
// aggregate signal beyond that.
const maxLessons = 500

// lessonsFile is the persisted snapshot shape.
type lessonsFile struct {
	Lessons      []Lesson                                     `json:"lessons"`
	SuccessRates map[FailureType]map[RecoveryStrategy]float64 `json:"success_rates"`
}

// LessonStore accumulates recovery lessons and the per-(failure type,
// strategy) success-rate table that drives strategy selection. Rates
// move by exponential moving average from a neutral 0.5 start.
type LessonStore struct {
	mu      sync.Mutex
	path    string
	alpha   float64
	lessons []Lesson
	rates   map[FailureType]map[RecoveryStrategy]float64
}

// NewLessonStore loads prior lessons from path. An empty path keeps the
// store memory-only.
func NewLessonStore(path string, alpha float64) *LessonStore {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.3
	}
	ls := &LessonStore{
		path:  path,
		alpha: alpha,
		rates: make(map[FailureType]map[RecoveryStrategy]float64),
	}
	if path != "" {
		var f lessonsFile
		if persist.LoadJSON(path, &f) {
			ls.lessons = f.Lessons
			if f.SuccessRates != nil {
				ls.rates = f.SuccessRates
			}
			logging.BDIDebug("loaded %d lessons from %s", len(ls.lessons), path)
		}
	}
	return ls
}

// Record appends a lesson and folds its outcome into the rate table.
func (ls *LessonStore) Record(l Lesson) {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.lessons = append(ls.lessons, l)
	if n := len(ls.lessons) - maxLessons; n > 0 {
		ls.lessons = append(ls.lessons[:0:0], ls.lessons[n:]...)
	}

	byStrategy := ls.rates[l.FailureType]
	if byStrategy == nil {
		byStrategy = make(map[RecoveryStrategy]float64)
		ls.rates[l.FailureType] = byStrategy
	}
	rate, seen := byStrategy[l.Strategy]
	if !seen {
		rate = 0.5
	}
	outcome := 0.0
	if l.Success {
		outcome = 1.0
	}
	byStrategy[l.Strategy] = (1-ls.alpha)*rate + ls.alpha*outcome

	ls.saveLocked()
}

// Rate returns the current estimate for the pair, 0.5 when unseen.
func (ls *LessonStore) Rate(ft FailureType, s RecoveryStrategy) float64 {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if r, ok := ls.rates[ft][s]; ok {
		return r
	}
	return 0.5
}

// Best returns the highest-rated strategy for the failure type, or the
// default mapping when nothing has been recorded for it yet.
func (ls *LessonStore) Best(ft FailureType) RecoveryStrategy {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	byStrategy := ls.rates[ft]
	if len(byStrategy) == 0 {
		return defaultStrategyFor(ft)
	}
	best := RecoveryStrategy("")
	bestRate := -1.0
	for _, s := range strategyOrder {
		if r, ok := byStrategy[s]; ok && r > bestRate {
			best, bestRate = s, r
		}
	}
	if best == "" {
		return defaultStrategyFor(ft)
	}
	return best
}

// Recent returns up to n lessons, newest first.
func (ls *LessonStore) Recent(n int) []Lesson {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if n < 1 || len(ls.lessons) == 0 {
		return nil
	}
	if n > len(ls.lessons) {
		n = len(ls.lessons)
	}
	out := make([]Lesson, 0, n)
	for i := len(ls.lessons) - 1; i >= len(ls.lessons)-n; i-- {
		out = append(out, ls.lessons[i])
	}
	return out
}

// Len returns the number of retained lessons.
func (ls *LessonStore) Len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.lessons)
}

func (ls *LessonStore) saveLocked() {
	if ls.path == "" {
		return
	}
	f := lessonsFile{Lessons: ls.lessons, SuccessRates: ls.rates}
	if err := persist.SaveJSON(ls.path, f); err != nil {
		logging.BDIWarn("lessons save failed: %v", err)
	}
}
