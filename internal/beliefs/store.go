// Package beliefs implements the shared keyed belief store. Beliefs carry
// a confidence weight and a provenance source, live under dotted-namespace
// keys, and may expire via TTL. Expiry is lazy: expired entries are
// dropped when a read touches them.
package beliefs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mastermind/internal/logging"
)

// Source tags where a belief came from.
type Source string

const (
	SourcePerception   Source = "perception"
	SourceSelfAnalysis Source = "self_analysis"
	SourceDerivation   Source = "derivation"
	SourceExternal     Source = "external"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourcePerception, SourceSelfAnalysis, SourceDerivation, SourceExternal:
		return true
	}
	return false
}

// Belief is one stored conviction.
type Belief struct {
	Key        string    `json:"key"`
	Value      any       `json:"value"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	TTL        float64   `json:"ttl_seconds,omitempty"` // 0 = no expiry
}

// Expired reports whether the belief's TTL has elapsed at now.
func (b *Belief) Expired(now time.Time) bool {
	if b.TTL <= 0 {
		return false
	}
	return now.After(b.CreatedAt.Add(time.Duration(b.TTL * float64(time.Second))))
}

// Store holds beliefs with per-key atomicity. Safe for concurrent use.
// Last write wins; there is no merge.
type Store struct {
	mu      sync.Mutex
	items   map[string]*Belief
	maxSize int

	now func() time.Time
}

// NewStore builds an unbounded store.
func NewStore() *Store {
	return NewStoreWithLimit(0)
}

// NewStoreWithLimit builds a store rejecting new keys beyond maxSize
// entries (0 = unbounded). Overwrites of existing keys always succeed.
func NewStoreWithLimit(maxSize int) *Store {
	return &Store{
		items:   make(map[string]*Belief),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Add stores a belief under key, replacing any previous value. Confidence
// is clamped to [0, 1]. A zero ttl means no expiry.
func (s *Store) Add(key string, value any, confidence float64, source Source, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("belief key must not be empty")
	}
	if !source.Valid() {
		return fmt.Errorf("unknown belief source %q", source)
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; !exists && s.maxSize > 0 && len(s.items) >= s.maxSize {
		return fmt.Errorf("belief store full (%d entries)", s.maxSize)
	}

	s.items[key] = &Belief{
		Key:        key,
		Value:      value,
		Confidence: confidence,
		Source:     source,
		CreatedAt:  s.now(),
		TTL:        ttl.Seconds(),
	}
	logging.BeliefsDebug("add %s source=%s confidence=%.2f ttl=%.0fs", key, source, confidence, ttl.Seconds())
	return nil
}

// Get returns the belief for key, or nil when absent or expired. An
// expired entry is removed on the way out.
func (s *Store) Get(key string) *Belief {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.items[key]
	if !ok {
		return nil
	}
	if b.Expired(s.now()) {
		delete(s.items, key)
		logging.BeliefsDebug("expired %s", key)
		return nil
	}
	cp := *b
	return &cp
}

// Query returns all live beliefs whose key starts with prefix, sorted by
// key. Expired entries encountered are dropped.
func (s *Store) Query(prefix string) []*Belief {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*Belief
	for key, b := range s.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if b.Expired(now) {
			delete(s.items, key)
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Len returns the number of stored entries, including any not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
