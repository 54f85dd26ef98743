// Package kernel routes typed interactions among registered agents,
// owns the agent registry, the pub/sub event bus, and the improvement
// backlog, and bounds expensive work with a heavy-task semaphore. It is
// the only component that mutates interactions; everyone else gets
// snapshots. Failures never escape as raw errors: the kernel folds them
// into the interaction's error field as classified INTERNAL_ERROR-style
// strings.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"mastermind/internal/config"
	"mastermind/internal/llm"
	"mastermind/internal/logging"
	"mastermind/internal/tools"
	"mastermind/internal/types"
)

// KernelAgentID is the id the kernel registers itself under.
const KernelAgentID = "kernel"

// backlogFile is the snapshot name under the data directory.
const backlogFile = "improvement_backlog.json"

// CampaignRunner runs an improvement campaign for a goal. The strategic
// evolution coordinator implements it; the kernel only knows the
// capability so the dependency points one way.
type CampaignRunner interface {
	RunEvolutionCampaign(ctx context.Context, goal string) (map[string]any, error)
}

// ResourceSampler supplies host resource readings for telemetry and the
// system analyzer. The audit monitor implements it.
type ResourceSampler interface {
	Snapshot() map[string]any
}

// starter is an optional ResourceSampler extension started during init.
type starter interface {
	Start(ctx context.Context) error
}

type handlerFunc func(ctx context.Context, inter *Interaction) (any, error)

// Kernel is the interaction router. One per process in normal operation
// (GetInstance); tests build isolated instances with NewTestKernel.
type Kernel struct {
	mu           sync.Mutex
	cfg          *config.Config
	agents       map[string]*AgentRegistration
	interactions map[string]*Interaction
	handlers     map[Kind]handlerFunc
	bus          *bus
	backlog      *backlog
	tools        *tools.Registry
	llm          llm.Handler
	campaigns    CampaignRunner
	sampler      ResourceSampler
	heavy        *semaphore.Weighted
	now          func() time.Time
	initialized  bool
	shutdown     bool
	wg           sync.WaitGroup

	llmCalls  atomic.Int64
	llmErrors atomic.Int64
}

// New builds a kernel from config. reg may be nil; the improvement
// handler then falls back to directive-derived suggestions. Call Init
// before routing interactions.
func New(cfg *config.Config, reg *tools.Registry) *Kernel {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	heavySlots := cfg.Kernel.MaxConcurrentHeavyTasks
	if heavySlots < 1 {
		heavySlots = 1
	}
	backlogPath := ""
	if cfg.DataDir != "" {
		backlogPath = filepath.Join(cfg.DataDir, backlogFile)
	}

	k := &Kernel{
		cfg:          cfg,
		agents:       make(map[string]*AgentRegistration),
		interactions: make(map[string]*Interaction),
		bus:          newBus(),
		backlog:      newBacklog(backlogPath, cfg.CoreLimits.MaxBacklogItems, criticalMatcher(cfg.Kernel)),
		tools:        reg,
		heavy:        semaphore.NewWeighted(int64(heavySlots)),
		now:          time.Now,
	}
	k.handlers = map[Kind]handlerFunc{
		KindQuery:                k.handleQuery,
		KindSystemAnalysis:       k.handleSystemAnalysis,
		KindComponentImprovement: k.handleComponentImprovement,
		KindPublishEvent:         k.handlePublishEvent,
	}
	return k
}

// criticalMatcher builds the approval predicate: case-insensitive
// substring match of the target against the configured critical
// component names.
func criticalMatcher(cfg config.KernelConfig) func(string) bool {
	if !cfg.RequireApprovalForCritical || len(cfg.CriticalComponents) == 0 {
		return nil
	}
	comps := make([]string, len(cfg.CriticalComponents))
	for i, c := range cfg.CriticalComponents {
		comps[i] = strings.ToLower(c)
	}
	return func(target string) bool {
		t := strings.ToLower(target)
		for _, c := range comps {
			if strings.Contains(t, c) {
				return true
			}
		}
		return false
	}
}

// Init wires the LLM handler, restores the persisted backlog,
// self-registers, and starts the resource monitor when one is attached.
// Idempotent. A missing LLM provider is logged, not fatal: query
// interactions fail individually while the rest of the kernel runs.
func (k *Kernel) Init(ctx context.Context) error {
	k.mu.Lock()
	if k.initialized {
		k.mu.Unlock()
		return nil
	}
	k.initialized = true
	need := k.llm == nil
	k.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryKernel, "init")
	defer timer.Stop()

	if need {
		h, err := llm.NewHandler(ctx, k.cfg.LLM, k.cfg.RateLimit)
		if err != nil {
			logging.KernelWarn("llm handler unavailable: %v", err)
		} else {
			k.mu.Lock()
			k.llm = h
			k.mu.Unlock()
		}
	}

	k.backlog.load()

	if err := k.RegisterAgent(KernelAgentID, "kernel",
		"interaction routing, agent registry, improvement backlog", k); err != nil {
		return err
	}

	k.mu.Lock()
	sampler := k.sampler
	k.mu.Unlock()
	if s, ok := sampler.(starter); ok {
		if err := s.Start(ctx); err != nil {
			logging.KernelWarn("resource monitor did not start: %v", err)
		}
	}

	logging.Kernel("kernel ready: backlog=%d heavy_slots=%d",
		k.backlog.Len(), k.cfg.Kernel.MaxConcurrentHeavyTasks)
	return nil
}

// SetLLM replaces the text-generation handler. Test hook and override
// point for callers that assemble their own dispatch stack.
func (k *Kernel) SetLLM(h llm.Handler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.llm = h
}

// SetCampaignRunner attaches the strategic evolution coordinator.
func (k *Kernel) SetCampaignRunner(r CampaignRunner) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.campaigns = r
}

// SetResourceSampler attaches a host resource monitor. Attach before
// Init to have the kernel start it.
func (k *Kernel) SetResourceSampler(s ResourceSampler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sampler = s
}

// Config returns the kernel's configuration.
func (k *Kernel) Config() *config.Config { return k.cfg }

// Tools returns the tool registry, which may be nil.
func (k *Kernel) Tools() *tools.Registry { return k.tools }

// Subscribe registers a callback for a topic.
func (k *Kernel) Subscribe(topic string, fn EventFunc) {
	k.bus.subscribe(topic, fn)
}

// PublishEvent fans data out to every subscriber of topic. Subscribers
// run concurrently; a panicking subscriber never affects the others.
// Returns the number of subscribers notified.
func (k *Kernel) PublishEvent(topic string, data map[string]any) int {
	n := k.bus.publish(topic, data)
	logging.KernelDebug("event %s delivered to %d subscriber(s)", topic, n)
	return n
}

// HandleInput creates an interaction and processes it synchronously.
// The returned snapshot is terminal; failures are recorded in its Error
// field, never raised. The error return covers only malformed requests
// that produce no interaction at all.
func (k *Kernel) HandleInput(ctx context.Context, content, userID string, kind Kind, metadata map[string]any) (*Interaction, error) {
	if !kind.Valid() {
		return nil, types.NewKindError(types.ErrInvalidInput, "kernel.input",
			fmt.Sprintf("unknown interaction kind %q", kind), nil)
	}
	k.mu.Lock()
	if k.shutdown {
		k.mu.Unlock()
		return nil, types.NewKindError(types.ErrInvalidInput, "kernel.input", "kernel is shut down", nil)
	}
	inter := &Interaction{
		ID:        "int-" + uuid.New().String()[:8],
		Kind:      kind,
		Content:   content,
		UserID:    userID,
		Metadata:  metadata,
		Status:    StatusPending,
		CreatedAt: k.now(),
	}
	k.interactions[inter.ID] = inter
	k.mu.Unlock()
	return k.ProcessInteraction(ctx, inter), nil
}

// ProcessInteraction routes a pending interaction to its handler and
// returns the resulting snapshot. Non-pending interactions are returned
// unchanged. Handler failures and panics land in the Error field as
// classified strings.
func (k *Kernel) ProcessInteraction(ctx context.Context, inter *Interaction) *Interaction {
	if inter == nil {
		return nil
	}
	k.mu.Lock()
	stored, ok := k.interactions[inter.ID]
	if !ok {
		stored = inter
		k.interactions[inter.ID] = stored
	}
	if stored.Status != StatusPending {
		cp := stored.clone()
		k.mu.Unlock()
		return cp
	}
	if err := stored.advance(StatusInProgress, k.now()); err != nil {
		cp := stored.clone()
		k.mu.Unlock()
		logging.KernelWarn("interaction %s not routable: %v", stored.ID, err)
		return cp
	}
	k.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryKernel, "interaction."+string(stored.Kind))
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(ctx, k.cfg.Kernel.DirectiveTimeoutDuration())
	defer cancel()

	response, err := k.route(ctx, stored)
	k.finish(stored, response, err)
	return k.Interaction(stored.ID)
}

// route dispatches to the handler map. agent_registration deliberately
// has no handler: registration goes through the RegisterAgent API.
func (k *Kernel) route(ctx context.Context, inter *Interaction) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = types.NewKindError(types.ErrInternal, "kernel.route",
				fmt.Sprintf("handler for %s panicked: %v", inter.Kind, r), nil)
		}
	}()

	h, ok := k.handlers[inter.Kind]
	if !ok {
		if inter.Kind == KindAgentRegistration {
			return nil, types.NewKindError(types.ErrInvalidInput, "kernel.route",
				"agent_registration is served by the RegisterAgent API", nil)
		}
		return nil, types.NewKindError(types.ErrInvalidInput, "kernel.route",
			fmt.Sprintf("no handler for kind %q", inter.Kind), nil)
	}
	return h(ctx, inter)
}

// finish records the handler outcome. Unclassified errors are wrapped
// as INTERNAL_ERROR so external callers always see a classified string.
func (k *Kernel) finish(inter *Interaction, response any, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	if err != nil {
		var ke *types.KindError
		if !errors.As(err, &ke) {
			err = types.NewKindError(types.ErrInternal, "kernel.interaction", err.Error(), nil)
		}
		inter.Error = err.Error()
		if aerr := inter.advance(StatusFailed, now); aerr != nil {
			logging.KernelWarn("interaction %s: %v", inter.ID, aerr)
		}
		logging.KernelWarn("interaction %s (%s) failed: %v", inter.ID, inter.Kind, err)
		return
	}
	inter.Response = response
	if aerr := inter.advance(StatusCompleted, now); aerr != nil {
		logging.KernelWarn("interaction %s: %v", inter.ID, aerr)
	}
	logging.KernelDebug("interaction %s (%s) completed", inter.ID, inter.Kind)
}

// Interaction returns a snapshot of one interaction, or nil.
func (k *Kernel) Interaction(id string) *Interaction {
	k.mu.Lock()
	defer k.mu.Unlock()
	if inter, ok := k.interactions[id]; ok {
		return inter.clone()
	}
	return nil
}

// TelemetrySnapshot summarizes kernel state for system analysis: agent
// and in-progress interaction counts, subscribed topics, open backlog
// size, observed LLM error rate, and host resources when a sampler is
// attached.
func (k *Kernel) TelemetrySnapshot() map[string]any {
	k.mu.Lock()
	agents := len(k.agents)
	inProgress := 0
	for _, it := range k.interactions {
		if it.Status == StatusInProgress {
			inProgress++
		}
	}
	sampler := k.sampler
	k.mu.Unlock()

	snap := map[string]any{
		"agents":                   agents,
		"interactions_in_progress": inProgress,
		"topics":                   len(k.bus.topics()),
		"backlog_size":             len(k.backlog.Items(BacklogPending, BacklogApproved, BacklogInProgress)),
	}
	rate := 0.0
	if calls := k.llmCalls.Load(); calls > 0 {
		rate = float64(k.llmErrors.Load()) / float64(calls)
	}
	snap["llm_error_rate"] = rate
	if sampler != nil {
		for key, v := range sampler.Snapshot() {
			snap[key] = v
		}
	}
	return snap
}

// Shutdown stops accepting input and waits for in-flight campaign
// goroutines. Idempotent.
func (k *Kernel) Shutdown() {
	k.mu.Lock()
	if k.shutdown {
		k.mu.Unlock()
		return
	}
	k.shutdown = true
	sampler := k.sampler
	k.mu.Unlock()

	k.wg.Wait()
	if s, ok := sampler.(interface{ Stop() }); ok {
		s.Stop()
	}
	logging.Kernel("kernel shut down")
}

// ---------------------------------------------------------------------------
// Singleton
// ---------------------------------------------------------------------------

var (
	instanceMu sync.Mutex
	instance   *Kernel
)

// GetInstance returns the process-wide kernel, creating and initializing
// it on first use. Later calls ignore the arguments.
func GetInstance(ctx context.Context, cfg *config.Config, reg *tools.Registry) (*Kernel, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return instance, nil
	}
	k := New(cfg, reg)
	if err := k.Init(ctx); err != nil {
		return nil, err
	}
	instance = k
	return instance, nil
}

// ResetInstance tears down the singleton so the next GetInstance builds
// a fresh kernel. Test hook.
func ResetInstance() {
	instanceMu.Lock()
	k := instance
	instance = nil
	instanceMu.Unlock()
	if k != nil {
		k.Shutdown()
	}
}

// NewTestKernel returns an isolated, initialized kernel that bypasses
// the singleton and uses the supplied LLM handler instead of building
// one from config.
func NewTestKernel(cfg *config.Config, h llm.Handler, reg *tools.Registry) *Kernel {
	k := New(cfg, reg)
	k.llm = h
	_ = k.Init(context.Background())
	return k
}
