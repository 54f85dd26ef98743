package main

import (
	"context"
	"path/filepath"
	"time"

	"mastermind/internal/audit"
	"mastermind/internal/beliefs"
	"mastermind/internal/config"
	"mastermind/internal/evolution"
	"mastermind/internal/kernel"
	"mastermind/internal/llm"
	"mastermind/internal/logging"
	"mastermind/internal/memory"
	"mastermind/internal/tools"
)

// toolManifestFile is the declarative tool manifest under the data dir.
const toolManifestFile = "tools_manifest.json"

// runtime is the assembled orchestrator: kernel, evolution coordinator,
// audit scheduler, and their shared stores. One-shot verbs build it, run
// one operation, and close it; serve keeps it alive until a signal.
type runtime struct {
	cfg       *config.Config
	llm       llm.Handler
	registry  *tools.Registry
	beliefs   *beliefs.Store
	kernel    *kernel.Kernel
	coord     *evolution.Coordinator
	scheduler *audit.Scheduler
	monitor   *audit.Monitor
	journal   *memory.Journal
}

// newRuntime wires the full stack from the loaded configuration. A
// missing LLM provider degrades to structured LLM_ERROR failures on the
// verbs that need one; everything else keeps working.
func newRuntime(ctx context.Context) (*runtime, error) {
	r := &runtime{cfg: cfg}

	h, err := llm.NewHandler(ctx, cfg.LLM, cfg.RateLimit)
	if err != nil {
		logging.Boot("no LLM provider available: %v", err)
		r.llm = llm.NewUnavailableHandler(err.Error())
	} else {
		r.llm = h
	}

	r.registry = tools.NewRegistry()
	base := cfg.Execution.BaseDir
	r.registry.MustRegister(tools.NewFileReader(base))
	r.registry.MustRegister(tools.NewFileWriter(base))
	r.registry.MustRegister(tools.NewDirectoryLister(base))
	r.registry.MustRegister(tools.NewShellRunner(cfg.Execution))
	r.registry.MustRegister(tools.NewRegistryAuditor(r.registry))

	r.monitor = audit.NewMonitor(30 * time.Second)
	r.kernel = kernel.New(cfg, r.registry)
	r.kernel.SetLLM(r.llm)
	r.kernel.SetResourceSampler(r.monitor)

	// The analyzer reads kernel telemetry, so it registers after the
	// kernel exists.
	r.registry.MustRegister(tools.NewSystemAnalyzer(r.kernel.TelemetrySnapshot))

	manifestPath := filepath.Join(cfg.DataDir, toolManifestFile)
	if entries, merr := tools.LoadManifest(manifestPath); merr != nil {
		logging.BootError("tool manifest %s: %v", manifestPath, merr)
	} else if len(entries) > 0 {
		tools.Apply(r.registry, entries)
	}

	if err := r.kernel.Init(ctx); err != nil {
		r.close()
		return nil, err
	}

	if j, jerr := memory.Open(filepath.Join(cfg.DataDir, "memory.db")); jerr != nil {
		logging.BootError("memory journal unavailable: %v", jerr)
	} else {
		r.journal = j
	}

	r.beliefs = beliefs.NewStoreWithLimit(cfg.CoreLimits.MaxBeliefs)
	r.coord = evolution.NewCoordinator(cfg, r.llm, r.registry, r.beliefs)
	r.coord.SetKernel(r.kernel)
	r.coord.SetJournal(r.journal)
	r.kernel.SetCampaignRunner(r.coord)

	r.scheduler = audit.NewScheduler(cfg, r.coord)
	r.scheduler.SetKernel(r.kernel)
	r.scheduler.SetLoadSampler(r.monitor)

	if err := r.kernel.RegisterAgent(r.coord.AgentID(), "strategic_evolution",
		"blueprint, campaign, and rollback coordination", r.coord); err != nil {
		logging.BootError("coordinator registration: %v", err)
	}
	return r, nil
}

// close tears the stack down in reverse dependency order.
func (r *runtime) close() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
	if r.kernel != nil {
		r.kernel.Shutdown()
	}
	if r.monitor != nil {
		r.monitor.Stop()
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			logging.BootError("journal close: %v", err)
		}
	}
}

// withRuntime runs fn against a freshly assembled runtime and always
// tears it down. Command failures inside fn are already printed as JSON.
func withRuntime(ctx context.Context, fn func(ctx context.Context, r *runtime) error) error {
	r, err := newRuntime(ctx)
	if err != nil {
		return emitErr("failed to start the orchestrator", err)
	}
	defer r.close()
	return fn(ctx, r)
}
