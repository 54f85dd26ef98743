package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mastermind/internal/config"
	"mastermind/internal/types"
)

// ResolveScoped resolves rel against baseDir and rejects any path that
// escapes it.
func ResolveScoped(baseDir, rel string) (string, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	target := rel
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)

	relPath, err := filepath.Rel(base, target)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", types.NewKindError(types.ErrPermissionDenied, "tools.path",
			fmt.Sprintf("path %q escapes base directory", rel), nil)
	}
	return target, nil
}

// NewFileReader returns a tool that reads a file under baseDir.
func NewFileReader(baseDir string) *Tool {
	return &Tool{
		ID:             "file_reader",
		Description:    "Read a text file within the workspace",
		RequiredParams: []string{"path"},
		Execute: func(_ context.Context, params map[string]any) (bool, any) {
			rel, _ := params["path"].(string)
			path, err := ResolveScoped(baseDir, rel)
			if err != nil {
				return false, err.Error()
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return false, fmt.Sprintf("read %s: %v", rel, err)
			}
			return true, string(data)
		},
	}
}

// NewFileWriter returns a tool that writes a file under baseDir,
// creating parent directories as needed.
func NewFileWriter(baseDir string) *Tool {
	return &Tool{
		ID:             "file_writer",
		Description:    "Write a text file within the workspace",
		RequiredParams: []string{"path", "content"},
		Execute: func(_ context.Context, params map[string]any) (bool, any) {
			rel, _ := params["path"].(string)
			content, _ := params["content"].(string)
			path, err := ResolveScoped(baseDir, rel)
			if err != nil {
				return false, err.Error()
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return false, fmt.Sprintf("create parent of %s: %v", rel, err)
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return false, fmt.Sprintf("write %s: %v", rel, err)
			}
			return true, map[string]any{"path": rel, "bytes": len(content)}
		},
	}
}

// NewDirectoryLister returns a tool that lists a directory under baseDir.
func NewDirectoryLister(baseDir string) *Tool {
	return &Tool{
		ID:          "directory_lister",
		Description: "List directory entries within the workspace",
		Execute: func(_ context.Context, params map[string]any) (bool, any) {
			rel, _ := params["path"].(string)
			if rel == "" {
				rel = "."
			}
			path, err := ResolveScoped(baseDir, rel)
			if err != nil {
				return false, err.Error()
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return false, fmt.Sprintf("list %s: %v", rel, err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return true, names
		},
	}
}

// NewShellRunner returns a tool that runs an allow-listed command
// without shell interpretation. The first token of the command is the
// binary; denied binaries fail before anything executes.
func NewShellRunner(cfg config.ExecutionConfig) *Tool {
	allowed := make(map[string]bool, len(cfg.AllowedBinaries))
	for _, b := range cfg.AllowedBinaries {
		allowed[b] = true
	}
	timeout, err := time.ParseDuration(cfg.DefaultTimeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Tool{
		ID:             "shell_runner",
		Description:    "Run an allow-listed command in the workspace",
		RequiredParams: []string{"command"},
		Execute: func(ctx context.Context, params map[string]any) (bool, any) {
			command, _ := params["command"].(string)
			fields := strings.Fields(command)
			if len(fields) == 0 {
				return false, "empty command"
			}
			binary := fields[0]
			if !allowed[binary] {
				return false, fmt.Sprintf("binary not allowed: %s", binary)
			}

			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			c := exec.CommandContext(runCtx, binary, fields[1:]...)
			c.Dir = cfg.BaseDir
			for _, key := range cfg.AllowedEnvVars {
				if v, ok := os.LookupEnv(key); ok {
					c.Env = append(c.Env, key+"="+v)
				}
			}

			output, err := c.CombinedOutput()
			if err != nil {
				return false, fmt.Sprintf("command failed: %v, output: %s", err, string(output))
			}
			return true, string(output)
		},
	}
}

// NewSystemAnalyzer returns the improvement-suggestion tool. The
// snapshot function supplies current telemetry (cpu_percent,
// memory_percent, backlog_size, llm_error_rate); suggestions are derived
// from whatever signals are present.
func NewSystemAnalyzer(snapshot func() map[string]any) *Tool {
	return &Tool{
		ID:          "system_analyzer",
		Description: "Analyze system telemetry and suggest improvements",
		Execute: func(_ context.Context, params map[string]any) (bool, any) {
			var metrics map[string]any
			if snapshot != nil {
				metrics = snapshot()
			}
			target, _ := params["target_component"].(string)

			var suggestions []map[string]any
			add := func(component, text string, priority int) {
				suggestions = append(suggestions, map[string]any{
					"target_component": component,
					"suggestion":       text,
					"priority":         priority,
				})
			}

			if v, ok := asFloat(metrics["cpu_percent"]); ok && v > 80 {
				add("scheduler", fmt.Sprintf("CPU at %.0f%%; lower audit frequency or heavy-task bound", v), 7)
			}
			if v, ok := asFloat(metrics["memory_percent"]); ok && v > 85 {
				add("beliefs", fmt.Sprintf("memory at %.0f%%; tighten belief TTLs and store caps", v), 7)
			}
			if v, ok := asFloat(metrics["backlog_size"]); ok && v > 50 {
				add("coordinator", fmt.Sprintf("improvement backlog at %.0f items; raise processing cadence", v), 6)
			}
			if v, ok := asFloat(metrics["llm_error_rate"]); ok && v > 0.2 {
				add("llm", fmt.Sprintf("LLM error rate %.0f%%; review provider failover order", v*100), 8)
			}
			if len(suggestions) == 0 {
				component := target
				if component == "" {
					component = "kernel"
				}
				add(component, "no hot spots detected; schedule a routine code-quality audit", 3)
			}

			return true, map[string]any{"suggestions": suggestions}
		},
	}
}

// NewRegistryAuditor returns a tool that scans the registry for gaps:
// disabled tools and tools without descriptions. Audit campaigns fall
// back to it when no external auditor is wired.
func NewRegistryAuditor(reg *Registry) *Tool {
	return &Tool{
		ID:          "registry_auditor",
		Description: "Scan the tool registry for coverage gaps",
		Execute: func(_ context.Context, _ map[string]any) (bool, any) {
			var findings []string
			enabled := 0
			all := reg.All()
			for _, t := range all {
				if !reg.Available(t.ID) {
					findings = append(findings, fmt.Sprintf("tool %s is disabled", t.ID))
					continue
				}
				enabled++
				if t.Description == "" {
					findings = append(findings, fmt.Sprintf("tool %s has no description", t.ID))
				}
			}
			return true, map[string]any{
				"tool_count":    len(all),
				"enabled_count": enabled,
				"findings":      findings,
			}
		},
	}
}

// asFloat widens numeric telemetry values.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
