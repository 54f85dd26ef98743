package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mastermind/internal/bdi"
	"mastermind/internal/kernel"
	"mastermind/internal/types"
)

// agentStopWords rejects natural-language words that show up when a
// user types a sentence instead of an id ("agent_create worker the
// backlog cleaner").
var agentStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true,
	"with": true,
}

// agentSpec is the parsed agent_create request.
type agentSpec struct {
	Kind        string
	ID          string
	Description string
	Config      map[string]any
}

// parseAgentSpec applies the agent_create grammar: the optional third
// argument is JSON iff it starts with '{' or '[', otherwise a free-text
// description.
func parseAgentSpec(args []string) (*agentSpec, error) {
	spec := &agentSpec{Kind: strings.TrimSpace(args[0]), ID: strings.TrimSpace(args[1])}
	if spec.Kind == "" {
		return nil, types.NewKindError(types.ErrInvalidInput, "cli.agent", "agent kind must not be empty", nil)
	}
	if spec.ID == "" {
		return nil, types.NewKindError(types.ErrInvalidInput, "cli.agent", "agent id must not be empty", nil)
	}
	if agentStopWords[strings.ToLower(spec.ID)] {
		return nil, types.NewKindError(types.ErrInvalidInput, "cli.agent",
			fmt.Sprintf("%q looks like a word from a sentence, not an agent id; use an identifier like %q",
				spec.ID, spec.Kind+"_1"), nil)
	}
	if len(args) < 3 {
		return spec, nil
	}

	third := strings.TrimSpace(args[2])
	if strings.HasPrefix(third, "{") || strings.HasPrefix(third, "[") {
		var cfg map[string]any
		if err := json.Unmarshal([]byte(third), &cfg); err != nil {
			return nil, types.NewKindError(types.ErrInvalidInput, "cli.agent",
				"third argument starts like JSON but does not parse: "+err.Error(), err)
		}
		spec.Config = cfg
		if d, ok := cfg["description"].(string); ok {
			spec.Description = d
		}
		return spec, nil
	}
	spec.Description = third
	return spec, nil
}

var agentCreateCmd = &cobra.Command{
	Use:   "agent_create <kind> <id> [description|json-config]",
	Short: "Create and register a new agent",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := parseAgentSpec(args)
		if err != nil {
			return emitErr("invalid agent specification", err)
		}
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			var instance any
			if spec.Kind == "bdi" || spec.Kind == "worker" {
				exec := bdi.NewExecutor(spec.ID, r.cfg, r.llm, r.registry, r.beliefs)
				exec.SetKernel(r.kernel)
				exec.SetJournal(r.journal)
				exec.SetCampaignRunner(r.coord)
				instance = exec
			}
			if err := r.kernel.RegisterAgent(spec.ID, spec.Kind, spec.Description, instance); err != nil {
				return emitErr("agent registration failed", err)
			}
			return emitOK("agent "+spec.ID+" registered", r.kernel.Agent(spec.ID))
		})
	},
}

var agentDeleteCmd = &cobra.Command{
	Use:   "agent_delete <id>",
	Short: "Deregister and shut down an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			reg := r.kernel.Agent(id)
			if reg == nil {
				return emitFail(types.ErrInvalidInput, "no agent registered as "+id, nil)
			}
			if id == kernel.KernelAgentID {
				return emitFail(types.ErrInvalidInput, "the kernel cannot deregister itself", nil)
			}
			r.kernel.UnregisterAgent(id)
			return emitOK("agent "+id+" deregistered", map[string]any{"agent_id": id, "kind": reg.Kind})
		})
	},
}

var agentListCmd = &cobra.Command{
	Use:   "agent_list",
	Short: "List registered agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			agents := r.kernel.Agents()
			return emitOK(fmt.Sprintf("%d agent(s) registered", len(agents)),
				map[string]any{"agents": agents})
		})
	},
}

func init() {
	rootCmd.AddCommand(agentCreateCmd, agentDeleteCmd, agentListCmd)
}
