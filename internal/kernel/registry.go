package kernel

import (
	"sort"
	"time"

	"mastermind/internal/types"
)

// AgentRegistration records one agent known to the kernel. InstanceRef
// is a live handle for in-process agents and never leaves the process.
type AgentRegistration struct {
	AgentID      string    `json:"agent_id"`
	Kind         string    `json:"kind"`
	Description  string    `json:"description,omitempty"`
	InstanceRef  any       `json:"-"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RegisterAgent adds an agent to the registry. Agent identity is unique;
// registering an existing id is an INVALID_INPUT error.
func (k *Kernel) RegisterAgent(agentID, kind, description string, instanceRef any) error {
	if agentID == "" {
		return types.NewKindError(types.ErrInvalidInput, "kernel.register", "agent id required", nil)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.agents[agentID]; exists {
		return types.NewKindError(types.ErrInvalidInput, "kernel.register",
			"agent "+agentID+" already registered", nil)
	}
	k.agents[agentID] = &AgentRegistration{
		AgentID:      agentID,
		Kind:         kind,
		Description:  description,
		InstanceRef:  instanceRef,
		Status:       "active",
		RegisteredAt: k.now(),
	}
	return nil
}

// Agent returns a snapshot of one registration, or nil if unknown.
func (k *Kernel) Agent(agentID string) *AgentRegistration {
	k.mu.Lock()
	defer k.mu.Unlock()
	reg, ok := k.agents[agentID]
	if !ok {
		return nil
	}
	cp := *reg
	return &cp
}

// Agents returns a snapshot of all registrations sorted by agent id.
func (k *Kernel) Agents() []AgentRegistration {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]AgentRegistration, 0, len(k.agents))
	for _, reg := range k.agents {
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// UnregisterAgent removes an agent from the registry. Unknown ids are a
// no-op so teardown paths can be unconditional.
func (k *Kernel) UnregisterAgent(agentID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.agents, agentID)
}
