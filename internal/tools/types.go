// Package tools provides the typed tool registry the BDI executor
// dispatches against. Tools are plain values: an id, a declared
// parameter set, and an execute function. There is no runtime loading of
// code; the manifest only toggles availability and documents provenance.
package tools

import (
	"context"
	"fmt"
)

// ExecuteFunc runs a tool. It reports success and a result value; on
// failure the result carries the reason.
type ExecuteFunc func(ctx context.Context, params map[string]any) (bool, any)

// Tool is one registered capability.
type Tool struct {
	// ID is the unique identifier used in plans and manifests.
	ID string

	// Description explains what the tool does. Surfaced to planning
	// prompts, so keep it short and concrete.
	Description string

	// RequiredParams lists parameter names that must be present.
	RequiredParams []string

	// Execute runs the tool.
	Execute ExecuteFunc
}

// Validate checks the tool definition.
func (t *Tool) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("tool id must not be empty")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %s has no execute function", t.ID)
	}
	return nil
}

// Describe returns the tool's manifest entry.
func (t *Tool) Describe() Manifest {
	return Manifest{
		ID:             t.ID,
		Description:    t.Description,
		RequiredParams: append([]string(nil), t.RequiredParams...),
	}
}

// MissingParams returns the required parameters absent from params.
func (t *Tool) MissingParams(params map[string]any) []string {
	var missing []string
	for _, p := range t.RequiredParams {
		if _, ok := params[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// Manifest is the externally visible description of a tool.
type Manifest struct {
	ID             string   `json:"tool_id"`
	Description    string   `json:"description"`
	RequiredParams []string `json:"required_params,omitempty"`
}
