package tools

import (
	"encoding/json"
	"fmt"
	"os"

	"mastermind/internal/logging"
	"mastermind/internal/persist"
)

// Entry is one declarative manifest record. ModulePath and ClassName are
// provenance only; nothing is imported at runtime. Availability is
// controlled solely by the Enabled flag against registered tool ids.
type Entry struct {
	ToolID         string   `json:"tool_id"`
	Enabled        bool     `json:"enabled"`
	ModulePath     string   `json:"module_path,omitempty"`
	ClassName      string   `json:"class_name,omitempty"`
	RequiredParams []string `json:"required_params,omitempty"`
	Description    string   `json:"description,omitempty"`
}

// LoadManifest reads the tool manifest at path. A missing file yields an
// empty manifest; a malformed file is an error so a bad edit does not
// silently disable everything.
func LoadManifest(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return entries, nil
}

// SaveManifest writes entries to path as indented JSON. The write is
// atomic so the watcher never observes a half-written manifest.
func SaveManifest(path string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return persist.WriteFileAtomic(path, data)
}

// Apply reconciles the registry's availability flags with the manifest.
// Entries for unregistered ids are logged and otherwise ignored; a later
// dispatch against them reports the tool unavailable.
func Apply(reg *Registry, entries []Entry) {
	for _, e := range entries {
		if e.ToolID == "" {
			continue
		}
		if !reg.Has(e.ToolID) {
			logging.ToolsWarn("manifest declares %s but no implementation is registered", e.ToolID)
			continue
		}
		reg.SetEnabled(e.ToolID, e.Enabled)
	}
}
