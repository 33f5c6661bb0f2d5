// Package task loads task specifications and the optional oracle traces
// that sit next to them on disk.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codefionn/webtaskbench/internal/recovery"
)

// Spec is one task specification (task_spec.json). The family, derived
// from the id prefix, keys resource-constraint rules and completion
// effects.
type Spec struct {
	TaskID          string                 `json:"task_id"`
	Title           string                 `json:"title,omitempty"`
	Dependencies    []string               `json:"dependencies,omitempty"`
	Preconditions   []string               `json:"preconditions,omitempty"`
	SuccessCriteria []string               `json:"success_criteria,omitempty"`
	Inputs          map[string]interface{} `json:"inputs,omitempty"`
	ErrorRecovery   recovery.Config        `json:"error_recovery,omitempty"`
	TimeoutSeconds  int                    `json:"timeout_seconds,omitempty"`
}

// Family returns the id prefix before the first dash: "B1-shopping" is
// family "B1".
func (s *Spec) Family() string {
	if i := strings.Index(s.TaskID, "-"); i > 0 {
		return s.TaskID[:i]
	}
	return s.TaskID
}

// InputFloat reads a numeric input field, tolerating JSON's float64
// decoding of integers.
func (s *Spec) InputFloat(name string, def float64) float64 {
	v, ok := s.Inputs[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// InputString reads a string input field.
func (s *Spec) InputString(name, def string) string {
	if v, ok := s.Inputs[name].(string); ok {
		return v
	}
	return def
}

// Load reads and validates a task spec file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task spec: %w", err)
	}

	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse task spec %s: %w", path, err)
	}
	if spec.TaskID == "" {
		return nil, fmt.Errorf("task spec %s has no task_id", path)
	}

	return &spec, nil
}

// Find locates a task directory by name under tasksRoot,
// case-insensitively, and returns the spec path plus the oracle trace
// path when one exists.
func Find(tasksRoot, name string) (specPath, tracePath string, err error) {
	entries, err := os.ReadDir(tasksRoot)
	if err != nil {
		return "", "", fmt.Errorf("failed to read tasks directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.EqualFold(entry.Name(), name) {
			continue
		}

		dir := filepath.Join(tasksRoot, entry.Name())
		specPath = filepath.Join(dir, "task_spec.json")
		if _, err := os.Stat(specPath); err != nil {
			return "", "", fmt.Errorf("task %s has no task_spec.json", entry.Name())
		}

		tracePath = filepath.Join(dir, "oracle_trace.json")
		if _, err := os.Stat(tracePath); err != nil {
			tracePath = ""
		}
		return specPath, tracePath, nil
	}

	return "", "", fmt.Errorf("task not found: %s", name)
}

// List returns the names of all task directories under tasksRoot.
func List(tasksRoot string) ([]string, error) {
	entries, err := os.ReadDir(tasksRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// LoadTrace reads an oracle trace without interpreting it; the trace is
// opaque to the orchestrator and handed to the executor as-is.
func LoadTrace(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read oracle trace: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("oracle trace %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}
