package runner

import (
	"encoding/json"
	"fmt"

	"github.com/codefionn/webtaskbench/internal/store"
	"github.com/codefionn/webtaskbench/internal/task"
)

// scriptedTrace is the oracle-trace subset the scripted executor
// understands. The steps themselves stay opaque; only their count
// matters here.
type scriptedTrace struct {
	Steps         []json.RawMessage      `json:"steps"`
	MemoryUpdates map[string]interface{} `json:"memory_updates"`
	ExtractedData map[string]interface{} `json:"extracted_data"`
	Order         *struct {
		ID    string  `json:"id"`
		SKU   string  `json:"sku"`
		Total float64 `json:"total"`
	} `json:"order"`
}

// ScriptedExecutor replays an oracle trace without a browser: it writes
// the trace's memory deltas into the store and reports full success.
// Used for dry runs and by the test harness.
type ScriptedExecutor struct {
	store *store.Store
}

// NewScriptedExecutor creates a scripted executor over the given store.
func NewScriptedExecutor(st *store.Store) *ScriptedExecutor {
	return &ScriptedExecutor{store: st}
}

// Execute implements Executor by replaying the trace.
func (e *ScriptedExecutor) Execute(spec *task.Spec, trace json.RawMessage) (*RawOutcome, error) {
	if len(trace) == 0 {
		return nil, fmt.Errorf("scripted execution of %s requires an oracle trace", spec.TaskID)
	}

	var script scriptedTrace
	if err := json.Unmarshal(trace, &script); err != nil {
		return nil, fmt.Errorf("failed to parse oracle trace for %s: %w", spec.TaskID, err)
	}

	for key, value := range script.MemoryUpdates {
		e.store.SetMemory(key, value)
	}

	// The live environment creates order rows server-side; the
	// scripted replay has to stand in for that.
	if script.Order != nil && script.Order.ID != "" {
		if err := e.store.UpsertOrder(script.Order.ID, script.Order.SKU, script.Order.Total, "pending"); err != nil {
			return nil, fmt.Errorf("failed to record scripted order: %w", err)
		}
	}

	steps := len(script.Steps)
	return &RawOutcome{
		Success:        true,
		StepsCompleted: steps,
		StepsTotal:     steps,
		MemoryUpdates:  script.MemoryUpdates,
		ExtractedData:  script.ExtractedData,
	}, nil
}
