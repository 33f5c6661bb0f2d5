package runner

import (
	"encoding/json"

	"github.com/codefionn/webtaskbench/internal/state"
	"github.com/codefionn/webtaskbench/internal/task"
)

// LifecycleState is one stage of the task lifecycle. A run walks from
// idle through the three pre-execution checks, execution, evaluation
// and state propagation, and ends in one of the four terminal states.
type LifecycleState string

const (
	StateIdle              LifecycleState = "idle"
	StateDependencyCheck   LifecycleState = "dependency_check"
	StatePreconditionCheck LifecycleState = "precondition_check"
	StateResourceCheck     LifecycleState = "resource_check"
	StateExecuting         LifecycleState = "executing"
	StateEvaluating        LifecycleState = "evaluating"
	StatePropagating       LifecycleState = "propagating_state"
	StateCompleted         LifecycleState = "completed"
	StateFailed            LifecycleState = "failed"
	StateBlocked           LifecycleState = "blocked"
	StateAborted           LifecycleState = "aborted"
)

// RawOutcome is what the opaque task-execution collaborator returns.
// The orchestrator never looks past this shape.
type RawOutcome struct {
	Success        bool                   `json:"success"`
	StepsCompleted int                    `json:"steps_completed"`
	StepsTotal     int                    `json:"steps_total"`
	MemoryUpdates  map[string]interface{} `json:"memory_updates,omitempty"`
	ExtractedData  map[string]interface{} `json:"extracted_data,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Executor performs the actual agent/browser interaction for a task.
type Executor interface {
	Execute(spec *task.Spec, trace json.RawMessage) (*RawOutcome, error)
}

// Result is the immutable record of one task run.
type Result struct {
	TaskID                 string         `json:"task_id"`
	Success                bool           `json:"success"`
	FinalState             LifecycleState `json:"final_state"`
	StepsCompleted         int            `json:"steps_completed"`
	StepsTotal             int            `json:"steps_total"`
	TimeElapsed            float64        `json:"time_elapsed"`
	Error                  string         `json:"error,omitempty"`
	DependenciesMet        bool           `json:"dependencies_met"`
	DependencyErrors       []string       `json:"dependency_errors,omitempty"`
	StateUpdatesApplied    []state.Update `json:"state_updates_applied,omitempty"`
	ResourceConstraintsHit []string       `json:"resource_constraints_hit,omitempty"`
	Warnings               []string       `json:"warnings,omitempty"`
}
