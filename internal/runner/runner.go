// Package runner drives one task through its full lifecycle: dependency
// check, precondition validation, resource constraints, execution,
// success evaluation and state propagation.
package runner

import (
	"errors"
	"time"

	"github.com/codefionn/webtaskbench/internal/dsl"
	"github.com/codefionn/webtaskbench/internal/logger"
	"github.com/codefionn/webtaskbench/internal/recovery"
	"github.com/codefionn/webtaskbench/internal/state"
	"github.com/codefionn/webtaskbench/internal/store"
	"github.com/codefionn/webtaskbench/internal/task"
)

// Runner orchestrates task runs against one shared store. Tasks run
// one at a time; the runner is not safe for concurrent RunTask calls.
type Runner struct {
	store       *store.Store
	engine      *state.Engine
	eval        *dsl.Evaluator
	handler     *recovery.Handler
	executor    Executor
	tasksRoot   string
	taskTimeout time.Duration
	log         *logger.Logger
}

// New creates a Runner. A nil page restricts success criteria to the
// memory and environment atoms, which is how scripted runs operate.
func New(st *store.Store, executor Executor, page dsl.PageInspector, tasksRoot, errorsDir string, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Discard()
	}

	deps := func(taskID string) []string {
		specPath, _, err := task.Find(tasksRoot, taskID)
		if err != nil {
			return nil
		}
		spec, err := task.Load(specPath)
		if err != nil {
			return nil
		}
		return spec.Dependencies
	}

	return &Runner{
		store:     st,
		engine:    state.New(st, deps, log),
		eval:      dsl.New(page, st, st, log),
		handler:   recovery.NewHandler(errorsDir, log),
		executor:  executor,
		tasksRoot: tasksRoot,
		log:       log.WithPrefix("runner"),
	}
}

// WithTaskTimeout caps how long one execution may run before the
// timeout strategy aborts it. Zero leaves executions unbounded.
func (r *Runner) WithTaskTimeout(d time.Duration) *Runner {
	r.taskTimeout = d
	return r
}

// WithPollInterval adjusts the sampling interval of the temporal
// criteria combinators.
func (r *Runner) WithPollInterval(d time.Duration) *Runner {
	r.eval.WithPollInterval(d)
	return r
}

// WithSources points criteria evaluation at a remote environment API
// instead of the in-process store. Preconditions keep reading local
// state through the engine.
func (r *Runner) WithSources(memory dsl.MemoryReader, env dsl.EnvQuerier) *Runner {
	r.eval.WithSources(memory, env)
	return r
}

// WithRecoveryDefaults replaces the harness-wide recovery fallbacks.
func (r *Runner) WithRecoveryDefaults(d recovery.Defaults) *Runner {
	r.handler.WithDefaults(d)
	return r
}

// Engine exposes the state engine for direct harness use.
func (r *Runner) Engine() *state.Engine {
	return r.engine
}

// Evaluator exposes the criteria evaluator for ad hoc expressions.
func (r *Runner) Evaluator() *dsl.Evaluator {
	return r.eval
}

// RunTaskByName locates a task under the tasks root and runs it.
func (r *Runner) RunTaskByName(name string) (*Result, error) {
	specPath, tracePath, err := task.Find(r.tasksRoot, name)
	if err != nil {
		return nil, err
	}
	return r.RunTask(specPath, tracePath)
}

// RunTask executes the full lifecycle for one task spec. Failing any
// check before execution terminates without invoking the executor; a
// state-propagation failure after a successful run downgrades to a
// warning on an otherwise completed task.
func (r *Runner) RunTask(specPath, tracePath string) (*Result, error) {
	spec, err := task.Load(specPath)
	if err != nil {
		return nil, err
	}

	var trace []byte
	if tracePath != "" {
		raw, err := task.LoadTrace(tracePath)
		if err != nil {
			return nil, err
		}
		trace = raw
	}

	started := time.Now()
	result := &Result{
		TaskID:          spec.TaskID,
		FinalState:      StateIdle,
		DependenciesMet: true,
	}
	finish := func() *Result {
		result.TimeElapsed = time.Since(started).Seconds()
		return result
	}

	r.log.Info("executing task %s", spec.TaskID)

	// Dependency check.
	result.FinalState = StateDependencyCheck
	if err := r.engine.CheckDependenciesMet(spec.TaskID); err != nil {
		r.log.Warn("task %s blocked: %v", spec.TaskID, err)
		result.FinalState = StateBlocked
		result.DependenciesMet = false
		result.DependencyErrors = append(result.DependencyErrors, err.Error())
		return finish(), nil
	}

	// Precondition check, subject to the configured failure policy.
	result.FinalState = StatePreconditionCheck
	if err := r.engine.ValidatePreconditions(spec.Preconditions); err != nil {
		policyErr := r.handler.HandlePreconditionFailure(
			spec.TaskID, err.Error(), spec.ErrorRecovery.OnPreconditionFail)
		if policyErr != nil {
			result.FinalState = StateAborted
			result.Error = err.Error()
			return finish(), nil
		}
		result.Warnings = append(result.Warnings, err.Error())
	}

	// Resource constraints.
	result.FinalState = StateResourceCheck
	if err := r.engine.CheckResourceConstraints(spec); err != nil {
		r.log.Warn("resource constraint hit for %s: %v", spec.TaskID, err)
		result.FinalState = StateFailed
		result.ResourceConstraintsHit = append(result.ResourceConstraintsHit, err.Error())
		return finish(), nil
	}

	// Execution, wrapped in the recovery strategies.
	result.FinalState = StateExecuting
	outcome, err := r.execute(spec, trace)
	if err != nil {
		result.FinalState = StateFailed
		result.Error = err.Error()
		r.recordFailure(spec.TaskID, result)
		return finish(), nil
	}
	result.StepsCompleted = outcome.StepsCompleted
	result.StepsTotal = outcome.StepsTotal
	if !outcome.Success {
		result.FinalState = StateFailed
		result.Error = outcome.Error
		r.recordFailure(spec.TaskID, result)
		return finish(), nil
	}

	// Success evaluation: one retry-after-wait per failing criterion.
	result.FinalState = StateEvaluating
	for _, criterion := range spec.SuccessCriteria {
		ok, err := r.eval.Evaluate(criterion)
		if err != nil && errors.Is(err, dsl.ErrUnknownExpression) {
			result.FinalState = StateFailed
			result.Error = err.Error()
			r.recordFailure(spec.TaskID, result)
			return finish(), nil
		}
		if err != nil || !ok {
			retried := r.handler.RetryAssertion(spec.TaskID, criterion, spec.ErrorRecovery.OnAssertionFail,
				func() (bool, error) { return r.eval.Evaluate(criterion) },
				r.store.MemorySnapshot,
			)
			if !retried {
				result.FinalState = StateFailed
				result.Error = "Assertion failed: " + criterion
				r.recordFailure(spec.TaskID, result)
				return finish(), nil
			}
		}
	}

	// State propagation. A failure here is a warning, not a task
	// failure: the board already shows success.
	result.FinalState = StatePropagating
	taskResult := extractTaskResult(spec.Family(), outcome)

	applied, err := r.engine.ApplyCompletionEffects(spec.TaskID, taskResult)
	if err != nil {
		r.log.Warn("state updates failed for %s: %v", spec.TaskID, err)
		result.Warnings = append(result.Warnings, "State updates failed: "+err.Error())
	} else {
		result.StateUpdatesApplied = applied
	}

	if err := r.engine.RecordTaskCompletion(spec.TaskID, true, taskResult); err != nil {
		result.Warnings = append(result.Warnings, "Completion record failed: "+err.Error())
	}

	result.Success = true
	result.FinalState = StateCompleted
	r.log.Info("task %s completed (%d/%d steps)", spec.TaskID, result.StepsCompleted, result.StepsTotal)
	return finish(), nil
}

// execute delegates to the external collaborator. A timeout aborts
// through the timeout strategy and is never retried; any other failure
// gets one exponential-backoff pass before giving up.
func (r *Runner) execute(spec *task.Spec, trace []byte) (*RawOutcome, error) {
	outcome, err := r.runExecutor(spec, trace)
	if err == nil {
		return outcome, nil
	}

	if errors.Is(err, recovery.ErrTimeout) {
		return nil, r.handler.HandleTimeout(spec.TaskID, stepsCompleted(outcome),
			func() map[string]interface{} { return r.store.MemorySnapshot() }, nil)
	}

	r.log.Warn("execution failed for %s, retrying: %v", spec.TaskID, err)
	var retried *RawOutcome
	retryErr := r.handler.RetryBackoff(spec.TaskID, spec.ErrorRecovery.OnNetworkError, func() error {
		var opErr error
		retried, opErr = r.runExecutor(spec, trace)
		return opErr
	})
	if retryErr != nil {
		return nil, retryErr
	}
	return retried, nil
}

// runExecutor invokes the executor, bounded by the configured task
// timeout. The executor contract is synchronous, so the bound runs it
// on a goroutine and abandons it once the deadline passes.
func (r *Runner) runExecutor(spec *task.Spec, trace []byte) (*RawOutcome, error) {
	if r.taskTimeout <= 0 {
		return r.executor.Execute(spec, trace)
	}

	type executed struct {
		outcome *RawOutcome
		err     error
	}
	done := make(chan executed, 1)
	go func() {
		outcome, err := r.executor.Execute(spec, trace)
		done <- executed{outcome, err}
	}()

	select {
	case e := <-done:
		return e.outcome, e.err
	case <-time.After(r.taskTimeout):
		return nil, recovery.ErrTimeout
	}
}

// recordFailure writes the dependency record for a failed task so later
// dependents block on it.
func (r *Runner) recordFailure(taskID string, result *Result) {
	payload := map[string]interface{}{"error": result.Error}
	if err := r.engine.RecordTaskCompletion(taskID, false, payload); err != nil {
		r.log.Warn("could not record failure for %s: %v", taskID, err)
	}
}

func stepsCompleted(outcome *RawOutcome) int {
	if outcome == nil {
		return -1
	}
	return outcome.StepsCompleted
}
