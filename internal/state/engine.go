// Package state propagates the effects of completed tasks: dependency
// checks, precondition validation and atomic multi-update application
// with rollback of the in-memory store.
package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codefionn/webtaskbench/internal/dsl"
	"github.com/codefionn/webtaskbench/internal/logger"
	"github.com/codefionn/webtaskbench/internal/store"
)

var (
	// ErrInsufficientResource marks a subtract/decrement that would
	// drive a balance or stock negative.
	ErrInsufficientResource = errors.New("insufficient resource")
	// ErrDependencyNotMet marks a task whose declared dependency has
	// not completed successfully.
	ErrDependencyNotMet = errors.New("dependency not met")
	// ErrPreconditionNotMet marks a failing precondition expression.
	ErrPreconditionNotMet = errors.New("precondition not met")
	// ErrStateUpdate marks a batch aborted mid-way.
	ErrStateUpdate = errors.New("state update failed")
)

// Op is a state mutation operator.
type Op string

const (
	OpSet       Op = "set"
	OpAdd       Op = "add"
	OpSubtract  Op = "subtract"
	OpAppend    Op = "append"
	OpDecrement Op = "decrement"
)

// Update is one declarative state mutation. Keys carry a "mem." or
// "env." prefix selecting the memory space or the environment.
type Update struct {
	Key           string      `json:"key"`
	Op            Op          `json:"operation"`
	Value         interface{} `json:"value"`
	AllowNegative bool        `json:"allow_negative,omitempty"`
}

func (u Update) String() string {
	return fmt.Sprintf("StateUpdate(%s %s=%v)", u.Op, u.Key, u.Value)
}

// DependencyFunc resolves a task id to its declared dependency list.
type DependencyFunc func(taskID string) []string

// Engine applies state updates and validates the cross-task contracts.
type Engine struct {
	store        *store.Store
	dependencies DependencyFunc
	sandbox      *dsl.Evaluator
	log          *logger.Logger
}

// New creates an engine. The precondition sandbox is a DSL evaluator
// with no page attached, so only the mem/json/time accessors resolve.
func New(st *store.Store, deps DependencyFunc, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		store:        st,
		dependencies: deps,
		sandbox:      dsl.New(nil, st, st, log),
		log:          log.WithPrefix("state"),
	}
}

// Sandbox exposes the restricted evaluator for ad hoc checks.
func (e *Engine) Sandbox() *dsl.Evaluator {
	return e.sandbox
}

// ApplyUpdates applies updates in order. A subtract or decrement that
// would go negative without AllowNegative aborts the whole batch. On
// failure with rollbackOnError set, the in-memory store (memory space
// and environment document) is restored to its pre-batch snapshot.
// Relational writes already issued before the failing step are not
// rolled back.
func (e *Engine) ApplyUpdates(updates []Update, rollbackOnError bool) error {
	memSnapshot := e.store.MemorySnapshot()
	docSnapshot := e.store.DocumentSnapshot()

	if err := e.applyAll(updates); err != nil {
		if rollbackOnError {
			e.store.RestoreMemory(memSnapshot)
			e.store.RestoreDocument(docSnapshot)
		}
		return err
	}

	if err := e.store.SaveMemory(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateUpdate, err)
	}
	return nil
}

func (e *Engine) applyAll(updates []Update) error {
	for _, update := range updates {
		if err := e.applyOne(update); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyOne(update Update) error {
	key, isMem := strings.CutPrefix(update.Key, "mem.")
	envKey, isEnv := strings.CutPrefix(update.Key, "env.")

	switch update.Op {
	case OpSet:
		if isMem {
			e.store.SetMemory(key, update.Value)
			return nil
		}
		if isEnv {
			return e.store.SetEnvState(envKey, update.Value)
		}
		return fmt.Errorf("%w: set target %q has no mem/env prefix", ErrStateUpdate, update.Key)

	case OpSubtract:
		if !isEnv {
			return fmt.Errorf("%w: subtract target %q is not an environment path", ErrStateUpdate, update.Key)
		}
		return e.applyDelta(envKey, update, -1, "Insufficient funds")

	case OpDecrement:
		if !isEnv {
			return fmt.Errorf("%w: decrement target %q is not an environment path", ErrStateUpdate, update.Key)
		}
		return e.applyDelta(envKey, update, -1, "Insufficient stock")

	case OpAdd:
		if !isEnv {
			return fmt.Errorf("%w: add target %q is not an environment path", ErrStateUpdate, update.Key)
		}
		return e.applyDelta(envKey, update, 1, "")

	case OpAppend:
		if !isMem {
			return fmt.Errorf("%w: append target %q is not a memory path", ErrStateUpdate, update.Key)
		}
		current, _ := e.store.GetMemory(key, nil).([]interface{})
		e.store.SetMemory(key, append(current, update.Value))
		return nil

	default:
		return fmt.Errorf("%w: unknown operation %q", ErrStateUpdate, update.Op)
	}
}

// applyDelta adds or subtracts a numeric amount on an environment path.
// A missing current value skips the update, matching how the simulated
// world treats rows created out-of-band.
func (e *Engine) applyDelta(path string, update Update, sign float64, insufficientLabel string) error {
	current, err := e.store.EnvState(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateUpdate, err)
	}
	if current == nil {
		e.log.Debug("skipping %s on absent path %s", update.Op, path)
		return nil
	}

	currentF, ok := toFloat(current)
	amountF, ok2 := toFloat(update.Value)
	if !ok || !ok2 {
		return fmt.Errorf("%w: non-numeric operands for %s on %s", ErrStateUpdate, update.Op, path)
	}

	result := currentF + sign*amountF
	if sign < 0 && result < 0 && !update.AllowNegative {
		return fmt.Errorf("%w: %s: %s - %s < 0", ErrInsufficientResource,
			insufficientLabel, formatAmount(currentF), formatAmount(amountF))
	}

	return e.store.SetEnvState(path, result)
}

// CheckDependenciesMet verifies every declared dependency recorded a
// successful completion. The first unmet dependency short-circuits.
func (e *Engine) CheckDependenciesMet(taskID string) error {
	if e.dependencies == nil {
		return nil
	}

	for _, dep := range e.dependencies(taskID) {
		success, _ := e.store.GetMemory(fmt.Sprintf("tasks.%s.success", dep), false).(bool)
		if !success {
			return fmt.Errorf("%w: %s must complete successfully first", ErrDependencyNotMet, dep)
		}
	}
	return nil
}

// ValidatePreconditions evaluates each expression in the restricted
// sandbox. The first failing expression aborts with its text.
func (e *Engine) ValidatePreconditions(preconditions []string) error {
	for _, condition := range preconditions {
		ok, err := e.sandbox.Evaluate(condition)
		if err != nil {
			return fmt.Errorf("error evaluating precondition %q: %w", condition, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrPreconditionNotMet, condition)
		}
	}
	return nil
}

// RecordTaskCompletion writes the dependency record consulted by later
// tasks: success flag, timestamp and result payload, persisted as one
// logical write.
func (e *Engine) RecordTaskCompletion(taskID string, success bool, result map[string]interface{}) error {
	e.store.SetMemory(fmt.Sprintf("tasks.%s.success", taskID), success)
	e.store.SetMemory(fmt.Sprintf("tasks.%s.timestamp", taskID), time.Now().Format(time.RFC3339))
	e.store.SetMemory(fmt.Sprintf("tasks.%s.result", taskID), result)
	return e.store.SaveMemory()
}

// Store exposes the underlying store for collaborators that derive
// completion effects.
func (e *Engine) Store() *store.Store {
	return e.store
}
