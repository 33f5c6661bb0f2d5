package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/webtaskbench/internal/store"
	"github.com/codefionn/webtaskbench/internal/task"
)

const shoppingSpec = `{
	"task_id": "B1-shopping",
	"title": "Buy a wireless mouse under $50",
	"inputs": {"max_price": 50, "sku": "WM-5521"},
	"success_criteria": [
		"mem('orders.last.id') == 'O-20001'",
		"json('env', 'banking.balance.checking') >= 900"
	]
}`

const shoppingTrace = `{
	"steps": [{"action": "search"}, {"action": "add_to_cart"}, {"action": "checkout"}],
	"memory_updates": {
		"orders.last.id": "O-20001",
		"orders.last.total": 29.99
	},
	"extracted_data": {"order_id": "O-20001"},
	"order": {"id": "O-20001", "sku": "WM-5521", "total": 29.99}
}`

const returnSpec = `{
	"task_id": "C2-return",
	"title": "Return the last order",
	"dependencies": ["B1-shopping"],
	"success_criteria": ["mem('returns.last.id') != ''"]
}`

const returnTrace = `{
	"steps": [{"action": "open_orders"}, {"action": "request_return"}],
	"memory_updates": {
		"returns.last.id": "R-50001",
		"returns.last.order_id": "O-20001",
		"returns.last.refund_amount": 29.99
	}
}`

func writeTask(t *testing.T, root, name, spec, trace string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "task_spec.json"), []byte(spec), 0644))
	if trace != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "oracle_trace.json"), []byte(trace), 0644))
	}
}

func newTestRunner(t *testing.T) (*Runner, *store.Store, string) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bench.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tasksRoot := t.TempDir()
	r := New(st, NewScriptedExecutor(st), nil, tasksRoot, t.TempDir(), nil)
	return r, st, tasksRoot
}

func TestRunTaskFullLifecycle(t *testing.T) {
	r, st, tasksRoot := newTestRunner(t)
	writeTask(t, tasksRoot, "B1-shopping", shoppingSpec, shoppingTrace)
	require.NoError(t, st.SeedAccount("checking", 1000))
	require.NoError(t, st.SeedProduct("WM-5521", "Wireless Mouse", 29.99, 14))

	result, err := r.RunTaskByName("B1-shopping")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StateCompleted, result.FinalState)
	assert.Equal(t, 3, result.StepsCompleted)
	assert.Equal(t, 3, result.StepsTotal)
	assert.True(t, result.DependenciesMet)
	assert.NotEmpty(t, result.StateUpdatesApplied)
	assert.Empty(t, result.Warnings)

	// Completion effects deducted the purchase and confirmed the order.
	balance, envErr := st.EnvState("banking.balance.checking")
	require.NoError(t, envErr)
	assert.InDelta(t, 970.01, balance.(float64), 0.001)

	state, envErr := st.EnvState("orders.O-20001.state")
	require.NoError(t, envErr)
	assert.Equal(t, "confirmed", state)

	// The dependency record is in place for downstream tasks.
	success, ok := st.GetMemory("tasks.B1-shopping.success", nil).(bool)
	require.True(t, ok)
	assert.True(t, success)
}

func TestRunTaskBlockedOnUnmetDependency(t *testing.T) {
	r, st, tasksRoot := newTestRunner(t)
	writeTask(t, tasksRoot, "C2-return", returnSpec, returnTrace)

	result, err := r.RunTaskByName("C2-return")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StateBlocked, result.FinalState)
	assert.False(t, result.DependenciesMet)
	require.Len(t, result.DependencyErrors, 1)
	assert.Contains(t, result.DependencyErrors[0], "B1-shopping must complete successfully first")

	// A blocked task records no completion at all.
	assert.Nil(t, st.GetMemory("tasks.C2-return.success", nil))
}

func TestRunChainPropagatesState(t *testing.T) {
	r, st, tasksRoot := newTestRunner(t)
	writeTask(t, tasksRoot, "B1-shopping", shoppingSpec, shoppingTrace)
	writeTask(t, tasksRoot, "C2-return", returnSpec, returnTrace)
	require.NoError(t, st.SeedAccount("checking", 1000))
	require.NoError(t, st.SeedProduct("WM-5521", "Wireless Mouse", 29.99, 14))

	chain := r.RunChain([]string{"B1-shopping", "C2-return"}, true)
	assert.Equal(t, 2, chain.Completed)
	assert.Equal(t, 0, chain.Failed)
	assert.Equal(t, 0, chain.Blocked)
	require.Len(t, chain.Tasks, 2)

	// The refund restored the original balance and flipped the order.
	balance, err := st.EnvState("banking.balance.checking")
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, balance.(float64), 0.001)

	state, err := st.EnvState("orders.O-20001.state")
	require.NoError(t, err)
	assert.Equal(t, "returned", state)
}

func TestRunChainStopsOnFailure(t *testing.T) {
	r, _, tasksRoot := newTestRunner(t)
	// C2 blocks without B1's record; B1 never runs afterwards.
	writeTask(t, tasksRoot, "C2-return", returnSpec, returnTrace)
	writeTask(t, tasksRoot, "B1-shopping", shoppingSpec, shoppingTrace)

	chain := r.RunChain([]string{"C2-return", "B1-shopping"}, true)
	require.Len(t, chain.Tasks, 1)
	assert.Equal(t, 1, chain.Blocked)
	assert.Equal(t, 0, chain.Completed)
}

func TestRunTaskResourceConstraint(t *testing.T) {
	r, st, tasksRoot := newTestRunner(t)
	writeTask(t, tasksRoot, "B1-shopping", `{
		"task_id": "B1-shopping",
		"inputs": {"max_price": 2000}
	}`, shoppingTrace)
	require.NoError(t, st.SeedAccount("checking", 1000))

	result, err := r.RunTaskByName("B1-shopping")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.FinalState)
	require.Len(t, result.ResourceConstraintsHit, 1)
	assert.Contains(t, result.ResourceConstraintsHit[0], "Insufficient balance: $1000.00 < $2000.00")

	// The executor never ran: no order row, no memory updates.
	assert.Nil(t, st.GetMemory("orders.last.id", nil))
}

func TestRunTaskPreconditionAborts(t *testing.T) {
	r, _, tasksRoot := newTestRunner(t)
	writeTask(t, tasksRoot, "D3-autopay", `{
		"task_id": "D3-autopay",
		"preconditions": ["mem('profile.ready') == 'true'"]
	}`, `{"steps": []}`)

	result, err := r.RunTaskByName("D3-autopay")
	require.NoError(t, err)
	assert.Equal(t, StateAborted, result.FinalState)
	assert.Contains(t, result.Error, "precondition not met")
}

func TestRunTaskPreconditionWarnAndContinue(t *testing.T) {
	r, st, tasksRoot := newTestRunner(t)
	writeTask(t, tasksRoot, "D1-balance", `{
		"task_id": "D1-balance",
		"preconditions": ["mem('profile.ready') == 'true'"],
		"error_recovery": {"on_precondition_fail": "warn_and_continue"}
	}`, `{
		"steps": [{"action": "open_banking"}],
		"memory_updates": {"banking.balance.checking": 1000}
	}`)
	require.NoError(t, st.SeedAccount("checking", 1000))

	result, err := r.RunTaskByName("D1-balance")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StateCompleted, result.FinalState)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "precondition not met")
}

func TestRunTaskUnknownCriterionFailsFast(t *testing.T) {
	r, _, tasksRoot := newTestRunner(t)
	writeTask(t, tasksRoot, "X1-weird", `{
		"task_id": "X1-weird",
		"success_criteria": ["frobnicate('#x')"]
	}`, `{"steps": []}`)

	result, err := r.RunTaskByName("X1-weird")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.FinalState)
	assert.Contains(t, result.Error, "unknown assertion expression")
}

// slowExecutor blocks longer than any configured task timeout.
type slowExecutor struct {
	block time.Duration
}

func (s *slowExecutor) Execute(spec *task.Spec, trace json.RawMessage) (*RawOutcome, error) {
	time.Sleep(s.block)
	return &RawOutcome{Success: true}, nil
}

func TestRunTaskTimeoutAborts(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "bench.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tasksRoot := t.TempDir()
	writeTask(t, tasksRoot, "B1-shopping", shoppingSpec, shoppingTrace)
	require.NoError(t, st.SeedAccount("checking", 1000))

	r := New(st, &slowExecutor{block: 200 * time.Millisecond}, nil, tasksRoot, t.TempDir(), nil).
		WithTaskTimeout(20 * time.Millisecond)

	result, err := r.RunTaskByName("B1-shopping")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StateFailed, result.FinalState)
	assert.Contains(t, result.Error, "timed out")
}

func TestScriptedExecutorAppliesTrace(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "bench.db"), nil)
	require.NoError(t, err)
	defer st.Close()

	exec := NewScriptedExecutor(st)
	outcome, err := exec.Execute(&task.Spec{TaskID: "B1-shopping"}, []byte(shoppingTrace))
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 3, outcome.StepsTotal)
	assert.Equal(t, "O-20001", st.GetMemory("orders.last.id", nil))

	// The trace's order side effect created the relational row.
	state, err := st.EnvState("orders.O-20001.state")
	require.NoError(t, err)
	assert.Equal(t, "pending", state)

	// Traceless scripted execution cannot proceed.
	_, err = exec.Execute(&task.Spec{TaskID: "B5-track"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle trace")
}

func TestExtractTaskResultFamilies(t *testing.T) {
	outcome := &RawOutcome{
		MemoryUpdates: map[string]interface{}{
			"orders.last.id":    "O-1",
			"orders.last.total": 12.5,
		},
		ExtractedData: map[string]interface{}{"order_id": "O-1"},
	}

	result := extractTaskResult("B1", outcome)
	assert.Equal(t, "O-1", result["order_id"])
	assert.Equal(t, 12.5, result["total"])
	assert.NotNil(t, result["extracted_data"])

	// Families fall back to original defaults when the executor
	// extracted nothing.
	result = extractTaskResult("C2", &RawOutcome{})
	assert.Equal(t, "R-50001", result["return_id"])
	assert.Equal(t, 49.99, result["refund_amount"])
}
