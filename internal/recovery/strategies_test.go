package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	h := NewHandler(t.TempDir(), nil).WithSleep(func(d time.Duration) {
		slept = append(slept, d)
	})
	return h, &slept
}

func readReport(t *testing.T, dir, taskID string) *ErrorReport {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, taskID, "error_report.json"))
	require.NoError(t, err)

	var report ErrorReport
	require.NoError(t, json.Unmarshal(data, &report))
	return &report
}

func TestHandleTimeoutNeverRetries(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, nil).WithSleep(func(time.Duration) {})

	cleaned := false
	err := h.HandleTimeout("B1-shopping", 3,
		func() map[string]interface{} { return map[string]interface{}{"step": 3} },
		func() { cleaned = true },
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, cleaned)

	report := readReport(t, dir, "B1-shopping")
	assert.Equal(t, "timeout_task", report.ErrorType)
	assert.Equal(t, 3, report.StepIndex)
	assert.False(t, report.RecoveryAttempted)
}

func TestRetryFixedSucceedsMidway(t *testing.T) {
	h, slept := newTestHandler(t)

	attempts := 0
	err := h.RetryFixed("task", NetworkRetryConfig{MaxRetries: 3, RetryDelayMS: 100}, func() error {
		attempts++
		if attempts < 2 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, *slept)
}

func TestRetryBackoffDelaysGrow(t *testing.T) {
	dir := t.TempDir()
	var slept []time.Duration
	h := NewHandler(dir, nil).WithSleep(func(d time.Duration) {
		slept = append(slept, d)
	})

	attempts := 0
	err := h.RetryBackoff("B2-checkout", NetworkRetryConfig{}, func() error {
		attempts++
		return fmt.Errorf("connection reset")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
	}, slept)

	report := readReport(t, dir, "B2-checkout")
	assert.Equal(t, "network_timeout", report.ErrorType)
	assert.Equal(t, "exponential_backoff", report.RecoveryStrategy)
	assert.True(t, report.RecoveryAttempted)
	assert.Equal(t, float64(3), report.Metrics["retries"])
}

func TestRetryBackoffUsesHandlerDefaults(t *testing.T) {
	h, slept := newTestHandler(t)
	h.WithDefaults(Defaults{MaxRetries: 2, RetryDelayMS: 10, BackoffMultiplier: 3})

	attempts := 0
	err := h.RetryBackoff("B2-checkout", NetworkRetryConfig{}, func() error {
		attempts++
		return fmt.Errorf("connection reset")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 30 * time.Millisecond}, *slept)

	// A knob set in the task spec still wins over the harness default.
	*slept = nil
	err = h.RetryFixed("B2-checkout", NetworkRetryConfig{MaxRetries: 1, RetryDelayMS: 5}, func() error {
		return fmt.Errorf("connection reset")
	})
	require.Error(t, err)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, *slept)
}

func TestFallbackSelectorsInOrder(t *testing.T) {
	h, _ := newTestHandler(t)

	cfg := ElementConfig{
		WaitSeconds: 1,
		FallbackSelectors: map[string][]string{
			"#buy": {".buy-button", "button[type=submit]"},
		},
	}

	var tried []string
	selector, err := h.FallbackSelectors("task", "#buy", cfg, func(sel string, timeout time.Duration) error {
		tried = append(tried, sel)
		if sel == "button[type=submit]" {
			return nil
		}
		return fmt.Errorf("not found")
	})
	require.NoError(t, err)
	assert.Equal(t, "button[type=submit]", selector)
	assert.Equal(t, []string{"#buy", ".buy-button", "button[type=submit]"}, tried)
}

func TestFallbackSelectorsExhausted(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, nil).WithSleep(func(time.Duration) {})

	cfg := ElementConfig{FallbackSelectors: map[string][]string{"#buy": {".alt"}}}
	_, err := h.FallbackSelectors("task", "#buy", cfg, func(string, time.Duration) error {
		return fmt.Errorf("not found")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrElementNotFound))

	report := readReport(t, dir, "task")
	assert.Equal(t, "element_not_found", report.ErrorType)
	assert.Equal(t, "try_fallback_selector", report.RecoveryStrategy)
}

func TestRetryAssertionSingleRetry(t *testing.T) {
	h, slept := newTestHandler(t)

	calls := 0
	ok := h.RetryAssertion("task", `mem('x') == '1'`, AssertionConfig{WaitBeforeRetrySeconds: 2},
		func() (bool, error) {
			calls++
			return true, nil
		}, nil)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
}

func TestRetryAssertionCapturesState(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, nil).WithSleep(func(time.Duration) {})

	ok := h.RetryAssertion("task", `exists("#gone")`, AssertionConfig{},
		func() (bool, error) { return false, nil },
		func() map[string]interface{} { return map[string]interface{}{"orders.last.id": "O-1"} },
	)
	assert.False(t, ok)

	report := readReport(t, dir, "task")
	assert.Equal(t, "assertion_failed", report.ErrorType)
	assert.Equal(t, "retry_after_wait", report.RecoveryStrategy)
	assert.Equal(t, "captured", report.Context["screenshot"])
	assert.Equal(t, "captured", report.Context["dom"])

	mem, isMap := report.Context["memory"].(map[string]interface{})
	require.True(t, isMap)
	assert.Equal(t, "O-1", mem["orders.last.id"])
}

func TestRetryAssertionCaptureOptOut(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, nil).WithSleep(func(time.Duration) {})

	off := false
	ok := h.RetryAssertion("task", `exists("#gone")`,
		AssertionConfig{CaptureScreenshot: &off, CaptureDOM: &off, CaptureMemory: &off},
		func() (bool, error) { return false, nil },
		func() map[string]interface{} { return map[string]interface{}{} },
	)
	assert.False(t, ok)

	report := readReport(t, dir, "task")
	assert.NotContains(t, report.Context, "screenshot")
	assert.NotContains(t, report.Context, "dom")
	assert.NotContains(t, report.Context, "memory")
}

func TestHandlePreconditionFailurePolicies(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, nil).WithSleep(func(time.Duration) {})

	// Default policy aborts and writes a report.
	err := h.HandlePreconditionFailure("task", `mem('profile.ready') == 'true'`, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreconditionFailed))

	report := readReport(t, dir, "task")
	assert.Equal(t, "precondition_not_met", report.ErrorType)
	assert.Equal(t, "aborted", report.FinalState)

	// warn_and_continue lets the task proceed.
	assert.NoError(t, h.HandlePreconditionFailure("task", `mem('x') == '1'`, PolicyWarnAndContinue))
}
