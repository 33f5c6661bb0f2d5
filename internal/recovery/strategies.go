package recovery

import (
	"errors"
	"fmt"
	"time"

	"github.com/codefionn/webtaskbench/internal/logger"
)

var (
	// ErrTimeout marks a task aborted by the timeout strategy.
	ErrTimeout = errors.New("task timed out")
	// ErrElementNotFound marks a selector miss after all fallbacks.
	ErrElementNotFound = errors.New("element not found")
	// ErrAssertionFailed marks a criterion that failed its single retry.
	ErrAssertionFailed = errors.New("assertion failed")
	// ErrPreconditionFailed marks an aborted precondition policy.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// NetworkRetryConfig tunes the fixed and backoff retry strategies.
type NetworkRetryConfig struct {
	MaxRetries        int     `json:"max_retries,omitempty"`
	RetryDelayMS      int     `json:"retry_delay_ms,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
}

// ElementConfig tunes selector fallback handling.
type ElementConfig struct {
	WaitSeconds       int                 `json:"wait_seconds,omitempty"`
	FallbackSelectors map[string][]string `json:"fallback_selectors,omitempty"`
}

// AssertionConfig tunes the one-shot assertion retry and which state
// snapshots the failure report captures.
type AssertionConfig struct {
	WaitBeforeRetrySeconds int   `json:"wait_before_retry_seconds,omitempty"`
	CaptureScreenshot      *bool `json:"capture_screenshot,omitempty"`
	CaptureDOM             *bool `json:"capture_dom,omitempty"`
	CaptureMemory          *bool `json:"capture_memory,omitempty"`
}

// Config is the per-task error_recovery block of a task specification.
type Config struct {
	OnNetworkError     NetworkRetryConfig `json:"on_network_error,omitempty"`
	OnElementNotFound  ElementConfig      `json:"on_element_not_found,omitempty"`
	OnAssertionFail    AssertionConfig    `json:"on_assertion_fail,omitempty"`
	OnPreconditionFail string             `json:"on_precondition_fail,omitempty"`
}

const (
	defaultMaxRetries           = 3
	defaultRetryDelayMS         = 1000
	defaultBackoffMultiplier    = 2.0
	defaultElementWaitSeconds   = 10
	fallbackAttemptSeconds      = 5
	defaultAssertionWaitSeconds = 5

	// PolicyAbortWithWarning is the default precondition policy.
	PolicyAbortWithWarning = "abort_with_warning"
	// PolicyWarnAndContinue logs the failure but lets the task run.
	PolicyWarnAndContinue = "warn_and_continue"
)

// Defaults are the harness-wide fallbacks applied when a task's
// error_recovery block leaves a knob unset.
type Defaults struct {
	MaxRetries        int
	RetryDelayMS      int
	BackoffMultiplier float64
	ElementWaitSecs   int
	AssertionWaitSecs int
}

// withFallbacks fills unset knobs with the built-in values.
func (d Defaults) withFallbacks() Defaults {
	if d.MaxRetries <= 0 {
		d.MaxRetries = defaultMaxRetries
	}
	if d.RetryDelayMS <= 0 {
		d.RetryDelayMS = defaultRetryDelayMS
	}
	if d.BackoffMultiplier <= 0 {
		d.BackoffMultiplier = defaultBackoffMultiplier
	}
	if d.ElementWaitSecs <= 0 {
		d.ElementWaitSecs = defaultElementWaitSeconds
	}
	if d.AssertionWaitSecs <= 0 {
		d.AssertionWaitSecs = defaultAssertionWaitSeconds
	}
	return d
}

// Handler executes recovery strategies. Sleeping is injectable so the
// retry loops test deterministically.
type Handler struct {
	errorsDir string
	defaults  Defaults
	sleep     func(time.Duration)
	log       *logger.Logger
}

// NewHandler creates a Handler writing reports under errorsDir.
func NewHandler(errorsDir string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		errorsDir: errorsDir,
		defaults:  Defaults{}.withFallbacks(),
		sleep:     time.Sleep,
		log:       log.WithPrefix("recovery"),
	}
}

// WithDefaults replaces the harness-wide recovery fallbacks.
func (h *Handler) WithDefaults(d Defaults) *Handler {
	h.defaults = d.withFallbacks()
	return h
}

// WithSleep replaces the sleep function.
func (h *Handler) WithSleep(fn func(time.Duration)) *Handler {
	h.sleep = fn
	return h
}

// HandleTimeout captures diagnostic state, writes a report and aborts.
// Timeouts are never retried.
func (h *Handler) HandleTimeout(taskID string, stepIndex int, captureState func() map[string]interface{}, cleanup func()) error {
	h.log.Error("task %s timed out at step %d", taskID, stepIndex)

	report := newReport(taskID, "timeout_task", fmt.Sprintf("Task timeout at step %d", stepIndex))
	report.StepIndex = stepIndex
	if captureState != nil {
		report.Context = captureState()
	}
	if err := report.Save(h.errorsDir, h.log); err != nil {
		h.log.Warn("could not save timeout report: %v", err)
	}

	if cleanup != nil {
		cleanup()
	}
	return fmt.Errorf("%w: task %s at step %d", ErrTimeout, taskID, stepIndex)
}

// RetryFixed retries op up to MaxRetries times with a constant delay
// and returns the last error once attempts are exhausted.
func (h *Handler) RetryFixed(taskID string, cfg NetworkRetryConfig, op func() error) error {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = h.defaults.MaxRetries
	}
	delay := time.Duration(cfg.RetryDelayMS) * time.Millisecond
	if delay <= 0 {
		delay = time.Duration(h.defaults.RetryDelayMS) * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		h.sleep(delay)
		h.log.Info("retry attempt %d/%d for %s", attempt, maxRetries, taskID)

		if lastErr = op(); lastErr == nil {
			h.log.Info("retry successful on attempt %d", attempt)
			return nil
		}
		h.log.Warn("retry %d failed: %v", attempt, lastErr)
	}

	h.log.Error("all %d retries failed for %s", maxRetries, taskID)
	return lastErr
}

// RetryBackoff retries op with an exponentially growing delay. On final
// failure it writes a structured report carrying the retry count.
func (h *Handler) RetryBackoff(taskID string, cfg NetworkRetryConfig, op func() error) error {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = h.defaults.MaxRetries
	}
	delay := time.Duration(cfg.RetryDelayMS) * time.Millisecond
	if delay <= 0 {
		delay = time.Duration(h.defaults.RetryDelayMS) * time.Millisecond
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = h.defaults.BackoffMultiplier
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		h.sleep(delay)
		h.log.Info("retry attempt %d/%d for %s (delay %s)", attempt, maxRetries, taskID, delay)

		if lastErr = op(); lastErr == nil {
			h.log.Info("retry successful on attempt %d", attempt)
			return nil
		}
		h.log.Warn("retry %d failed: %v", attempt, lastErr)

		delay = time.Duration(float64(delay) * multiplier)
	}

	report := newReport(taskID, "network_timeout", lastErr.Error())
	report.RecoveryAttempted = true
	report.RecoveryStrategy = "exponential_backoff"
	report.Metrics = map[string]interface{}{"retries": maxRetries}
	if err := report.Save(h.errorsDir, h.log); err != nil {
		h.log.Warn("could not save backoff report: %v", err)
	}

	return lastErr
}

// FallbackSelectors waits for the primary selector, then each fallback
// in order with a shorter per-attempt timeout. It returns the selector
// that matched, or ErrElementNotFound once everything is exhausted.
func (h *Handler) FallbackSelectors(taskID, primary string, cfg ElementConfig, wait func(selector string, timeout time.Duration) error) (string, error) {
	waitSeconds := cfg.WaitSeconds
	if waitSeconds <= 0 {
		waitSeconds = h.defaults.ElementWaitSecs
	}

	h.log.Info("waiting for element: %s", primary)
	if err := wait(primary, time.Duration(waitSeconds)*time.Second); err == nil {
		return primary, nil
	}
	h.log.Warn("primary selector failed: %s", primary)

	fallbacks := cfg.FallbackSelectors[primary]
	for i, fallback := range fallbacks {
		h.log.Info("trying fallback selector %d/%d: %s", i+1, len(fallbacks), fallback)
		if err := wait(fallback, fallbackAttemptSeconds*time.Second); err == nil {
			h.log.Info("fallback selector succeeded: %s", fallback)
			return fallback, nil
		}
		h.log.Warn("fallback %d failed: %s", i+1, fallback)
	}

	report := newReport(taskID, "element_not_found", fmt.Sprintf("Element not found: %s", primary))
	report.Context = map[string]interface{}{
		"selector":           primary,
		"fallback_selectors": fallbacks,
	}
	report.RecoveryAttempted = true
	report.RecoveryStrategy = "try_fallback_selector"
	if err := report.Save(h.errorsDir, h.log); err != nil {
		h.log.Warn("could not save element report: %v", err)
	}

	return "", fmt.Errorf("%w after all attempts: %s", ErrElementNotFound, primary)
}

// RetryAssertion waits once and re-evaluates a failed criterion. It
// never retries more than once; a second failure captures the
// configured state snapshots into a report and returns false.
func (h *Handler) RetryAssertion(taskID, assertion string, cfg AssertionConfig, evaluate func() (bool, error), captureMemory func() map[string]interface{}) bool {
	waitSeconds := cfg.WaitBeforeRetrySeconds
	if waitSeconds <= 0 {
		waitSeconds = h.defaults.AssertionWaitSecs
	}

	h.log.Warn("assertion failed: %s", assertion)
	h.log.Info("waiting %ds before retry", waitSeconds)
	h.sleep(time.Duration(waitSeconds) * time.Second)

	ok, err := evaluate()
	if err == nil && ok {
		h.log.Info("assertion succeeded on retry")
		return true
	}
	h.log.Error("assertion still failing after retry: %s", assertion)

	context := map[string]interface{}{"assertion": assertion}
	if err != nil {
		context["evaluation_error"] = err.Error()
	}
	if boolOr(cfg.CaptureScreenshot, true) {
		context["screenshot"] = "captured"
	}
	if boolOr(cfg.CaptureDOM, true) {
		context["dom"] = "captured"
	}
	if boolOr(cfg.CaptureMemory, true) && captureMemory != nil {
		context["memory"] = captureMemory()
	}

	report := newReport(taskID, "assertion_failed", fmt.Sprintf("Assertion failed: %s", assertion))
	report.Context = context
	report.RecoveryAttempted = true
	report.RecoveryStrategy = "retry_after_wait"
	if err := report.Save(h.errorsDir, h.log); err != nil {
		h.log.Warn("could not save assertion report: %v", err)
	}

	return false
}

// HandlePreconditionFailure applies the configured policy to a failed
// precondition. The failing expression is always logged; the default
// policy aborts with a warning.
func (h *Handler) HandlePreconditionFailure(taskID, expr, policy string) error {
	if policy == "" {
		policy = PolicyAbortWithWarning
	}
	h.log.Error("precondition not met for %s: %s", taskID, expr)

	if policy == PolicyWarnAndContinue {
		return nil
	}

	report := newReport(taskID, "precondition_not_met", fmt.Sprintf("Precondition not met: %s", expr))
	report.Context = map[string]interface{}{"precondition": expr}
	report.FinalState = "aborted"
	if err := report.Save(h.errorsDir, h.log); err != nil {
		h.log.Warn("could not save precondition report: %v", err)
	}

	return fmt.Errorf("%w: %s", ErrPreconditionFailed, expr)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
