// Package recovery implements the reusable error-handling strategies
// the orchestrator wraps around external calls: timeout abort, fixed
// and exponential-backoff retries, fallback selectors, one-shot
// assertion retry and the precondition failure policy. Every strategy
// blocks its caller; there are no background timers.
package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/webtaskbench/internal/logger"
)

// ErrorReport is the structured diagnostic written when a strategy
// gives up. Reports land in <errorsDir>/<task_id>/error_report.json.
type ErrorReport struct {
	ReportID          string                 `json:"report_id"`
	TaskID            string                 `json:"task_id"`
	ErrorType         string                 `json:"error_type"`
	Timestamp         string                 `json:"timestamp"`
	StepIndex         int                    `json:"step_index"`
	ErrorMessage      string                 `json:"error_message"`
	Context           map[string]interface{} `json:"context,omitempty"`
	RecoveryAttempted bool                   `json:"recovery_attempted"`
	RecoveryStrategy  string                 `json:"recovery_strategy,omitempty"`
	RecoverySuccess   bool                   `json:"recovery_success"`
	FinalState        string                 `json:"final_state"`
	Metrics           map[string]interface{} `json:"metrics,omitempty"`
}

// newReport fills the fields every strategy shares.
func newReport(taskID, errorType, message string) *ErrorReport {
	return &ErrorReport{
		ReportID:     uuid.NewString(),
		TaskID:       taskID,
		ErrorType:    errorType,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		StepIndex:    -1,
		ErrorMessage: message,
		FinalState:   "failed",
	}
}

// Save writes the report as indented JSON under dir/<task_id>/.
func (r *ErrorReport) Save(dir string, log *logger.Logger) error {
	target := filepath.Join(dir, r.TaskID)
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("failed to create error report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode error report: %w", err)
	}

	path := filepath.Join(target, "error_report.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write error report: %w", err)
	}

	if log != nil {
		log.Info("error report saved to %s", path)
	}
	return nil
}
