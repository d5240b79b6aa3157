package domain

import "context"

// Warning kinds surfaced alongside execution results.
const (
	WarningDangerousPattern = "dangerous_pattern"
	WarningResultTruncated  = "result_truncated"
)

// Warning severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityHigh    = "high"
)

// Warning is an advisory finding attached to a validation or execution
// result. Warnings never block execution; acting on them is the approval
// workflow's job.
type Warning struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ExecutionRequest carries one query or script submission through the
// engine. It is constructed per call and never persisted by the engine.
type ExecutionRequest struct {
	Protocol   string `json:"protocol"`
	InstanceID string `json:"instance_id"`
	Database   string `json:"database"`
	Query      string `json:"query"`
	ReadOnly   bool   `json:"read_only"`
}

// ColumnInfo describes one column of a relational result set.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ExecutionResult is the engine's output, discriminated by Protocol.
// Relational results populate Columns/Rows/RowCount/Command; document
// results populate Raw/DocumentCount. Truncated=true means the returned
// row or document count equals the configured cap.
type ExecutionResult struct {
	Protocol      Protocol     `json:"protocol"`
	Columns       []ColumnInfo `json:"columns,omitempty"`
	Rows          [][]any      `json:"rows,omitempty"`
	RowCount      int          `json:"row_count"`
	Command       string       `json:"command,omitempty"`
	Raw           any          `json:"raw,omitempty"`
	DocumentCount int          `json:"document_count,omitempty"`
	Truncated     bool         `json:"truncated"`
	Warnings      []Warning    `json:"warnings"`
	DurationMs    int64        `json:"duration_ms"`
}

// ConnectionTestResult reports the outcome of a connectivity probe.
// Reachability failures are reported here, not returned as errors.
type ConnectionTestResult struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// ExecutionEvent describes a finished script execution for the notification
// service.
type ExecutionEvent struct {
	RequestID  string `json:"request_id"`
	InstanceID string `json:"instance_id"`
	Database   string `json:"database"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Notifier receives success/failure events for finished script executions.
// The notification service is an external collaborator; NopNotifier is used
// when none is wired.
type Notifier interface {
	ExecutionFinished(ctx context.Context, ev ExecutionEvent)
}

// NopNotifier discards all events.
type NopNotifier struct{}

// ExecutionFinished implements Notifier.
func (NopNotifier) ExecutionFinished(context.Context, ExecutionEvent) {}
