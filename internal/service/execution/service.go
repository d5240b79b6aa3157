// Package execution orchestrates approved script runs: it gates each run on
// the resource pool, hands the sandboxed worker a connection-aware runner
// with a deadline, releases the slot unconditionally, and notifies the
// workflow layer of the outcome.
package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"querygate/internal/domain"
	"querygate/internal/resourcepool"
	"querygate/internal/resultguard"
)

// QueryEngine is the slice of the execution facade the script service uses.
type QueryEngine interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionResult, error)
	ValidateQuery(protocol, text string) ([]domain.Warning, error)
}

// Runner is the connection-aware wrapper handed to the worker. Statements
// the script issues flow back through the engine, so pooling, validation,
// and truncation apply to script traffic too.
type Runner interface {
	Run(ctx context.Context, query string) (*domain.ExecutionResult, error)
}

// Worker executes user script code in a sandboxed process. Its internal
// execution model is a separate concern; the service only supplies the
// runner and a deadline and consumes the final value.
type Worker interface {
	Execute(ctx context.Context, runner Runner, script string) (any, error)
}

// ScriptRequest is one approved script submission.
type ScriptRequest struct {
	RequestID     string `json:"request_id"`
	Protocol      string `json:"protocol"`
	InstanceID    string `json:"instance_id"`
	Database      string `json:"database"`
	Script        string `json:"script"`
	MemoryUnitsMB int    `json:"memory_units_mb"` // workflow-layer hint; 0 means default
}

// ScriptResult carries the bounded output of a finished script.
type ScriptResult struct {
	RequestID  string              `json:"request_id"`
	Result     resultguard.Outcome `json:"result"`
	Warnings   []domain.Warning    `json:"warnings"`
	DurationMs int64               `json:"duration_ms"`
}

// Service runs scripts under the global resource gate.
type Service struct {
	facade   QueryEngine
	pool     *resourcepool.Manager
	guard    *resultguard.Guard
	worker   Worker
	notifier domain.Notifier
	deadline time.Duration
	logger   *slog.Logger
}

// NewService wires the script execution path. A nil notifier is replaced by
// a no-op.
func NewService(facade QueryEngine, pool *resourcepool.Manager, guard *resultguard.Guard, worker Worker, notifier domain.Notifier, deadline time.Duration, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		facade:   facade,
		pool:     pool,
		guard:    guard,
		worker:   worker,
		notifier: notifier,
		deadline: deadline,
		logger:   logger,
	}
}

// Run executes one approved script. The resource-pool slot is released on
// every path, including worker failures and deadline kills.
func (s *Service) Run(ctx context.Context, req ScriptRequest) (*ScriptResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	warnings, err := s.facade.ValidateQuery(req.Protocol, req.Script)
	if err != nil {
		return nil, err
	}

	slot, err := s.pool.Acquire(ctx, req.RequestID, req.MemoryUnitsMB)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(slot.RequestID)

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	s.logger.Info("script started",
		"request_id", req.RequestID, "instance", req.InstanceID, "memory_mb", slot.MemoryUnits)

	raw, runErr := s.worker.Execute(runCtx, &boundRunner{service: s, req: req}, req.Script)
	duration := time.Since(start).Milliseconds()

	event := domain.ExecutionEvent{
		RequestID:  req.RequestID,
		InstanceID: req.InstanceID,
		Database:   req.Database,
		Success:    runErr == nil,
		DurationMs: duration,
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	s.notifier.ExecutionFinished(context.WithoutCancel(ctx), event)

	if runErr != nil {
		s.logger.Warn("script failed", "request_id", req.RequestID, "error", runErr)
		return nil, runErr
	}

	outcome := s.guard.ValidateResult(raw)
	if outcome.Truncated {
		warnings = append(warnings, domain.Warning{
			Kind:        domain.WarningResultTruncated,
			Description: outcome.Warning,
			Severity:    domain.SeverityInfo,
		})
	}

	s.logger.Info("script finished", "request_id", req.RequestID, "duration_ms", duration)
	return &ScriptResult{
		RequestID:  req.RequestID,
		Result:     outcome,
		Warnings:   warnings,
		DurationMs: duration,
	}, nil
}

// boundRunner scopes engine execution to the script's target.
type boundRunner struct {
	service *Service
	req     ScriptRequest
}

// Run implements Runner.
func (r *boundRunner) Run(ctx context.Context, query string) (*domain.ExecutionResult, error) {
	return r.service.facade.Execute(ctx, domain.ExecutionRequest{
		Protocol:   r.req.Protocol,
		InstanceID: r.req.InstanceID,
		Database:   r.req.Database,
		Query:      query,
	})
}
