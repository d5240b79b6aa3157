package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"querygate/internal/config"
	"querygate/internal/domain"
	"querygate/internal/registry"
)

// RelationalDriver executes validated SQL against a relational target inside
// a bounded transaction. Every execution follows the same lifecycle: borrow a
// pooled connection, set a statement timeout, open a transaction, run the
// text, commit on success. On any failure the transaction is rolled back and
// the connection is released regardless of outcome.
type RelationalDriver struct {
	cfg       config.EngineConfig
	registry  *registry.Registry
	instances domain.InstanceResolver
	logger    *slog.Logger
}

// NewRelationalDriver creates a RelationalDriver using the shared registry.
func NewRelationalDriver(cfg config.EngineConfig, reg *registry.Registry, instances domain.InstanceResolver, logger *slog.Logger) *RelationalDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationalDriver{cfg: cfg, registry: reg, instances: instances, logger: logger}
}

// Validate checks query text without touching a connection. Length and
// emptiness violations return a ValidationError; dangerous-pattern matches
// are returned as advisory warnings and never block execution.
func (d *RelationalDriver) Validate(text string) ([]domain.Warning, error) {
	if err := checkQueryText(text, d.cfg.MaxQueryLength); err != nil {
		return nil, err
	}
	if !d.cfg.DangerousChecks {
		return nil, nil
	}
	return relationalWarnings(text), nil
}

// Execute runs the request's SQL. The result is truncated at the configured
// max-row cap with Truncated=true when the cap was hit.
func (d *RelationalDriver) Execute(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	warnings, err := d.Validate(req.Query)
	if err != nil {
		return nil, err
	}

	inst, err := d.instances.ResolveInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Protocol != domain.ProtocolRelational {
		return nil, domain.ErrValidation("instance %q is a %s target, not relational", inst.ID, inst.Protocol)
	}
	if !inst.HasDatabase(req.Database) {
		return nil, domain.ErrValidation("database %q is not reachable on instance %q", req.Database, inst.ID)
	}

	pool, err := d.registry.RelationalPool(ctx, inst, req.Database)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, domain.ErrConnection("acquire connection for %q: %v", registry.RelationalKey(inst.ID, req.Database), err)
	}
	defer conn.Release()

	readOnly := req.ReadOnly || d.cfg.DefaultReadOnly
	txOpts := pgx.TxOptions{}
	if readOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}

	tx, err := conn.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, relationalExecError("begin transaction", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// Best-effort rollback: failures are logged, never re-thrown.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			d.logger.Warn("rollback failed", "instance", inst.ID, "database", req.Database, "error", rbErr)
		}
	}()

	timeoutMs := d.cfg.StatementTimeout.Milliseconds()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutMs)); err != nil {
		return nil, relationalExecError("set statement timeout", err)
	}

	rows, err := tx.Query(ctx, req.Query)
	if err != nil {
		return nil, relationalExecError("execute query", err)
	}

	result, err := scanRelationalRows(rows, d.cfg.MaxRows)
	if err != nil {
		return nil, relationalExecError("read results", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, relationalExecError("commit", err)
	}
	committed = true

	if result.Command == "" {
		result.Command = leadingKeyword(req.Query)
	}
	result.Protocol = domain.ProtocolRelational
	result.Warnings = warnings
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// TestConnection runs a trivial round-trip query and reports latency.
// Reachability failures are reported in the result, not returned as errors.
func (d *RelationalDriver) TestConnection(ctx context.Context, inst *domain.TargetInstance, database string) *domain.ConnectionTestResult {
	start := time.Now()

	pool, err := d.registry.RelationalPool(ctx, inst, database)
	if err != nil {
		return &domain.ConnectionTestResult{OK: false, Error: err.Error()}
	}

	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return &domain.ConnectionTestResult{
			OK:        false,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}
	return &domain.ConnectionTestResult{OK: true, LatencyMs: time.Since(start).Milliseconds()}
}

// scanRelationalRows drains up to maxRows rows. When more rows remain the
// result is marked truncated and the remainder is discarded.
func scanRelationalRows(rows pgx.Rows, maxRows int) (*domain.ExecutionResult, error) {
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]domain.ColumnInfo, len(fds))
	for i, fd := range fds {
		cols[i] = domain.ColumnInfo{Name: fd.Name}
	}

	result := &domain.ExecutionResult{Columns: cols}
	for rows.Next() {
		if result.RowCount >= maxRows {
			result.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if !result.Truncated {
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	rows.Close()

	if tag := rows.CommandTag(); tag.String() != "" {
		result.Command = strings.Fields(tag.String())[0]
	}
	return result, nil
}

// relationalExecError converts a driver error into the engine taxonomy,
// carrying the database's native code and position when available.
func relationalExecError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &domain.QueryExecutionError{
			Message:  fmt.Sprintf("%s: %s", op, pgErr.Message),
			Code:     pgErr.Code,
			Position: int(pgErr.Position),
			Detail:   pgErr.Detail,
		}
	}
	return domain.ErrQueryExecution("%s: %v", op, err)
}

// leadingKeyword returns the first SQL keyword of the text, uppercased.
func leadingKeyword(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
