package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ExecutionLedger is the append-only history of rule firings. It backs both
// the audit trail and the execution-rate throttle, so every trigger is
// recorded exactly once regardless of action outcome.
type ExecutionLedger interface {
	Record(ctx context.Context, execution RuleExecution) error
	CountSince(ctx context.Context, ruleID string, since time.Time) (uint, error)
	Prune(ctx context.Context, olderThan time.Time) (uint, error)
	GetHistory(ctx context.Context, ruleID string, limit int) ([]RuleExecution, error)
}

// maxHistoryLimit caps how many executions a single history query returns
const maxHistoryLimit = 100

// PostgresLedger stores executions in the rule_executions table
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresLedger creates a ledger backed by a pgx pool
func NewPostgresLedger(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresLedger {
	return &PostgresLedger{
		pool:   pool,
		logger: logger.With().Str("component", "execution-ledger").Logger(),
	}
}

// Record appends one execution. Rows are never updated afterwards.
func (l *PostgresLedger) Record(ctx context.Context, execution RuleExecution) error {
	query := `
		INSERT INTO rule_executions (
			id, rule_id, rule_name, user_id, wallet_id,
			time, account_balance, daily_pnl, success
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := l.pool.Exec(ctx, query,
		execution.ID,
		execution.RuleID,
		execution.RuleName,
		execution.UserID,
		execution.WalletID,
		execution.Timestamp,
		execution.Snapshot.AccountBalance,
		execution.Snapshot.DailyPnL,
		execution.Success,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	return nil
}

// CountSince counts executions for a rule at or after the window start
func (l *PostgresLedger) CountSince(ctx context.Context, ruleID string, since time.Time) (uint, error) {
	query := `SELECT COUNT(*) FROM rule_executions WHERE rule_id = $1 AND time >= $2`

	var count uint
	if err := l.pool.QueryRow(ctx, query, ruleID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}

	return count, nil
}

// Prune deletes executions strictly older than the threshold and reports how
// many rows were removed
func (l *PostgresLedger) Prune(ctx context.Context, olderThan time.Time) (uint, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM rule_executions WHERE time < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}

	deleted := uint(tag.RowsAffected())
	l.logger.Info().
		Uint("deleted", deleted).
		Time("older_than", olderThan).
		Msg("pruned execution history")

	return deleted, nil
}

// GetHistory returns a rule's executions newest-first
func (l *PostgresLedger) GetHistory(ctx context.Context, ruleID string, limit int) ([]RuleExecution, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `
		SELECT id, rule_id, rule_name, user_id, wallet_id,
		       time, account_balance, daily_pnl, success
		FROM rule_executions
		WHERE rule_id = $1
		ORDER BY time DESC
		LIMIT $2
	`

	rows, err := l.pool.Query(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	executions := make([]RuleExecution, 0, limit)
	for rows.Next() {
		var e RuleExecution
		if err := rows.Scan(
			&e.ID, &e.RuleID, &e.RuleName, &e.UserID, &e.WalletID,
			&e.Timestamp, &e.Snapshot.AccountBalance, &e.Snapshot.DailyPnL, &e.Success,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}

	return executions, rows.Err()
}
