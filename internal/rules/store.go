package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// RuleStore is the engine's read-mostly view of the rule table. The CRUD
// layer owns every column except last_triggered.
type RuleStore interface {
	FindActiveRules(ctx context.Context, userID, walletID string) ([]Rule, error)
	ListActiveUserWalletPairs(ctx context.Context) ([]UserWalletPair, error)
	UpdateLastTriggered(ctx context.Context, ruleID string, ts time.Time) error
}

// PostgresRuleStore reads rules from the rules table; condition trees and
// action lists are stored as JSONB
type PostgresRuleStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresRuleStore creates a rule store backed by a pgx pool
func NewPostgresRuleStore(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresRuleStore {
	return &PostgresRuleStore{
		pool:   pool,
		logger: logger.With().Str("component", "rule-store").Logger(),
	}
}

// FindActiveRules returns a pair's active rules in creation order, so a cycle
// always evaluates them in the same stable sequence
func (s *PostgresRuleStore) FindActiveRules(ctx context.Context, userID, walletID string) ([]Rule, error) {
	query := `
		SELECT id, user_id, wallet_id, name, conditions, actions,
		       active, execution_limit, last_triggered, created_at, updated_at
		FROM rules
		WHERE user_id = $1 AND wallet_id = $2 AND active = TRUE
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query, userID, walletID)
	if err != nil {
		return nil, fmt.Errorf("query active rules: %w", err)
	}
	defer rows.Close()

	var result []Rule
	for rows.Next() {
		var (
			rule          Rule
			conditionsRaw []byte
			actionsRaw    []byte
			limitRaw      []byte
		)
		if err := rows.Scan(
			&rule.ID, &rule.UserID, &rule.WalletID, &rule.Name,
			&conditionsRaw, &actionsRaw,
			&rule.Active, &limitRaw, &rule.LastTriggered,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}

		if err := json.Unmarshal(conditionsRaw, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions for rule %s: %w", rule.ID, err)
		}
		if err := json.Unmarshal(actionsRaw, &rule.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal actions for rule %s: %w", rule.ID, err)
		}
		if len(limitRaw) > 0 {
			var limit ExecutionLimit
			if err := json.Unmarshal(limitRaw, &limit); err != nil {
				return nil, fmt.Errorf("unmarshal execution limit for rule %s: %w", rule.ID, err)
			}
			rule.ExecutionLimit = &limit
		}

		result = append(result, rule)
	}

	return result, rows.Err()
}

// ListActiveUserWalletPairs returns every distinct pair with at least one
// active rule, as a single aggregation rather than per-user queries
func (s *PostgresRuleStore) ListActiveUserWalletPairs(ctx context.Context) ([]UserWalletPair, error) {
	query := `SELECT DISTINCT user_id, wallet_id FROM rules WHERE active = TRUE`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active pairs: %w", err)
	}
	defer rows.Close()

	var pairs []UserWalletPair
	for rows.Next() {
		var p UserWalletPair
		if err := rows.Scan(&p.UserID, &p.WalletID); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}

	return pairs, rows.Err()
}

// UpdateLastTriggered records the advisory last-fire timestamp on a rule.
// Throttling never reads this column; the ledger is authoritative.
func (s *PostgresRuleStore) UpdateLastTriggered(ctx context.Context, ruleID string, ts time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rules SET last_triggered = $1 WHERE id = $2`, ts, ruleID)
	if err != nil {
		return fmt.Errorf("update last_triggered: %w", err)
	}
	return nil
}
