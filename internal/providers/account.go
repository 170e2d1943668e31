package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bl8ckfz/risk-rule-engine/internal/rules"
)

// AccountProvider reads the latest account snapshot written by the external
// portfolio service. The engine never writes these tables.
type AccountProvider struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewAccountProvider creates a postgres-backed account data provider
func NewAccountProvider(pool *pgxpool.Pool, logger zerolog.Logger) *AccountProvider {
	return &AccountProvider{
		pool:   pool,
		logger: logger.With().Str("component", "account-provider").Logger(),
	}
}

// GetAccountData loads the most recent snapshot plus open positions for a
// wallet. A wallet with no snapshot yet is an error: evaluating rules against
// nothing would silently make every condition false.
func (p *AccountProvider) GetAccountData(ctx context.Context, userID, walletID string) (rules.AccountData, error) {
	query := `
		SELECT balance,
		       daily_pnl, daily_trades,
		       weekly_pnl, weekly_trades,
		       current_drawdown,
		       win_streak, loss_streak, win_rate
		FROM account_snapshots
		WHERE user_id = $1 AND wallet_id = $2
		ORDER BY time DESC
		LIMIT 1
	`

	var (
		data     rules.AccountData
		daily    rules.PerformanceWindow
		weekly   rules.PerformanceWindow
		drawdown float64
		stats    rules.TradingStats
	)

	err := p.pool.QueryRow(ctx, query, userID, walletID).Scan(
		&data.Balance,
		&daily.ProfitLoss, &daily.Trades,
		&weekly.ProfitLoss, &weekly.Trades,
		&drawdown,
		&stats.CurrentWinStreak, &stats.CurrentLossStreak, &stats.OverallWinRate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rules.AccountData{}, fmt.Errorf("no account snapshot for wallet %s", walletID)
		}
		return rules.AccountData{}, fmt.Errorf("query account snapshot: %w", err)
	}

	data.DailyPerformance = &daily
	data.WeeklyPerformance = &weekly
	data.CurrentDrawdown = &drawdown
	data.TradingStats = &stats

	positions, err := p.loadPositions(ctx, userID, walletID)
	if err != nil {
		return rules.AccountData{}, err
	}
	data.Positions = positions

	return data, nil
}

func (p *AccountProvider) loadPositions(ctx context.Context, userID, walletID string) ([]rules.Position, error) {
	query := `
		SELECT pair, position_value, unrealized_pnl, open_time
		FROM open_positions
		WHERE user_id = $1 AND wallet_id = $2
		ORDER BY open_time
	`

	rows, err := p.pool.Query(ctx, query, userID, walletID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []rules.Position
	for rows.Next() {
		var pos rules.Position
		if err := rows.Scan(&pos.Pair, &pos.PositionValue, &pos.UnrealizedPnL, &pos.OpenTime); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, pos)
	}

	return positions, rows.Err()
}
