package capabilities

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RiskParams adjusts per-wallet risk parameters in the wallet_risk_params
// table. It backs both the adjustPositionSize and adjustRiskPercentage
// actions; the trading service reads these values on its next order.
type RiskParams struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewRiskParams creates a postgres-backed risk parameter store
func NewRiskParams(pool *pgxpool.Pool, logger zerolog.Logger) *RiskParams {
	return &RiskParams{
		pool:   pool,
		logger: logger.With().Str("component", "risk-params").Logger(),
	}
}

// AdjustPositionSize sets the wallet's position sizing factor
func (r *RiskParams) AdjustPositionSize(ctx context.Context, userID, walletID string, value float64) error {
	return r.upsert(ctx, userID, walletID, "position_size_factor", value)
}

// SetRiskParam sets a named risk parameter for the wallet
func (r *RiskParams) SetRiskParam(ctx context.Context, userID, walletID, parameter string, value float64) error {
	return r.upsert(ctx, userID, walletID, parameter, value)
}

func (r *RiskParams) upsert(ctx context.Context, userID, walletID, parameter string, value float64) error {
	query := `
		INSERT INTO wallet_risk_params (user_id, wallet_id, parameter, value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, wallet_id, parameter) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.pool.Exec(ctx, query, userID, walletID, parameter, value); err != nil {
		return fmt.Errorf("upsert risk param %s: %w", parameter, err)
	}

	r.logger.Info().
		Str("user_id", userID).
		Str("wallet_id", walletID).
		Str("parameter", parameter).
		Float64("value", value).
		Msg("risk parameter updated")

	return nil
}

// PauseFlag suspends trading for a wallet via a redis key with TTL. Redis is
// the shared store here so every engine and trading instance sees the same
// pause state, and expiry resumes trading without a cleanup job.
type PauseFlag struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewPauseFlag creates a redis-backed trading pause flag
func NewPauseFlag(client *redis.Client, logger zerolog.Logger) *PauseFlag {
	return &PauseFlag{
		client: client,
		logger: logger.With().Str("component", "pause-flag").Logger(),
	}
}

// PauseTrading marks a wallet paused for the given duration
func (p *PauseFlag) PauseTrading(ctx context.Context, userID, walletID string, duration time.Duration) error {
	key := pauseKey(userID, walletID)
	if err := p.client.Set(ctx, key, "1", duration).Err(); err != nil {
		return fmt.Errorf("set pause flag: %w", err)
	}

	p.logger.Info().
		Str("user_id", userID).
		Str("wallet_id", walletID).
		Dur("duration", duration).
		Msg("trading paused")

	return nil
}

// IsPaused reports whether a wallet is currently paused
func (p *PauseFlag) IsPaused(ctx context.Context, userID, walletID string) (bool, error) {
	exists, err := p.client.Exists(ctx, pauseKey(userID, walletID)).Result()
	if err != nil {
		return false, fmt.Errorf("check pause flag: %w", err)
	}
	return exists > 0, nil
}

func pauseKey(userID, walletID string) string {
	return fmt.Sprintf("pause:%s:%s", userID, walletID)
}
