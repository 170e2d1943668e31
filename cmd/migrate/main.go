package main

import (
	"context"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer pool.Close()

	log.Println("Connected to database, running migrations...")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			wallet_id TEXT NOT NULL,
			name TEXT NOT NULL,
			conditions JSONB NOT NULL DEFAULT '[]',
			actions JSONB NOT NULL DEFAULT '[]',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			execution_limit JSONB,
			last_triggered TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_active_pair
			ON rules (user_id, wallet_id) WHERE active`,

		`CREATE TABLE IF NOT EXISTS rule_executions (
			id UUID PRIMARY KEY,
			rule_id UUID NOT NULL,
			rule_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			wallet_id TEXT NOT NULL,
			time TIMESTAMPTZ NOT NULL,
			account_balance DOUBLE PRECISION NOT NULL,
			daily_pnl DOUBLE PRECISION NOT NULL,
			success BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rule_executions_rule_time
			ON rule_executions (rule_id, time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_rule_executions_time
			ON rule_executions (time)`,

		`CREATE TABLE IF NOT EXISTS account_snapshots (
			user_id TEXT NOT NULL,
			wallet_id TEXT NOT NULL,
			time TIMESTAMPTZ NOT NULL,
			balance DOUBLE PRECISION NOT NULL,
			daily_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			daily_trades INTEGER NOT NULL DEFAULT 0,
			weekly_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			weekly_trades INTEGER NOT NULL DEFAULT 0,
			current_drawdown DOUBLE PRECISION NOT NULL DEFAULT 0,
			win_streak INTEGER NOT NULL DEFAULT 0,
			loss_streak INTEGER NOT NULL DEFAULT 0,
			win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, wallet_id, time)
		)`,

		`CREATE TABLE IF NOT EXISTS open_positions (
			user_id TEXT NOT NULL,
			wallet_id TEXT NOT NULL,
			pair TEXT NOT NULL,
			position_value DOUBLE PRECISION NOT NULL,
			unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			open_time TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, wallet_id, pair)
		)`,

		`CREATE TABLE IF NOT EXISTS wallet_risk_params (
			user_id TEXT NOT NULL,
			wallet_id TEXT NOT NULL,
			parameter TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, wallet_id, parameter)
		)`,
	}

	for _, migration := range migrations {
		_, err := pool.Exec(ctx, migration)
		if err != nil {
			log.Printf("WARNING: Migration failed: %v", err)
		}
	}

	log.Println("All migrations completed")
}
