// Package record persists gap events, pipeline decisions and trade outcomes
// to Postgres for later analysis. Persistence is best-effort from the
// pipeline's point of view; callers log and continue on failure.
package record

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"gap-trading-bot/internal/exec"
	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/ops"
)

// Store writes pipeline records to Postgres
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New connects to Postgres and verifies the connection
func New(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().Msg("record store connected")
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS gap_events (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		direction TEXT NOT NULL,
		price_low DOUBLE PRECISION NOT NULL,
		price_high DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		formation_time TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		fill_time TIMESTAMPTZ,
		fill_price DOUBLE PRECISION,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gap_events_symbol_status ON gap_events(symbol, status)`,
	`CREATE TABLE IF NOT EXISTS pipeline_results (
		id BIGSERIAL PRIMARY KEY,
		gap_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		approved BOOLEAN NOT NULL,
		stage TEXT NOT NULL,
		reason TEXT,
		assessment JSONB,
		prediction JSONB,
		sizing JSONB,
		prepared_order JSONB,
		processed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_results_gap ON pipeline_results(gap_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_results_processed ON pipeline_results(processed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS trade_outcomes (
		id BIGSERIAL PRIMARY KEY,
		order_id TEXT NOT NULL,
		gap_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		lot DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		pnl DOUBLE PRECISION NOT NULL,
		outcome TEXT NOT NULL,
		closed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_closed ON trade_outcomes(closed_at DESC)`,
}

// Migrate applies the schema
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	s.logger.Info().Int("migrations", len(migrations)).Msg("schema up to date")
	return nil
}

// SaveGapEvent upserts a gap lifecycle event by ID
func (s *Store) SaveGapEvent(ctx context.Context, event gap.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gap_events
			(id, symbol, timeframe, direction, price_low, price_high, size, formation_time, status, fill_time, fill_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			fill_time = EXCLUDED.fill_time,
			fill_price = EXCLUDED.fill_price,
			updated_at = NOW()`,
		event.ID, event.Symbol, string(event.Timeframe), string(event.Direction),
		event.PriceLow, event.PriceHigh, event.Size, event.FormationTime,
		string(event.Status), event.FillTime, event.FillPrice)
	if err != nil {
		return fmt.Errorf("failed to save gap event %s: %w", event.ID, err)
	}
	return nil
}

// SavePipelineResult appends one decision record
func (s *Store) SavePipelineResult(ctx context.Context, result ops.PipelineResult) error {
	assessment, _ := json.Marshal(result.Assessment)
	prediction, _ := json.Marshal(result.Prediction)
	sizing, _ := json.Marshal(result.Sizing)
	order, _ := json.Marshal(result.Order)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_results
			(gap_id, symbol, approved, stage, reason, assessment, prediction, sizing, prepared_order, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		result.GapID, result.Symbol, result.Approved, result.Stage, result.Reason,
		assessment, prediction, sizing, order, result.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to save pipeline result for gap %s: %w", result.GapID, err)
	}
	return nil
}

// SaveTradeOutcome appends one realized trade
func (s *Store) SaveTradeOutcome(ctx context.Context, trade exec.ClosedTrade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_outcomes
			(order_id, gap_id, symbol, side, lot, exit_price, pnl, outcome, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		trade.Order.ID, trade.Order.GapID, trade.Order.Symbol, trade.Order.Side,
		trade.Order.Lot, trade.ExitPrice, trade.PnL, trade.Outcome, trade.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to save trade outcome for order %s: %w", trade.Order.ID, err)
	}
	return nil
}

// RejectionCounts aggregates rejections by stage since the given time
func (s *Store) RejectionCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stage, COUNT(*)
		FROM pipeline_results
		WHERE NOT approved AND processed_at >= $1
		GROUP BY stage`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejection counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var stage string
		var n int64
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("failed to scan rejection count: %w", err)
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}
