package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// CandleStore implements domain.CandleStore keyed by
// (symbol, interval, open_time).
type CandleStore struct {
	pool *pgxpool.Pool
}

// NewCandleStore creates a CandleStore backed by the given pool.
func NewCandleStore(pool *pgxpool.Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Upsert writes one candle bucket; repeated folds of the same bucket
// overwrite in place.
func (s *CandleStore) Upsert(ctx context.Context, c domain.Candle) error {
	const query = `
		INSERT INTO candles (symbol, interval, open_time, open, high, low, close, samples)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
			open    = EXCLUDED.open,
			high    = EXCLUDED.high,
			low     = EXCLUDED.low,
			close   = EXCLUDED.close,
			samples = EXCLUDED.samples`

	_, err := s.pool.Exec(ctx, query,
		c.Symbol, c.Interval, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Samples)
	if err != nil {
		return fmt.Errorf("postgres: upsert candle %s/%s: %w", c.Symbol, c.Interval, err)
	}
	return nil
}

// List returns candles for a symbol and interval, newest first.
func (s *CandleStore) List(ctx context.Context, symbol, interval string, opts domain.ListOpts) ([]domain.Candle, error) {
	query := `
		SELECT symbol, interval, open_time, open, high, low, close, samples
		FROM candles WHERE symbol = $1 AND interval = $2`
	args := []any{symbol, interval}
	argIdx := 3

	if opts.Since != nil {
		query += fmt.Sprintf(" AND open_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND open_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY open_time DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list candles %s/%s: %w", symbol, interval, err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Symbol, &c.Interval, &c.OpenTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Samples); err != nil {
			return nil, fmt.Errorf("postgres: scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list candles %s/%s: %w", symbol, interval, err)
	}
	return candles, nil
}
