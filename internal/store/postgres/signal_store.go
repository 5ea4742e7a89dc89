package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// SignalStore implements domain.SignalStore keyed by (symbol, ts).
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a SignalStore backed by the given pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalCols = `symbol, ts, long_bias, short_bias, net_exposure,
	traders_long, traders_short, traders_flat, recommendation, confidence,
	price, regime`

func scanSignal(row pgx.Row) (domain.Signal, error) {
	var sig domain.Signal
	var rec string

	err := row.Scan(
		&sig.Symbol, &sig.Timestamp,
		&sig.LongBias, &sig.ShortBias, &sig.NetExposure,
		&sig.TradersLong, &sig.TradersShort, &sig.TradersFlat,
		&rec, &sig.Confidence, &sig.Price, &sig.Regime,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	sig.Recommendation = domain.Recommendation(rec)
	return sig, nil
}

// Upsert writes one signal.
func (s *SignalStore) Upsert(ctx context.Context, sig domain.Signal) error {
	const query = `
		INSERT INTO signals (
			symbol, ts, long_bias, short_bias, net_exposure,
			traders_long, traders_short, traders_flat, recommendation,
			confidence, price, regime
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			long_bias      = EXCLUDED.long_bias,
			short_bias     = EXCLUDED.short_bias,
			net_exposure   = EXCLUDED.net_exposure,
			traders_long   = EXCLUDED.traders_long,
			traders_short  = EXCLUDED.traders_short,
			traders_flat   = EXCLUDED.traders_flat,
			recommendation = EXCLUDED.recommendation,
			confidence     = EXCLUDED.confidence,
			price          = EXCLUDED.price,
			regime         = EXCLUDED.regime`

	_, err := s.pool.Exec(ctx, query,
		sig.Symbol, sig.Timestamp,
		sig.LongBias, sig.ShortBias, sig.NetExposure,
		sig.TradersLong, sig.TradersShort, sig.TradersFlat,
		string(sig.Recommendation), sig.Confidence, sig.Price, sig.Regime,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert signal %s: %w", sig.Symbol, err)
	}
	return nil
}

// Latest returns the most recent signal for a symbol.
func (s *SignalStore) Latest(ctx context.Context, symbol string) (domain.Signal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+signalCols+` FROM signals WHERE symbol = $1 ORDER BY ts DESC LIMIT 1`,
		symbol)

	sig, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("postgres: latest signal %s: %w", symbol, err)
	}
	return sig, nil
}

// List returns signals for a symbol, newest first.
func (s *SignalStore) List(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Signal, error) {
	query := `SELECT ` + signalCols + ` FROM signals WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY ts DESC"

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
		return nil, fmt.Errorf("postgres: list signals %s: %w", symbol, err)
	}
	defer rows.Close()

	var sigs []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list signals %s: %w", symbol, err)
	}
	return sigs, nil
}
