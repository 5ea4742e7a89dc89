package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// TraderStateStore implements domain.TraderStateStore: one row per address
// holding the latest snapshot.
type TraderStateStore struct {
	pool *pgxpool.Pool
}

// NewTraderStateStore creates a TraderStateStore backed by the given pool.
func NewTraderStateStore(pool *pgxpool.Pool) *TraderStateStore {
	return &TraderStateStore{pool: pool}
}

// Upsert replaces the current state row for the snapshot's address.
func (s *TraderStateStore) Upsert(ctx context.Context, snap domain.PositionSnapshot) error {
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("postgres: marshal positions for %s: %w", snap.Address, err)
	}

	const query = `
		INSERT INTO trader_state (
			address, positions, account_value, total_ntl_pos,
			total_margin_used, source_time, observed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (address) DO UPDATE SET
			positions         = EXCLUDED.positions,
			account_value     = EXCLUDED.account_value,
			total_ntl_pos     = EXCLUDED.total_ntl_pos,
			total_margin_used = EXCLUDED.total_margin_used,
			source_time       = EXCLUDED.source_time,
			observed_at       = EXCLUDED.observed_at,
			updated_at        = NOW()`

	_, err = s.pool.Exec(ctx, query,
		snap.Address, positions,
		snap.Margin.AccountValue, snap.Margin.TotalNtlPos, snap.Margin.TotalMarginUsed,
		snap.SourceTime, snap.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert trader state %s: %w", snap.Address, err)
	}
	return nil
}

const traderStateCols = `address, positions, account_value, total_ntl_pos,
	total_margin_used, source_time, observed_at`

func scanTraderState(row pgx.Row) (domain.PositionSnapshot, error) {
	var snap domain.PositionSnapshot
	var positions []byte

	err := row.Scan(
		&snap.Address, &positions,
		&snap.Margin.AccountValue, &snap.Margin.TotalNtlPos, &snap.Margin.TotalMarginUsed,
		&snap.SourceTime, &snap.ObservedAt,
	)
	if err != nil {
		return domain.PositionSnapshot{}, err
	}
	if err := json.Unmarshal(positions, &snap.Positions); err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("unmarshal positions: %w", err)
	}
	return snap, nil
}

// Get returns the current state for one address.
func (s *TraderStateStore) Get(ctx context.Context, address string) (domain.PositionSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+traderStateCols+` FROM trader_state WHERE address = $1`, address)

	snap, err := scanTraderState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionSnapshot{}, domain.ErrNotFound
		}
		return domain.PositionSnapshot{}, fmt.Errorf("postgres: get trader state %s: %w", address, err)
	}
	return snap, nil
}

// List returns trader states ordered by account value, largest first.
func (s *TraderStateStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.PositionSnapshot, error) {
	query := `SELECT ` + traderStateCols + ` FROM trader_state ORDER BY account_value DESC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list trader state: %w", err)
	}
	defer rows.Close()

	var snaps []domain.PositionSnapshot
	for rows.Next() {
		snap, err := scanTraderState(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trader state: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trader state: %w", err)
	}
	return snaps, nil
}

// Count returns the number of tracked traders.
func (s *TraderStateStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trader_state`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trader state: %w", err)
	}
	return n, nil
}
