package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore: the append-only history of
// position snapshots keyed by (address, observed_at).
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Insert records one snapshot. Re-inserting the same (address, observed_at)
// overwrites in place, so replays are safe.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.PositionSnapshot) error {
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("postgres: marshal positions for %s: %w", snap.Address, err)
	}

	const query = `
		INSERT INTO position_snapshots (
			address, observed_at, positions, account_value,
			total_ntl_pos, total_margin_used, source_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address, observed_at) DO UPDATE SET
			positions         = EXCLUDED.positions,
			account_value     = EXCLUDED.account_value,
			total_ntl_pos     = EXCLUDED.total_ntl_pos,
			total_margin_used = EXCLUDED.total_margin_used,
			source_time       = EXCLUDED.source_time`

	_, err = s.pool.Exec(ctx, query,
		snap.Address, snap.ObservedAt, positions,
		snap.Margin.AccountValue, snap.Margin.TotalNtlPos, snap.Margin.TotalMarginUsed,
		snap.SourceTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s: %w", snap.Address, err)
	}
	return nil
}

// ListByAddress returns the snapshot history for one address, newest first.
func (s *SnapshotStore) ListByAddress(ctx context.Context, address string, opts domain.ListOpts) ([]domain.PositionSnapshot, error) {
	query := `
		SELECT address, positions, account_value, total_ntl_pos,
			total_margin_used, source_time, observed_at
		FROM position_snapshots WHERE address = $1`
	args := []any{address}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND observed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND observed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY observed_at DESC"

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
		return nil, fmt.Errorf("postgres: list snapshots %s: %w", address, err)
	}
	defer rows.Close()

	var snaps []domain.PositionSnapshot
	for rows.Next() {
		snap, err := scanTraderState(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list snapshots %s: %w", address, err)
	}
	return snaps, nil
}
