// Package leaderboard periodically pulls the exchange leaderboard and turns
// it into trader scores for the signal weighting.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmok/hypertracker/internal/domain"
	"github.com/kevinmok/hypertracker/internal/platform/hyperliquid"
)

// EventSink is where score updates are published; in production the bus.
type EventSink interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Options configures the refresher.
type Options struct {
	// Interval is the poll cadence.
	Interval time.Duration

	// TopN bounds how many leaderboard rows are scored.
	TopN int

	// Thresholds sets the account-value floors used for tiering rows.
	Thresholds domain.TierThresholds
}

// DefaultOptions returns the production refresher settings.
func DefaultOptions() Options {
	return Options{
		Interval:   time.Hour,
		TopN:       500,
		Thresholds: domain.DefaultTierThresholds(),
	}
}

// Refresher polls the leaderboard and emits scored_traders and
// leaderboard_snapshot events. Scores are percentile ranks within the scored
// set, scaled to [0, 100]: the top account scores 100, the bottom one
// approaches 0.
type Refresher struct {
	opts   Options
	info   *hyperliquid.InfoClient
	sink   EventSink
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Refresher.
func New(opts Options, info *hyperliquid.InfoClient, sink EventSink, logger *slog.Logger) *Refresher {
	if opts.Thresholds == (domain.TierThresholds{}) {
		opts.Thresholds = domain.DefaultTierThresholds()
	}
	return &Refresher{
		opts:   opts,
		info:   info,
		sink:   sink,
		logger: logger.With(slog.String("component", "leaderboard")),
		now:    time.Now,
	}
}

// Run refreshes once immediately and then on every tick until the context
// ends. A failed refresh is logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("initial refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Refresh pulls the leaderboard once and publishes the derived scores.
func (r *Refresher) Refresh(ctx context.Context) error {
	rows, err := r.fetchTop(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("leaderboard: empty response")
	}

	now := r.now()
	scores := make([]domain.TraderScore, 0, len(rows))
	for i, row := range rows {
		addr, err := domain.ParseAddress(row.EthAddress)
		if err != nil {
			continue
		}
		av := float64(row.AccountValue)
		scores = append(scores, domain.TraderScore{
			Address:     addr,
			Score:       float64(len(rows)-i) / float64(len(rows)) * 100,
			Tier:        r.opts.Thresholds.TierFor(av),
			LastUpdated: now,
		})
	}

	if err := r.sink.Publish(ctx, domain.Event{
		ID:        uuid.New().String(),
		Topic:     domain.TopicScoredTraders,
		Key:       fmt.Sprintf("leaderboard:%d", now.UnixMilli()),
		Payload:   domain.ScoreUpdate{Scores: scores},
		Timestamp: now,
	}); err != nil {
		return fmt.Errorf("leaderboard: publish scores: %w", err)
	}

	if err := r.sink.Publish(ctx, domain.Event{
		ID:        uuid.New().String(),
		Topic:     domain.TopicLeaderboardSnapshot,
		Key:       fmt.Sprintf("snapshot:%d", now.UnixMilli()),
		Payload:   rows,
		Timestamp: now,
	}); err != nil {
		return fmt.Errorf("leaderboard: publish snapshot: %w", err)
	}

	r.logger.Info("leaderboard refreshed", slog.Int("scored", len(scores)))
	return nil
}

// Roster returns the top-n leaderboard addresses in canonical form, for
// seeding the connection pool when no explicit trader list is configured.
func (r *Refresher) Roster(ctx context.Context, n int) ([]string, error) {
	rows, err := r.fetchTop(ctx)
	if err != nil {
		return nil, err
	}

	var roster []string
	for _, row := range rows {
		if len(roster) >= n {
			break
		}
		addr, err := domain.ParseAddress(row.EthAddress)
		if err != nil {
			continue
		}
		roster = append(roster, addr)
	}
	return roster, nil
}

// fetchTop pulls the leaderboard and returns the TopN rows by account value.
func (r *Refresher) fetchTop(ctx context.Context) ([]hyperliquid.LeaderboardRow, error) {
	rows, err := r.info.Leaderboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: fetch: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].AccountValue > rows[j].AccountValue
	})
	if r.opts.TopN > 0 && len(rows) > r.opts.TopN {
		rows = rows[:r.opts.TopN]
	}
	return rows, nil
}
