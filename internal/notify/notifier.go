// Package notify pushes whale alerts to operator channels (Telegram,
// Discord). Alerts below the configured priority are dropped so operators
// only see the rotations that matter.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel (e.g. "telegram").
	Name() string
}

// priorityRank orders alert priorities for the filter, highest first.
var priorityRank = map[domain.AlertPriority]int{
	domain.AlertCritical: 4,
	domain.AlertHigh:     3,
	domain.AlertMedium:   2,
	domain.AlertLow:      1,
}

// Notifier fans whale alerts out to the registered senders.
type Notifier struct {
	senders     []Sender
	minPriority domain.AlertPriority
	logger      *slog.Logger
}

// NewNotifier creates a Notifier delivering alerts of at least minPriority.
// An empty minPriority delivers everything.
func NewNotifier(senders []Sender, minPriority domain.AlertPriority, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders:     senders,
		minPriority: minPriority,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// NotifyAlert formats and dispatches one whale alert, subject to the
// priority filter.
func (n *Notifier) NotifyAlert(ctx context.Context, alert domain.WhaleAlert) error {
	if n.minPriority != "" && priorityRank[alert.Priority] < priorityRank[n.minPriority] {
		n.logger.DebugContext(ctx, "alert filtered out",
			slog.String("priority", string(alert.Priority)),
		)
		return nil
	}
	title, message := formatAlert(alert)
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one failing channel does not block the
// rest, and the failures come back combined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// formatAlert renders a whale alert as a short operator message.
func formatAlert(alert domain.WhaleAlert) (title, message string) {
	title = fmt.Sprintf("[%s] Whale alert: %d position change(s)",
		alert.Priority, len(alert.Changes))

	var b strings.Builder
	for i, c := range alert.Changes {
		if i >= 5 {
			fmt.Fprintf(&b, "... and %d more\n", len(alert.Changes)-i)
			break
		}
		fmt.Fprintf(&b, "%s %s: %.4f -> %.4f (%+.1f%%, account $%.0fM)\n",
			shortAddr(c.Address), c.Coin, c.PriorSize, c.CurrentSize,
			c.ChangePct, c.AccountValue/1e6)
	}
	fmt.Fprintf(&b, "expires %s", alert.ExpiresAt.UTC().Format(time.RFC3339))
	return title, b.String()
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
