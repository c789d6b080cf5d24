// Package notify delivers hedging alerts to external channels. Trigger
// events, position closes, and degraded-health signals are dispatched to all
// configured senders, optionally filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// Event types used for filtering.
const (
	EventTrigger        = "trigger"
	EventPositionClosed = "position_closed"
	EventDegraded       = "degraded"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans notifications out to its senders. Only events whose type is
// in the allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders, filtered to
// the listed event types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification when the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TriggerFired formats and sends a Fibonacci trigger alert.
func (n *Notifier) TriggerFired(ctx context.Context, evt domain.TriggerEvent) error {
	title := fmt.Sprintf("%s %d%% retracement: %s", evt.Coin, evt.Level, strings.ToUpper(string(evt.Action)))
	msg := fmt.Sprintf("position %s (%s) crossed the %d%% level at %s (retracement %s)",
		evt.PositionID, evt.Side, evt.Level, evt.Price, evt.Retracement.Round(4))
	if evt.Action == domain.ActionHedge && evt.HedgeAmountUSD.IsPositive() {
		msg += fmt.Sprintf("; suggested hedge %s USD", evt.HedgeAmountUSD.Round(2))
	}
	return n.Notify(ctx, EventTrigger, title, msg)
}

// PositionClosed formats and sends a close alert.
func (n *Notifier) PositionClosed(ctx context.Context, pos domain.Position) error {
	title := fmt.Sprintf("%s position closed", pos.Coin)
	msg := fmt.Sprintf("position %s closed at %s, realized P&L %s USD",
		pos.ID, pos.ExitPrice, pos.RealizedPnLUSD.Round(2))
	return n.Notify(ctx, EventPositionClosed, title, msg)
}

// dispatch delivers to every sender; one sender's failure never blocks the
// rest. Failures are combined into a single returned error.
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
