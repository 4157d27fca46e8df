// Package notify delivers operator alerts for trading events. Alerts are
// dispatched to every registered sender (Telegram, Discord) and can be
// filtered by event type so operators only receive the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the decision engine.
const (
	EventEntry       = "entry"       // a position was opened
	EventExit        = "exit"        // a position was closed
	EventOpportunity = "opportunity" // a profitable cross-venue spread was found
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the channel identifier (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders, filtered by event type.
// A nil Notifier is valid and drops every alert, so call sites do not need to
// guard against notifications being unconfigured.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// whose type appears in events are forwarded; an empty list allows all types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// PositionOpened reports a filled entry order.
func (n *Notifier) PositionOpened(ctx context.Context, instrument string, price, quantity float64) error {
	return n.Notify(ctx, EventEntry, "Position opened",
		fmt.Sprintf("%s: bought %.6f @ %.6f", instrument, quantity, price))
}

// PositionClosed reports a filled exit order and the reason the exit fired.
func (n *Notifier) PositionClosed(ctx context.Context, instrument, reason string, price, quantity float64) error {
	return n.Notify(ctx, EventExit, "Position closed",
		fmt.Sprintf("%s: sold %.6f @ %.6f (%s)", instrument, quantity, price, reason))
}

// Opportunity reports a profitable cross-venue spread.
func (n *Notifier) Opportunity(ctx context.Context, instrument, buyVenue, sellVenue string, profit float64) error {
	return n.Notify(ctx, EventOpportunity, "Arbitrage opportunity",
		fmt.Sprintf("%s: buy %s / sell %s, est. profit %.6f", instrument, buyVenue, sellVenue, profit))
}

// Notify sends an alert to all senders if the event type is in the allowed
// list. If no event filter was configured, all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if n == nil {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends an alert to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if n == nil {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch fans the alert out to every sender. Failures are collected and
// returned together; one broken channel never blocks delivery to the rest.
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
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
