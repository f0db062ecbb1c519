// Package notify fans operational alerts out to chat channels. The engine
// emits a small set of named events (daily_loss_halt, partial_failure,
// order_rejected, ...); operators choose which of them reach a channel via
// the notify.events config list.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender delivers one formatted alert to a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier filters events against the configured allow-list and forwards the
// survivors to every sender. An empty allow-list forwards everything.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewNotifier builds a Notifier over the given senders. events is the
// allow-list from config; entries are trimmed, and an empty list disables
// filtering.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	n := &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
	if len(events) > 0 {
		n.allowed = make(map[string]struct{}, len(events))
		for _, e := range events {
			n.allowed[strings.TrimSpace(e)] = struct{}{}
		}
	}
	return n
}

// Notify forwards the alert to every sender if the event passes the
// allow-list. Sender failures are joined and returned together; one broken
// channel never blocks delivery to the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if n.allowed != nil {
		if _, ok := n.allowed[event]; !ok {
			n.logger.DebugContext(ctx, "event suppressed", slog.String("event", event))
			return nil
		}
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("channel", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("channel", s.Name()),
			slog.String("event", event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
