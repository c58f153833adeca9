// Package notify tells operators about resilience events: value parked in a
// recoverable buffer because a downstream transfer or fee hand-off failed.
// Alerts fan out to every configured Sender (Telegram, Discord).
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

const queueSize = 256

// Notifier dispatches alerts to its senders. Alert only enqueues, so the
// engine never waits on a webhook; Run drains the queue.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	queue   chan domain.Event
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events whose type is listed are
// forwarded; an empty list forwards every resilience event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan domain.Event, queueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Alert queues e for delivery. A full queue drops the alert; the event is
// still in the event log.
func (n *Notifier) Alert(ctx context.Context, e domain.Event) {
	if !n.wants(e.Type) {
		return
	}
	select {
	case n.queue <- e:
	default:
		n.logger.WarnContext(ctx, "alert queue full, dropping",
			slog.String("type", string(e.Type)),
			slog.String("market", e.Market.Hex()),
		)
	}
}

func (n *Notifier) wants(t domain.EventType) bool {
	return len(n.senders) > 0 && (len(n.events) == 0 || n.events[t])
}

// Run delivers queued alerts until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-n.queue:
			if err := n.Notify(ctx, e); err != nil {
				n.logger.ErrorContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Notify delivers e synchronously. One sender failing does not stop the
// others.
func (n *Notifier) Notify(ctx context.Context, e domain.Event) error {
	title, message := Format(e)
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Format renders an event as a title and a plain-text body with sorted
// key: value lines.
func Format(e domain.Event) (string, string) {
	title := string(e.Type)
	var b strings.Builder
	fmt.Fprintf(&b, "market: %s\n", e.Market.Hex())
	fmt.Fprintf(&b, "actor: %s\n", e.Actor.Hex())
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, e.Data[k])
	}
	fmt.Fprintf(&b, "at: %s", e.Timestamp.UTC().Format("2006-01-02 15:04:05Z"))
	return title, b.String()
}
