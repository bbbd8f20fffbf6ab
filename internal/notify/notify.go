// Package notify delivers out-of-band events about scan progress.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Kind identifies an event.
type Kind string

const (
	KindDomainFound Kind = "domain_found"
	KindRunSummary  Kind = "run_summary"
)

// Event is a single notification.
type Event struct {
	Kind      Kind      `json:"kind"`
	Message   string    `json:"content"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(kind Kind, message string, payload any) Event {
	return Event{Kind: kind, Message: message, Payload: payload, Timestamp: time.Now().UTC()}
}

// Notifier delivers events. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }

// LogNotifier writes events to the global logger.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, ev Event) error {
	zap.L().Info(ev.Message,
		zap.String("component", "notify"),
		zap.String("kind", string(ev.Kind)),
		zap.Any("payload", ev.Payload),
	)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
