// Package events describes credit activity notifications and fans them out
// to subscribers (the websocket hub, Kafka).
package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swipefi/swipefi/internal/metrics"
)

// Type of credit event
type Type string

const (
	ScoreEvaluated Type = "score_evaluated"
	Spend          Type = "spend"
	Repay          Type = "repay"
	Overdue        Type = "overdue"
)

// Event is a single notification about a wallet.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Wallet    string    `json:"wallet"`
	Amount    float64   `json:"amount,omitempty"` // spend, repay and overdue only
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// New builds an event stamped with a fresh ID and the current time.
func New(t Type, wallet string, data any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Wallet:    strings.ToLower(wallet),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithAmount sets the event amount and returns e.
func (e *Event) WithAmount(amount float64) *Event {
	e.Amount = amount
	return e
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// Sink is a named Publisher used by Multi for metrics labels.
type Sink struct {
	Name string
	Publisher
}

// Multi publishes to every sink. A failing sink does not stop the others.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMulti creates a fan-out publisher.
func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, logger: logger}
}

var _ Publisher = (*Multi)(nil)

func (m *Multi) Publish(ctx context.Context, e *Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, e); err != nil {
			metrics.EventsPublishedTotal.WithLabelValues(s.Name, "error").Inc()
			m.logger.Warn("event publish failed", "sink", s.Name, "type", string(e.Type), "wallet", e.Wallet, "error", err)
			errs = append(errs, err)
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(s.Name, "ok").Inc()
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
