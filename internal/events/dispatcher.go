// Package events fans committed protocol events out to subscribers:
// the activity store, the pub/sub bus, the WebSocket hub and caches.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"oraculo/internal/domain"
	"oraculo/internal/observability"
)

// DefaultTimeout bounds one delivery to all subscribers.
const DefaultTimeout = 5 * time.Second

// Subscriber consumes the events of one committed operation.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, events []*domain.Event) error
}

// Dispatcher delivers events to every subscriber concurrently. A failing
// subscriber is logged and counted; it does not affect the others and
// never fails the operation that produced the events.
type Dispatcher struct {
	subs    []Subscriber
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher over subs.
func NewDispatcher(logger *zap.Logger, subs ...Subscriber) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		subs:    subs,
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// Add registers a subscriber. Not safe for use concurrently with Publish.
func (d *Dispatcher) Add(s Subscriber) {
	d.subs = append(d.subs, s)
}

// SetTimeout changes the delivery deadline.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	d.timeout = timeout
}

// Publish delivers events and waits for all subscribers. The caller's
// cancellation is ignored so a committed operation is always delivered.
func (d *Dispatcher) Publish(ctx context.Context, events []*domain.Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range d.subs {
		g.Go(func() error {
			if err := s.Handle(ctx, events); err != nil {
				observability.RecordSinkError(s.Name())
				d.logger.Warn("event delivery failed",
					zap.String("subscriber", s.Name()),
					zap.Int("events", len(events)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, ev := range events {
		observability.RecordEventDispatched(ev.Type.String())
	}
}
