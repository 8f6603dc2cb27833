package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"oraculo/internal/domain"
	"oraculo/internal/storage"
)

// Func adapts a function to a Subscriber.
type Func struct {
	ID string
	Fn func(ctx context.Context, events []*domain.Event) error
}

func (f Func) Name() string { return f.ID }

func (f Func) Handle(ctx context.Context, events []*domain.Event) error {
	return f.Fn(ctx, events)
}

// ActivityRecorder appends market events to an activity store.
type ActivityRecorder struct {
	store storage.ActivityStore
}

// NewActivityRecorder creates an ActivityRecorder.
func NewActivityRecorder(store storage.ActivityStore) *ActivityRecorder {
	return &ActivityRecorder{store: store}
}

func (r *ActivityRecorder) Name() string { return "activity" }

// Handle inserts the events that belong to a market. A batch that is
// already stored is not an error.
func (r *ActivityRecorder) Handle(ctx context.Context, events []*domain.Event) error {
	batch := make([]*domain.Event, 0, len(events))
	for _, ev := range events {
		if ev.Market != nil {
			batch = append(batch, ev)
		}
	}
	if len(batch) == 0 {
		return nil
	}
	if err := r.store.InsertBulk(ctx, batch); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// Publisher sends a payload to a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// BusForwarder publishes each event as JSON on its channel.
type BusForwarder struct {
	pub Publisher
}

// NewBusForwarder creates a BusForwarder.
func NewBusForwarder(pub Publisher) *BusForwarder {
	return &BusForwarder{pub: pub}
}

func (f *BusForwarder) Name() string { return "bus" }

func (f *BusForwarder) Handle(ctx context.Context, events []*domain.Event) error {
	var errs []error
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		if err := f.pub.Publish(ctx, ev.Channel(), payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcaster pushes a payload to local clients subscribed to channel.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// HubForwarder hands events to an in-process broadcaster. It is used
// when no bus is configured; with a bus the hub reads from the bus.
type HubForwarder struct {
	hub Broadcaster
}

// NewHubForwarder creates a HubForwarder.
func NewHubForwarder(hub Broadcaster) *HubForwarder {
	return &HubForwarder{hub: hub}
}

func (f *HubForwarder) Name() string { return "hub" }

func (f *HubForwarder) Handle(_ context.Context, events []*domain.Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		f.hub.Broadcast(ev.Channel(), payload)
	}
	return nil
}

// QuoteInvalidator drops cached quotes of markets whose pools or status
// changed.
type QuoteInvalidator struct {
	cache interface {
		Invalidate(ctx context.Context, market domain.Address) error
	}
}

// NewQuoteInvalidator creates a QuoteInvalidator over cache.
func NewQuoteInvalidator(cache interface {
	Invalidate(ctx context.Context, market domain.Address) error
}) *QuoteInvalidator {
	return &QuoteInvalidator{cache: cache}
}

func (q *QuoteInvalidator) Name() string { return "quote_cache" }

func (q *QuoteInvalidator) Handle(ctx context.Context, events []*domain.Event) error {
	seen := make(map[domain.Address]bool)
	for _, ev := range events {
		if ev.Market == nil || seen[*ev.Market] {
			continue
		}
		switch ev.Type {
		case domain.EventBetPlaced, domain.EventMarketResolved, domain.EventMarketCancelled:
			seen[*ev.Market] = true
			if err := q.cache.Invalidate(ctx, *ev.Market); err != nil {
				return err
			}
		}
	}
	return nil
}

var (
	_ Subscriber = Func{}
	_ Subscriber = (*ActivityRecorder)(nil)
	_ Subscriber = (*BusForwarder)(nil)
	_ Subscriber = (*HubForwarder)(nil)
	_ Subscriber = (*QuoteInvalidator)(nil)
)
