package memory

import (
	"context"
	"sort"
	"sync"

	"oraculo/internal/domain"
	"oraculo/internal/storage"
)

// ActivityStore is an in-memory implementation of storage.ActivityStore.
type ActivityStore struct {
	mu     sync.RWMutex
	ids    map[string]struct{}
	events []*domain.Event
}

// NewActivityStore creates a new in-memory activity store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{
		ids: make(map[string]struct{}),
	}
}

// Compile-time interface check.
var _ storage.ActivityStore = (*ActivityStore)(nil)

// InsertBulk adds multiple events. Fails entire batch on duplicate ID.
func (s *ActivityStore) InsertBulk(_ context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.ids[e.ID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[e.ID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.ID] = struct{}{}
	}

	for _, e := range events {
		s.ids[e.ID] = struct{}{}
		s.events = append(s.events, cloneEvent(e))
	}

	return nil
}

// GetByMarket retrieves a market's events within [start, end], ordered by timestamp ASC.
func (s *ActivityStore) GetByMarket(_ context.Context, market domain.Address, start, end int64) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.events {
		if inMarket(e, market) && e.Timestamp >= start && e.Timestamp <= end {
			result = append(result, cloneEvent(e))
		}
	}
	sortEvents(result)
	return result, nil
}

// GetPriceHistory returns the pools after each bet within [start, end].
func (s *ActivityStore) GetPriceHistory(ctx context.Context, market domain.Address, start, end int64) ([]*domain.PricePoint, error) {
	events, err := s.GetByMarket(ctx, market, start, end)
	if err != nil {
		return nil, err
	}

	var points []*domain.PricePoint
	for _, e := range events {
		if e.Type != domain.EventBetPlaced {
			continue
		}
		points = append(points, &domain.PricePoint{
			Market:    market,
			Timestamp: e.Timestamp,
			YesPool:   e.YesPool,
			NoPool:    e.NoPool,
			Side:      e.Side,
			Amount:    e.Amount,
		})
	}
	return points, nil
}

// GetMarketStats aggregates a market's activity.
func (s *ActivityStore) GetMarketStats(_ context.Context, market domain.Address) (*domain.MarketStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.MarketStats{Market: market}
	first := true
	for _, e := range s.events {
		if !inMarket(e, market) {
			continue
		}
		if first || e.Timestamp < stats.FirstEventAt {
			stats.FirstEventAt = e.Timestamp
		}
		if first || e.Timestamp > stats.LastEventAt {
			stats.LastEventAt = e.Timestamp
		}
		first = false

		switch e.Type {
		case domain.EventBetPlaced:
			stats.Bets++
			if e.Side == domain.SideYes {
				stats.YesVolume += e.Amount
			} else {
				stats.NoVolume += e.Amount
			}
		case domain.EventVoteCast:
			stats.Votes++
		case domain.EventWinningsClaimed:
			stats.Redemptions++
			stats.RedeemedTotal += e.Amount
		}
	}
	return stats, nil
}

// Len returns the number of stored events.
func (s *ActivityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func inMarket(e *domain.Event, market domain.Address) bool {
	return e.Market != nil && *e.Market == market
}

func sortEvents(events []*domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].ID < events[j].ID
	})
}

func cloneEvent(e *domain.Event) *domain.Event {
	c := *e
	c.Market = clonePtr(e.Market)
	c.Proposal = clonePtr(e.Proposal)
	c.Mint = clonePtr(e.Mint)
	c.Outcome = clonePtr(e.Outcome)
	c.Support = clonePtr(e.Support)
	c.ProposerCorrect = clonePtr(e.ProposerCorrect)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
