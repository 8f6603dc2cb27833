package memory

import (
	"context"
	"errors"
	"testing"

	"oraculo/internal/domain"
	"oraculo/internal/storage"
)

func betEvent(id string, ts int64, market domain.Address, side domain.Side, amount uint64) *domain.Event {
	m := market
	return &domain.Event{
		ID:        id,
		Type:      domain.EventBetPlaced,
		Timestamp: ts,
		Market:    &m,
		Side:      side,
		Amount:    amount,
		YesPool:   100 + amount,
		NoPool:    100,
	}
}

func TestActivityStore_InsertBulk(t *testing.T) {
	store := NewActivityStore()
	ctx := context.Background()
	market := addr(1)

	if err := store.InsertBulk(ctx, nil); err != nil {
		t.Fatalf("empty insert: %v", err)
	}

	events := []*domain.Event{
		betEvent("b", 200, market, domain.SideYes, 2),
		betEvent("a", 100, market, domain.SideNo, 1),
	}
	if err := store.InsertBulk(ctx, events); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByMarket(ctx, market, 0, 1000)
	if err != nil {
		t.Fatalf("GetByMarket failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("expected ascending timestamps, got %s, %s", got[0].ID, got[1].ID)
	}

	// Stored events must not alias caller memory
	*events[0].Market = addr(9)
	got, _ = store.GetByMarket(ctx, market, 0, 1000)
	if len(got) != 2 {
		t.Errorf("mutation of inserted event leaked into store")
	}
}

func TestActivityStore_InsertBulk_Duplicate(t *testing.T) {
	store := NewActivityStore()
	ctx := context.Background()
	market := addr(1)

	if err := store.InsertBulk(ctx, []*domain.Event{betEvent("a", 1, market, domain.SideYes, 1)}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.Event{
		betEvent("c", 2, market, domain.SideYes, 1),
		betEvent("a", 3, market, domain.SideYes, 1),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("failed batch must not be partially applied, have %d events", store.Len())
	}

	err = store.InsertBulk(ctx, []*domain.Event{{Type: domain.EventBetPlaced}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing id, got %v", err)
	}
}

func TestActivityStore_PriceHistoryAndStats(t *testing.T) {
	store := NewActivityStore()
	ctx := context.Background()
	market, other := addr(1), addr(2)

	vote := &domain.Event{ID: "v", Type: domain.EventVoteCast, Timestamp: 40, Market: &market}
	claim := &domain.Event{ID: "w", Type: domain.EventWinningsClaimed, Timestamp: 50, Market: &market, Amount: 11}
	events := []*domain.Event{
		betEvent("1", 10, market, domain.SideYes, 3),
		betEvent("2", 20, market, domain.SideNo, 4),
		betEvent("3", 30, market, domain.SideYes, 5),
		betEvent("x", 5, other, domain.SideYes, 100),
		vote, claim,
	}
	if err := store.InsertBulk(ctx, events); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	points, err := store.GetPriceHistory(ctx, market, 15, 30)
	if err != nil {
		t.Fatalf("GetPriceHistory failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].Timestamp != 20 || points[0].Side != domain.SideNo || points[0].YesPool != 104 {
		t.Errorf("unexpected first point %+v", points[0])
	}

	stats, err := store.GetMarketStats(ctx, market)
	if err != nil {
		t.Fatalf("GetMarketStats failed: %v", err)
	}
	want := domain.MarketStats{
		Market: market, Bets: 3, YesVolume: 8, NoVolume: 4, Votes: 1,
		Redemptions: 1, RedeemedTotal: 11, FirstEventAt: 10, LastEventAt: 50,
	}
	if *stats != want {
		t.Errorf("stats = %+v, want %+v", *stats, want)
	}

	empty, _ := store.GetMarketStats(ctx, addr(3))
	if *empty != (domain.MarketStats{Market: addr(3)}) {
		t.Errorf("expected zero stats, got %+v", *empty)
	}
}
