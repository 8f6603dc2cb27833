package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"oraculo/internal/domain"
	"oraculo/internal/storage"
)

// ActivityStore implements storage.ActivityStore using ClickHouse.
// Every event is stored with its indexed columns and the full JSON payload;
// reads decode the payload so events round-trip exactly.
type ActivityStore struct {
	conn *Conn
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(conn *Conn) *ActivityStore {
	return &ActivityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ActivityStore = (*ActivityStore)(nil)

// InsertBulk adds multiple events. Fails entire batch on duplicate event_id.
func (s *ActivityStore) InsertBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.ID == "" {
			return fmt.Errorf("%w: event without id", storage.ErrInvalidInput)
		}
		if _, exists := seen[e.ID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.ID] = struct{}{}
	}

	for _, e := range events {
		exists, err := s.exists(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO market_activity (
			event_id, event_type, ts, actor, market, proposal, side,
			amount, shares, yes_pool, no_pool, weight, votes_for, votes_against,
			outcome, payload
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		err = batch.Append(
			e.ID, string(e.Type), e.Timestamp, e.Actor.String(),
			addrColumn(e.Market), addrColumn(e.Proposal), string(e.Side),
			e.Amount, e.Shares, e.YesPool, e.NoPool, e.Weight, e.VotesFor, e.VotesAgainst,
			outcomeColumn(e.Outcome), string(payload),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByMarket retrieves a market's events within [start, end], ordered by ts ASC.
func (s *ActivityStore) GetByMarket(ctx context.Context, market domain.Address, start, end int64) ([]*domain.Event, error) {
	query := `
		SELECT payload
		FROM market_activity
		WHERE market = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, market.String(), start, end)
	if err != nil {
		return nil, fmt.Errorf("query by market: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetPriceHistory returns the pools after each bet within [start, end].
func (s *ActivityStore) GetPriceHistory(ctx context.Context, market domain.Address, start, end int64) ([]*domain.PricePoint, error) {
	query := `
		SELECT ts, yes_pool, no_pool, side, amount
		FROM market_activity
		WHERE market = ? AND event_type = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, market.String(), string(domain.EventBetPlaced), start, end)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows, market)
}

// GetMarketStats aggregates a market's activity. A market with no events
// yields zero stats.
func (s *ActivityStore) GetMarketStats(ctx context.Context, market domain.Address) (*domain.MarketStats, error) {
	query := `
		SELECT
			countIf(event_type = 'BET_PLACED'),
			sumIf(amount, event_type = 'BET_PLACED' AND side = 'YES'),
			sumIf(amount, event_type = 'BET_PLACED' AND side = 'NO'),
			countIf(event_type = 'VOTE_CAST'),
			countIf(event_type = 'WINNINGS_CLAIMED'),
			sumIf(amount, event_type = 'WINNINGS_CLAIMED'),
			count(),
			min(ts),
			max(ts)
		FROM market_activity
		WHERE market = ?
	`

	stats := &domain.MarketStats{Market: market}
	var total uint64
	err := s.conn.QueryRow(ctx, query, market.String()).Scan(
		&stats.Bets, &stats.YesVolume, &stats.NoVolume,
		&stats.Votes, &stats.Redemptions, &stats.RedeemedTotal,
		&total, &stats.FirstEventAt, &stats.LastEventAt,
	)
	if err != nil {
		return nil, fmt.Errorf("query market stats: %w", err)
	}
	if total == 0 {
		stats.FirstEventAt, stats.LastEventAt = 0, 0
	}
	return stats, nil
}

// exists checks if an event with the given id exists.
func (s *ActivityStore) exists(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT count(*) FROM market_activity WHERE event_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, eventID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func addrColumn(a *domain.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func outcomeColumn(o *bool) *uint8 {
	if o == nil {
		return nil
	}
	var v uint8
	if *o {
		v = 1
	}
	return &v
}

func scanEvents(rows chRows) ([]*domain.Event, error) {
	var events []*domain.Event

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		var e domain.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode activity payload: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}

	return events, nil
}

func scanPricePoints(rows chRows, market domain.Address) ([]*domain.PricePoint, error) {
	var points []*domain.PricePoint

	for rows.Next() {
		p := domain.PricePoint{Market: market}
		var side string
		if err := rows.Scan(&p.Timestamp, &p.YesPool, &p.NoPool, &side, &p.Amount); err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		p.Side = domain.Side(side)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}

	return points, nil
}
