package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"oraculo/internal/domain"
	"oraculo/internal/protocol"
	"oraculo/internal/storage"
)

// BlobStore is the object storage the archiver writes to.
type BlobStore interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// MarketSource lists markets and their proposals.
type MarketSource interface {
	ListMarkets(ctx context.Context, f protocol.MarketFilter) ([]*domain.Market, error)
	ListProposals(ctx context.Context, market domain.Address) ([]*domain.Proposal, error)
}

// MarketSnapshot is the archived state of a finished market.
type MarketSnapshot struct {
	Market     *domain.Market      `json:"market"`
	Proposals  []*domain.Proposal  `json:"proposals"`
	Stats      *domain.MarketStats `json:"stats,omitempty"`
	ArchivedAt int64               `json:"archived_at"`
}

// Archiver writes one snapshot and one JSONL event log per resolved or
// cancelled market:
//
//	markets/{address}/events.jsonl
//	markets/{address}/snapshot.json
//
// The snapshot is written last and marks the market as archived.
type Archiver struct {
	blobs    BlobStore
	markets  MarketSource
	activity storage.ActivityStore // optional
	now      func() time.Time
	logger   *zap.Logger
}

// NewArchiver creates an Archiver. activity may be nil, in which case
// snapshots carry no stats and no event log is written.
func NewArchiver(blobs BlobStore, markets MarketSource, activity storage.ActivityStore, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		blobs:    blobs,
		markets:  markets,
		activity: activity,
		now:      time.Now,
		logger:   logger,
	}
}

// SnapshotPath returns the key of a market's snapshot.
func SnapshotPath(market domain.Address) string {
	return fmt.Sprintf("markets/%s/snapshot.json", market)
}

// EventsPath returns the key of a market's event log.
func EventsPath(market domain.Address) string {
	return fmt.Sprintf("markets/%s/events.jsonl", market)
}

// ArchiveFinished archives every resolved or cancelled market without a
// snapshot and returns how many were written. It stops at the first
// failure.
func (a *Archiver) ArchiveFinished(ctx context.Context) (int, error) {
	var finished []*domain.Market
	for _, status := range []domain.MarketStatus{domain.MarketStatusResolved, domain.MarketStatusCancelled} {
		ms, err := a.markets.ListMarkets(ctx, protocol.MarketFilter{Status: status})
		if err != nil {
			return 0, fmt.Errorf("s3blob: list %s markets: %w", status, err)
		}
		finished = append(finished, ms...)
	}

	count := 0
	for _, m := range finished {
		exists, err := a.blobs.Exists(ctx, SnapshotPath(m.Address))
		if err != nil {
			return count, err
		}
		if exists {
			continue
		}
		if err := a.ArchiveMarket(ctx, m); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ArchiveMarket writes m's event log and snapshot.
func (a *Archiver) ArchiveMarket(ctx context.Context, m *domain.Market) error {
	if m.Status == domain.MarketStatusActive {
		return fmt.Errorf("s3blob: archive %s: %w: market is active", m.Address, storage.ErrInvalidInput)
	}

	proposals, err := a.markets.ListProposals(ctx, m.Address)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s proposals: %w", m.Address, err)
	}
	snap := &MarketSnapshot{
		Market:     m,
		Proposals:  proposals,
		ArchivedAt: a.now().Unix(),
	}

	if a.activity != nil {
		events, err := a.activity.GetByMarket(ctx, m.Address, 0, snap.ArchivedAt)
		if err != nil {
			return fmt.Errorf("s3blob: archive %s events: %w", m.Address, err)
		}
		buf, err := marshalJSONL(events)
		if err != nil {
			return fmt.Errorf("s3blob: archive %s events marshal: %w", m.Address, err)
		}
		if err := a.blobs.Put(ctx, EventsPath(m.Address), bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return err
		}

		stats, err := a.activity.GetMarketStats(ctx, m.Address)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("s3blob: archive %s stats: %w", m.Address, err)
		}
		snap.Stats = stats
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", m.Address, err)
	}
	if err := a.blobs.Put(ctx, SnapshotPath(m.Address), bytes.NewReader(raw), "application/json"); err != nil {
		return err
	}

	a.logger.Info("market archived",
		zap.Stringer("market", m.Address),
		zap.String("status", m.Status.String()),
		zap.Int("proposals", len(proposals)),
	)
	return nil
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
