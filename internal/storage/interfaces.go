package storage

import (
	"context"

	"oraculo/internal/domain"
)

// Account is a raw ledger account: JSON data of a given kind at an address.
type Account struct {
	Address domain.Address
	Kind    domain.AccountKind
	Data    []byte
	Version uint64 // incremented on every committed write
}

// Tx is the view of the account set inside one transaction.
// Writes are visible to later reads in the same Tx and are committed
// together or not at all.
type Tx interface {
	// Get returns the account at addr. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, addr domain.Address) (*Account, error)

	// Create stores a new account. Returns ErrDuplicateKey if addr exists.
	Create(ctx context.Context, acct *Account) error

	// Put stores acct, creating it if absent.
	Put(ctx context.Context, acct *Account) error
}

// AccountStore is the ledger account store.
type AccountStore interface {
	// Update runs fn in a read-write transaction. If fn returns an error
	// nothing is written. fn may be invoked more than once when the
	// transaction conflicts with a concurrent writer, so it must not have
	// side effects outside tx.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn against a consistent read-only view. Like Update, fn may
	// be invoked more than once.
	View(ctx context.Context, fn func(tx Tx) error) error

	// ListByKind returns all accounts of a kind ordered by address.
	ListByKind(ctx context.Context, kind domain.AccountKind) ([]*Account, error)
}

// ActivityStore is the append-only analytics store of protocol events.
type ActivityStore interface {
	// InsertBulk adds events. Fails entire batch on duplicate event ID.
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// GetByMarket retrieves a market's events within [start, end]
	// (unix seconds, inclusive), ordered by timestamp ASC.
	GetByMarket(ctx context.Context, market domain.Address, start, end int64) ([]*domain.Event, error)

	// GetPriceHistory returns the pool state after each bet of a market
	// within [start, end], ordered by timestamp ASC.
	GetPriceHistory(ctx context.Context, market domain.Address, start, end int64) ([]*domain.PricePoint, error)

	// GetMarketStats aggregates a market's activity.
	GetMarketStats(ctx context.Context, market domain.Address) (*domain.MarketStats, error)
}
