package protocol

import (
	"context"
	"errors"
	"fmt"

	"oraculo/internal/domain"
	"oraculo/internal/ledger"
	"oraculo/internal/storage"
)

func (e *Engine) loadConfig(ctx context.Context, tx storage.Tx) (*domain.Config, error) {
	addr, _ := e.derive.Config()
	cfg, err := ledger.Load[domain.Config](ctx, tx, addr, domain.AccountKindConfig)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrConfigNotFound
	}
	return cfg, err
}

func (e *Engine) saveConfig(ctx context.Context, tx storage.Tx, cfg *domain.Config) error {
	return ledger.Save(ctx, tx, cfg.Address, domain.AccountKindConfig, cfg)
}

func loadMarket(ctx context.Context, tx storage.Tx, addr domain.Address) (*domain.Market, error) {
	m, err := ledger.Load[domain.Market](ctx, tx, addr, domain.AccountKindMarket)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, ledger.ErrKindMismatch) {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, addr)
	}
	return m, err
}

func saveMarket(ctx context.Context, tx storage.Tx, m *domain.Market) error {
	return ledger.Save(ctx, tx, m.Address, domain.AccountKindMarket, m)
}

func loadProposal(ctx context.Context, tx storage.Tx, addr domain.Address) (*domain.Proposal, error) {
	p, err := ledger.Load[domain.Proposal](ctx, tx, addr, domain.AccountKindProposal)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, ledger.ErrKindMismatch) {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, addr)
	}
	return p, err
}

func saveProposal(ctx context.Context, tx storage.Tx, p *domain.Proposal) error {
	return ledger.Save(ctx, tx, p.Address, domain.AccountKindProposal, p)
}

// loadPosition returns the position, or nil if the owner never bet.
func (e *Engine) loadPosition(ctx context.Context, tx storage.Tx, market, owner domain.Address) (*domain.Position, error) {
	addr, _ := e.derive.Position(market, owner)
	pos, err := ledger.Load[domain.Position](ctx, tx, addr, domain.AccountKindPosition)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return pos, err
}

func savePosition(ctx context.Context, tx storage.Tx, pos *domain.Position) error {
	return ledger.Save(ctx, tx, pos.Address, domain.AccountKindPosition, pos)
}

// loadVote returns the vote record, or nil if the voter has not voted.
func (e *Engine) loadVote(ctx context.Context, tx storage.Tx, proposal, voter domain.Address) (*domain.VoteRecord, error) {
	addr, _ := e.derive.VoteRecord(proposal, voter)
	v, err := ledger.Load[domain.VoteRecord](ctx, tx, addr, domain.AccountKindVoteRecord)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
