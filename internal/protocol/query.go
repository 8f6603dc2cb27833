package protocol

import (
	"context"
	"sort"

	"oraculo/internal/domain"
	"oraculo/internal/ledger"
	"oraculo/internal/pricing"
	"oraculo/internal/storage"
	"oraculo/internal/token"
)

// MarketFilter selects markets; zero fields match everything.
type MarketFilter struct {
	Status   domain.MarketStatus
	Category domain.Category
	Creator  *domain.Address
}

func (f MarketFilter) match(m *domain.Market) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Creator != nil && m.Creator != *f.Creator {
		return false
	}
	return true
}

// PositionView is a position with the owner's current share balances.
type PositionView struct {
	*domain.Position
	YesBalance uint64 `json:"yes_balance"`
	NoBalance  uint64 `json:"no_balance"`
}

// GetMarket returns a market.
func (e *Engine) GetMarket(ctx context.Context, market domain.Address) (*domain.Market, error) {
	var out *domain.Market
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = loadMarket(ctx, tx, market)
		return err
	})
	return out, err
}

// ListMarkets returns markets matching f, newest first.
func (e *Engine) ListMarkets(ctx context.Context, f MarketFilter) ([]*domain.Market, error) {
	accounts, err := e.store.ListByKind(ctx, domain.AccountKindMarket)
	if err != nil {
		return nil, err
	}

	var out []*domain.Market
	for _, acct := range accounts {
		m, err := ledger.Decode[domain.Market](acct)
		if err != nil {
			return nil, err
		}
		if f.match(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out, nil
}

// Quote prices a market. With a side and a positive amount it also prices
// that bet without placing it.
func (e *Engine) Quote(ctx context.Context, market domain.Address, side domain.Side, amount uint64) (*pricing.Quote, error) {
	m, err := e.GetMarket(ctx, market)
	if err != nil {
		return nil, err
	}
	if side == "" || amount == 0 {
		return pricing.QuoteMarket(m), nil
	}
	if !side.IsValid() {
		return nil, ErrInvalidSide
	}
	q, err := pricing.QuoteBet(m, side, amount)
	return q, translate(err)
}

// GetPosition returns owner's position in market.
func (e *Engine) GetPosition(ctx context.Context, market, owner domain.Address) (*PositionView, error) {
	var out *PositionView
	err := e.view(ctx, func(tx storage.Tx) error {
		m, err := loadMarket(ctx, tx, market)
		if err != nil {
			return err
		}
		pos, err := e.loadPosition(ctx, tx, market, owner)
		if err != nil {
			return err
		}
		if pos == nil {
			return ErrPositionNotFound
		}
		view := &PositionView{Position: pos}
		if view.YesBalance, err = token.Balance(ctx, tx, owner, m.YesMint); err != nil {
			return err
		}
		if view.NoBalance, err = token.Balance(ctx, tx, owner, m.NoMint); err != nil {
			return err
		}
		out = view
		return nil
	})
	return out, err
}

// GetProposal returns a proposal.
func (e *Engine) GetProposal(ctx context.Context, proposal domain.Address) (*domain.Proposal, error) {
	var out *domain.Proposal
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = loadProposal(ctx, tx, proposal)
		return err
	})
	return out, err
}

// ListProposals returns a market's proposals in creation order.
func (e *Engine) ListProposals(ctx context.Context, market domain.Address) ([]*domain.Proposal, error) {
	var out []*domain.Proposal
	err := e.view(ctx, func(tx storage.Tx) error {
		out = out[:0]
		m, err := loadMarket(ctx, tx, market)
		if err != nil {
			return err
		}
		for i := uint32(0); i < m.ProposalCount; i++ {
			addr, _ := e.derive.Proposal(market, i)
			p, err := loadProposal(ctx, tx, addr)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// GetVote returns voter's vote on proposal.
func (e *Engine) GetVote(ctx context.Context, proposal, voter domain.Address) (*domain.VoteRecord, error) {
	var out *domain.VoteRecord
	err := e.view(ctx, func(tx storage.Tx) error {
		v, err := e.loadVote(ctx, tx, proposal, voter)
		if err != nil {
			return err
		}
		if v == nil {
			return ErrNoVoteRecord
		}
		out = v
		return nil
	})
	return out, err
}

// ListDueProposals returns active proposals whose voting window closed at
// or before now, oldest deadline first.
func (e *Engine) ListDueProposals(ctx context.Context, now int64) ([]*domain.Proposal, error) {
	accounts, err := e.store.ListByKind(ctx, domain.AccountKindProposal)
	if err != nil {
		return nil, err
	}

	var out []*domain.Proposal
	for _, acct := range accounts {
		p, err := ledger.Decode[domain.Proposal](acct)
		if err != nil {
			return nil, err
		}
		if p.Status == domain.ProposalStatusActive && p.VotingEndsAt <= now {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].VotingEndsAt < out[j].VotingEndsAt
	})
	return out, nil
}
