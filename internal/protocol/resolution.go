package protocol

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"oraculo/internal/domain"
	"oraculo/internal/ledger"
	"oraculo/internal/mathx"
	"oraculo/internal/storage"
	"oraculo/internal/token"
)

// Resolution is the outcome of ExecuteResolution.
type Resolution struct {
	Proposal *domain.Proposal `json:"proposal"`
	Market   *domain.Market   `json:"market"`
	Reward   uint64           `json:"reward"` // treasury reward paid to the proposer
}

// Executed reports whether the proposal resolved its market.
func (r *Resolution) Executed() bool {
	return r.Proposal.Status == domain.ProposalStatusExecuted
}

// ProposeOutcome opens a resolution proposal on an ended market, escrowing
// the proposal stake from the signer.
func (e *Engine) ProposeOutcome(ctx context.Context, signer, market domain.Address, outcome bool, evidence string) (*domain.Proposal, error) {
	if len(evidence) > MaxEvidenceLen {
		return nil, ErrEvidenceTooLong
	}

	var out *domain.Proposal
	err := e.run(ctx, "propose_outcome", func(o *op) error {
		m, err := loadMarket(o.ctx, o.tx, market)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketStatusActive {
			return ErrMarketNotActive
		}
		if o.now < m.EndTime {
			return ErrMarketNotEnded
		}
		// An elapsed but unexecuted proposal still blocks; it must be
		// executed first.
		if m.ActiveProposal != nil {
			return ErrProposalAlreadyActive
		}

		cfg, err := e.loadConfig(o.ctx, o.tx)
		if err != nil {
			return err
		}
		balance, err := token.Balance(o.ctx, o.tx, signer, cfg.GovernanceMint)
		if err != nil {
			return err
		}
		if balance < cfg.ProposalStake {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientStake, balance, cfg.ProposalStake)
		}

		addr, bump := e.derive.Proposal(market, m.ProposalCount)
		escrow, _ := e.derive.StakeEscrow(addr)
		if err := token.Transfer(o.ctx, o.tx, cfg.GovernanceMint, signer, escrow, cfg.ProposalStake); err != nil {
			return err
		}

		p := &domain.Proposal{
			Address:      addr,
			Market:       market,
			Proposer:     signer,
			Index:        m.ProposalCount,
			Outcome:      outcome,
			Evidence:     evidence,
			Stake:        cfg.ProposalStake,
			ProposedAt:   o.now,
			VotingEndsAt: o.now + int64(e.params.VotingPeriod.Seconds()),
			Status:       domain.ProposalStatusActive,
			Bump:         bump,
		}
		if err := ledger.Create(o.ctx, o.tx, addr, domain.AccountKindProposal, p); err != nil {
			return err
		}

		m.ProposalCount++
		m.ActiveProposal = addrPtr(addr)
		if err := saveMarket(o.ctx, o.tx, m); err != nil {
			return err
		}

		o.emit(&domain.Event{
			Type:     domain.EventResolutionProposed,
			Actor:    signer,
			Market:   addrPtr(market),
			Proposal: addrPtr(addr),
			Outcome:  boolPtr(outcome),
			Amount:   p.Stake,
		})
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("resolution proposed",
		zap.Stringer("market", market),
		zap.Stringer("proposal", out.Address),
		zap.Bool("outcome", outcome),
		zap.Int64("voting_ends_at", out.VotingEndsAt),
	)
	return out, nil
}

// CastVote records the signer's vote. The weight is the signer's whole
// governance balance, which moves into the proposal's vote escrow until the
// proposal is finalized and WithdrawVote returns it.
func (e *Engine) CastVote(ctx context.Context, signer, proposal domain.Address, support bool) (*domain.VoteRecord, error) {
	var out *domain.VoteRecord
	err := e.run(ctx, "cast_vote", func(o *op) error {
		p, err := loadProposal(o.ctx, o.tx, proposal)
		if err != nil {
			return err
		}
		if p.Status != domain.ProposalStatusActive {
			return ErrProposalNotActive
		}
		if o.now >= p.VotingEndsAt {
			return ErrVotingClosed
		}

		prior, err := e.loadVote(o.ctx, o.tx, proposal, signer)
		if err != nil {
			return err
		}
		if prior != nil {
			return ErrAlreadyVoted
		}

		cfg, err := e.loadConfig(o.ctx, o.tx)
		if err != nil {
			return err
		}
		weight, err := token.Balance(o.ctx, o.tx, signer, cfg.GovernanceMint)
		if err != nil {
			return err
		}
		if weight == 0 {
			return ErrZeroWeight
		}

		if support {
			p.VotesFor, err = mathx.Add(p.VotesFor, weight)
		} else {
			p.VotesAgainst, err = mathx.Add(p.VotesAgainst, weight)
		}
		if err != nil {
			return err
		}
		// Both tallies must stay summable at execution.
		if _, err := mathx.Add(p.VotesFor, p.VotesAgainst); err != nil {
			return err
		}

		escrow, _ := e.derive.VoteEscrow(proposal)
		if err := token.Transfer(o.ctx, o.tx, cfg.GovernanceMint, signer, escrow, weight); err != nil {
			return err
		}

		addr, bump := e.derive.VoteRecord(proposal, signer)
		v := &domain.VoteRecord{
			Address:  addr,
			Proposal: proposal,
			Voter:    signer,
			Weight:   weight,
			Support:  support,
			VotedAt:  o.now,
			Bump:     bump,
		}
		if err := ledger.Create(o.ctx, o.tx, addr, domain.AccountKindVoteRecord, v); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return ErrAlreadyVoted
			}
			return err
		}
		if err := saveProposal(o.ctx, o.tx, p); err != nil {
			return err
		}

		o.emit(&domain.Event{
			Type:         domain.EventVoteCast,
			Actor:        signer,
			Market:       addrPtr(p.Market),
			Proposal:     addrPtr(proposal),
			Support:      boolPtr(support),
			Weight:       weight,
			VotesFor:     p.VotesFor,
			VotesAgainst: p.VotesAgainst,
		})
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExecuteResolution finalizes a proposal whose voting window has elapsed.
// Anyone may call it.
//
//   - total < quorum: rejected, stake forfeited to the treasury.
//   - votesFor*100 >= supermajority*total: executed; the market resolves to
//     the proposed outcome and the proposer gets the stake back plus the
//     treasury reward (capped at the treasury balance).
//   - otherwise: rejected, stake slashed to the treasury.
//
// A rejected proposal leaves the market active and open to a new proposal.
func (e *Engine) ExecuteResolution(ctx context.Context, signer, proposal domain.Address) (*Resolution, error) {
	var res *Resolution
	err := e.run(ctx, "execute_resolution", func(o *op) error {
		p, err := loadProposal(o.ctx, o.tx, proposal)
		if err != nil {
			return err
		}
		if p.Status != domain.ProposalStatusActive {
			return ErrProposalNotActive
		}
		if o.now < p.VotingEndsAt {
			return ErrVotingNotEnded
		}
		m, err := loadMarket(o.ctx, o.tx, p.Market)
		if err != nil {
			return err
		}
		cfg, err := e.loadConfig(o.ctx, o.tx)
		if err != nil {
			return err
		}

		total, err := mathx.Add(p.VotesFor, p.VotesAgainst)
		if err != nil {
			return err
		}
		escrow, _ := e.derive.StakeEscrow(proposal)

		var reward uint64
		switch {
		case total < cfg.Quorum:
			p.Status = domain.ProposalStatusRejected
			p.Rejection = domain.RejectionQuorumNotReached
		case mathx.MulGTE(p.VotesFor, 100, uint64(cfg.SupermajorityPercent), total):
			p.Status = domain.ProposalStatusExecuted
		default:
			p.Status = domain.ProposalStatusRejected
			p.Rejection = domain.RejectionVoteFailed
		}
		p.FinalizedAt = i64Ptr(o.now)
		m.ActiveProposal = nil

		if p.Status == domain.ProposalStatusExecuted {
			winning, err := token.GetMint(o.ctx, o.tx, m.MintFor(domain.SideOf(p.Outcome)))
			if err != nil {
				return err
			}
			m.Status = domain.MarketStatusResolved
			m.Outcome = boolPtr(p.Outcome)
			m.ResolvedAt = i64Ptr(o.now)
			m.WinningSupply = winning.Supply

			if err := token.Transfer(o.ctx, o.tx, cfg.GovernanceMint, escrow, p.Proposer, p.Stake); err != nil {
				return err
			}
			treasury, err := token.Balance(o.ctx, o.tx, cfg.Treasury, cfg.GovernanceMint)
			if err != nil {
				return err
			}
			reward = mathx.Min(cfg.ProposerReward, treasury)
			if err := token.Transfer(o.ctx, o.tx, cfg.GovernanceMint, cfg.Treasury, p.Proposer, reward); err != nil {
				return err
			}
		} else {
			if err := token.Transfer(o.ctx, o.tx, cfg.GovernanceMint, escrow, cfg.Treasury, p.Stake); err != nil {
				return err
			}
		}

		if err := saveProposal(o.ctx, o.tx, p); err != nil {
			return err
		}
		if err := saveMarket(o.ctx, o.tx, m); err != nil {
			return err
		}

		ev := &domain.Event{
			Actor:        signer,
			Market:       addrPtr(m.Address),
			Proposal:     addrPtr(proposal),
			Outcome:      boolPtr(p.Outcome),
			VotesFor:     p.VotesFor,
			VotesAgainst: p.VotesAgainst,
		}
		if p.Status == domain.ProposalStatusExecuted {
			ev.Type = domain.EventMarketResolved
			ev.Amount = reward
			ev.ProposerCorrect = boolPtr(true)
		} else {
			ev.Type = domain.EventProposalRejected
			ev.Amount = p.Stake
			ev.Rejection = p.Rejection
			if p.Rejection == domain.RejectionVoteFailed {
				ev.ProposerCorrect = boolPtr(false)
			}
		}
		o.emit(ev)

		res = &Resolution{Proposal: p, Market: m, Reward: reward}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.Stringer("market", res.Market.Address),
		zap.Stringer("proposal", proposal),
		zap.String("status", res.Proposal.Status.String()),
		zap.Uint64("votes_for", res.Proposal.VotesFor),
		zap.Uint64("votes_against", res.Proposal.VotesAgainst),
	}
	if res.Proposal.Rejection != domain.RejectionNone {
		fields = append(fields, zap.String("rejection", string(res.Proposal.Rejection)))
	}
	e.logger.Info("proposal finalized", fields...)
	return res, nil
}

// WithdrawVote returns the signer's escrowed vote weight once the proposal
// is finalized.
func (e *Engine) WithdrawVote(ctx context.Context, signer, proposal domain.Address) (uint64, error) {
	var amount uint64
	err := e.run(ctx, "withdraw_vote", func(o *op) error {
		p, err := loadProposal(o.ctx, o.tx, proposal)
		if err != nil {
			return err
		}
		if !p.Status.IsFinal() {
			return ErrProposalStillActive
		}
		v, err := e.loadVote(o.ctx, o.tx, proposal, signer)
		if err != nil {
			return err
		}
		if v == nil {
			return ErrNoVoteRecord
		}
		if v.Withdrawn {
			return ErrVoteAlreadyWithdrawn
		}
		cfg, err := e.loadConfig(o.ctx, o.tx)
		if err != nil {
			return err
		}

		escrow, _ := e.derive.VoteEscrow(proposal)
		if err := token.Transfer(o.ctx, o.tx, cfg.GovernanceMint, escrow, signer, v.Weight); err != nil {
			return err
		}
		v.Withdrawn = true
		if err := ledger.Save(o.ctx, o.tx, v.Address, domain.AccountKindVoteRecord, v); err != nil {
			return err
		}

		o.emit(&domain.Event{
			Type:     domain.EventVoteWithdrawn,
			Actor:    signer,
			Market:   addrPtr(p.Market),
			Proposal: addrPtr(proposal),
			Weight:   v.Weight,
		})
		amount = v.Weight
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}
