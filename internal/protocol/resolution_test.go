package protocol

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oraculo/internal/domain"
)

func TestExecuteResolution_QuorumNotReached(t *testing.T) {
	h := newHarness(t, defaultParams())
	m := h.createMarket(addr(0x01), 100_000_000)
	proposer := addr(0xB0)

	p := h.propose(m, proposer, true)
	assert.Equal(t, uint64(0), h.balance(proposer, h.gov), "stake moves to escrow")

	h.vote(addr(0xC1), p, 7_000, true)
	h.vote(addr(0xC2), p, 2_000, false)
	h.closeVoting(p)

	res, err := h.engine.ExecuteResolution(h.ctx, addr(0xEE), p.Address)
	require.NoError(t, err)
	assert.False(t, res.Executed())
	assert.Equal(t, domain.ProposalStatusRejected, res.Proposal.Status)
	assert.Equal(t, domain.RejectionQuorumNotReached, res.Proposal.Rejection)
	assert.Equal(t, uint64(0), res.Reward)

	assert.Equal(t, uint64(0), h.balance(proposer, h.gov))
	assert.Equal(t, uint64(1_000), h.balance(h.cfg.Treasury, h.gov), "stake forfeited")

	stored := h.market(m.Address)
	assert.Equal(t, domain.MarketStatusActive, stored.Status)
	assert.Nil(t, stored.ActiveProposal)
	assert.Nil(t, stored.Outcome)

	ev := h.sink.last()
	assert.Equal(t, domain.EventProposalRejected, ev.Type)
	assert.Equal(t, domain.RejectionQuorumNotReached, ev.Rejection)
	assert.Nil(t, ev.ProposerCorrect)
}

func TestExecuteResolution_Executed(t *testing.T) {
	h := newHarness(t, defaultParams())
	m := h.createMarket(addr(0x01), 200_000_000)
	h.bet(addr(0x02), m, domain.SideYes, 50_000_000)
	h.fundGov(h.cfg.Treasury, 10_000)
	proposer := addr(0xB0)

	p := h.propose(m, proposer, true)
	h.vote(addr(0xC1), p, 7_000, true)
	h.vote(addr(0xC2), p, 3_000, false)
	h.closeVoting(p)

	res, err := h.engine.ExecuteResolution(h.ctx, addr(0xEE), p.Address)
	require.NoError(t, err)
	require.True(t, res.Executed())
	assert.Equal(t, uint64(500), res.Reward)

	assert.Equal(t, uint64(1_500), h.balance(proposer, h.gov))
	assert.Equal(t, uint64(9_500), h.balance(h.cfg.Treasury, h.gov))

	stored := h.market(m.Address)
	assert.Equal(t, domain.MarketStatusResolved, stored.Status)
	require.NotNil(t, stored.Outcome)
	assert.True(t, *stored.Outcome)
	require.NotNil(t, stored.ResolvedAt)
	assert.Equal(t, p.VotingEndsAt, *stored.ResolvedAt)
	assert.Equal(t, uint64(100_000_000), stored.WinningSupply)
	assert.Nil(t, stored.ActiveProposal)

	ev := h.sink.last()
	assert.Equal(t, domain.EventMarketResolved, ev.Type)
	assert.Equal(t, uint64(500), ev.Amount)
	require.NotNil(t, ev.ProposerCorrect)
	assert.True(t, *ev.ProposerCorrect)
}

func TestExecuteResolution_RewardCappedAtTreasury(t *testing.T) {
	h := newHarness(t, defaultParams())
	m := h.createMarket(addr(0x01), 100_000_000)
	h.fundGov(h.cfg.Treasury, 300)
	proposer := addr(0xB0)

	p := h.propose(m, proposer, false)
	h.vote(addr(0xC1), p, 10_000, true)
	h.closeVoting(p)

	res, err := h.engine.ExecuteResolution(h.ctx, addr(0xEE), p.Address)
	require.NoError(t, err)
	require.True(t, res.Executed())
	assert.Equal(t, uint64(300), res.Reward)
	assert.Equal(t, uint64(1_300), h.balance(proposer, h.gov))
	assert.Equal(t, uint64(0), h.balance(h.cfg.Treasury, h.gov))
	assert.False(t, *h.market(m.Address).Outcome)
}

func TestExecuteResolution_QuorumBoundary(t *testing.T) {
	tests := []struct {
		name     string
		weight   uint64
		executed bool
	}{
		{"one below quorum", 9_999, false},
		{"exactly quorum", 10_000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, defaultParams())
			m := h.createMarket(addr(0x01), 100_000_000)
			p := h.propose(m, addr(0xB0), true)
			h.vote(addr(0xC1), p, tt.weight, true)
			h.closeVoting(p)

			res, err := h.engine.ExecuteResolution(h.ctx, addr(0xEE), p.Address)
			require.NoError(t, err)
			assert.Equal(t, tt.executed, res.Executed())
			if !tt.executed {
				assert.Equal(t, domain.RejectionQuorumNotReached, res.Proposal.Rejection)
			}
		})
	}
}

func TestExecuteResolution_SupermajorityBoundary(t *testing.T) {
	params := defaultParams()
	params.Quorum = 100

	tests := []struct {
		name     string
		forVotes uint64
		against  uint64
		executed bool
	}{
		{"exactly supermajority", 66, 34, true},
		{"just below supermajority", 65, 35, false},
		{"unanimous", 100, 0, true},
		{"unanimous against", 0, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, params)
			m := h.createMarket(addr(0x01), 100_000_000)
			p := h.propose(m, addr(0xB0), true)
			if tt.forVotes > 0 {
				h.vote(addr(0xC1), p, tt.forVotes, true)
			}
			if tt.against > 0 {
				h.vote(addr(0xC2), p, tt.against, false)
			}
			h.closeVoting(p)

			res, err := h.engine.ExecuteResolution(h.ctx, addr(0xEE), p.Address)
			require.NoError(t, err)
			assert.Equal(t, tt.executed, res.Executed())
			if !tt.executed {
				assert.Equal(t, domain.RejectionVoteFailed, res.Proposal.Rejection)
				assert.Equal(t, uint64(1_000), h.balance(h.cfg.Treasury, h.gov), "stake slashed")
			}
		})
	}
}

func TestExecuteResolution_Errors(t *testing.T) {
	h := newHarness(t, defaultParams())
	m := h.createMarket(addr(0x01), 100_000_000)
	proposer := addr(0xB0)
	p := h.propose(m, proposer, true)
	h.vote(addr(0xC1), p, 10_000, true)

	h.clock.Set(p.VotingEndsAt - 1)
	_, err := h.engine.ExecuteResolution(h.ctx, addr(0xEE), p.Address)
	assert.ErrorIs(t, err, ErrVotingNotEnded)

	_, err = h.engine.ExecuteResolution(h.ctx, addr(0xEE), addr(0x77))
	assert.ErrorIs(t, err, ErrProposalNotFound)

	h.closeVoting(p)
	_, err = h.engine.ExecuteResolution(h.ctx, addr(0xEE), p.Address)
	require.NoError(t, err)
	paid := h.balance(proposer, h.gov)

	_, err = h.engine.ExecuteResolution(h.ctx, addr(0xEE), p.Address)
	assert.ErrorIs(t, err, ErrProposalNotActive)
	assert.Equal(t, paid, h.balance(proposer, h.gov), "no double payout")
}

func TestProposeOutcome_Errors(t *testing.T) {
	h := newHarness(t, defaultParams())
	m := h.createMarket(addr(0x01), 100_000_000)
	proposer := addr(0xB0)
	h.fundGov(proposer, 999)

	_, err := h.engine.ProposeOutcome(h.ctx, proposer, m.Address, true, "")
	assert.ErrorIs(t, err, ErrMarketNotEnded)

	h.clock.Set(m.EndTime)
	_, err = h.engine.ProposeOutcome(h.ctx, proposer, m.Address, true, "")
	assert.ErrorIs(t, err, ErrInsufficientStake)
	assert.Equal(t, KindAuthorization, KindOf(err))
	assert.Equal(t, uint64(999), h.balance(proposer, h.gov))

	_, err = h.engine.ProposeOutcome(h.ctx, proposer, m.Address, true, strings.Repeat("e", 501))
	assert.ErrorIs(t, err, ErrEvidenceTooLong)

	_, err = h.engine.ProposeOutcome(h.ctx, proposer, addr(0x77), true, "")
	assert.ErrorIs(t, err, ErrMarketNotFound)

	p := h.propose(m, addr(0xB1), true)
	assert.Equal(t, m.EndTime+int64((48*time.Hour).Seconds()), p.VotingEndsAt)
	assert.Equal(t, uint32(0), p.Index)

	h.fundGov(proposer, 1)
	_, err = h.engine.ProposeOutcome(h.ctx, proposer, m.Address, false, "")
	assert.ErrorIs(t, err, ErrProposalAlreadyActive)

	// An elapsed proposal still blocks until it is executed.
	h.clock.Set(p.VotingEndsAt + 3600)
	_, err = h.engine.ProposeOutcome(h.ctx, proposer, m.Address, false, "")
	assert.ErrorIs(t, err, ErrProposalAlreadyActive)
}

func TestProposeOutcome_CancelledMarket(t *testing.T) {
	h := newHarness(t, defaultParams())
	m := h.createMarket(addr(0x01), 100_000_000)
	_, err := h.engine.CancelMarket(h.ctx, h.authority, m.Address)
	require.NoError(t, err)

	h.clock.Set(m.EndTime)
	h.fundGov(addr(0xB0), 1_000)
	_, err = h.engine.ProposeOutcome(h.ctx, addr(0xB0), m.Address, true, "")
	assert.ErrorIs(t, err, ErrMarketNotActive)
}

func TestProposeOutcome_AfterRejection(t *testing.T) {
	h := newHarness(t, defaultParams())
	m := h.createMarket(addr(0x01), 100_000_000)

	first := h.propose(m, addr(0xB0), true)
	h.closeVoting(first)
	res, err := h.engine.ExecuteResolution(h.ctx, addr(0xEE), first.Address)
	require.NoError(t, err)
	require.False(t, res.Executed())

	second := h.propose(m, addr(0xB1), false)
	assert.Equal(t, uint32(1), second.Index)
	assert.NotEqual(t, first.Address, second.Address)

	proposals, err := h.engine.ListProposals(h.ctx, m.Address)
	require.NoError(t, err)
	require.Len(t, proposals, 2)
	assert.Equal(t, domain.ProposalStatusRejected, proposals[0].Status)
	assert.Equal(t, domain.ProposalStatusActive, proposals[1].Status)

	stored := h.market(m.Address)
	require.NotNil(t, stored.ActiveProposal)
	assert.Equal(t, second.Address, *stored.ActiveProposal)
}

func TestCastVote(t *testing.T) {
	h := newHarness(t, defaultParams())
	m := h.createMarket(addr(0x01), 100_000_000)
	p := h.propose(m, addr(0xB0), true)
	voter := addr(0xC1)
	h.fundGov(voter, 4_000)

	v, err := h.engine.CastVote(h.ctx, voter, p.Address, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(4_000), v.Weight)
	assert.False(t, v.Support)
	assert.Equal(t, uint64(0), h.balance(voter, h.gov), "weight moves to escrow")

	stored, err := h.engine.GetProposal(h.ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stored.VotesFor)
	assert.Equal(t, uint64(4_000), stored.VotesAgainst)

	got, err := h.engine.GetVote(h.ctx, p.Address, voter)
	require.NoError(t, err)
	assert.Equal(t, v.Address, got.Address)

	ev := h.sink.last()
	assert.Equal(t, domain.EventVoteCast, ev.Type)
	require.NotNil(t, ev.Support)
	assert.False(t, *ev.Support)

	h.fundGov(voter, 1_000)
	_, err = h.engine.CastVote(h.ctx, voter, p.Address, true)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	_, err = h.engine.CastVote(h.ctx, addr(0xC2), p.Address, true)
	assert.ErrorIs(t, err, ErrZeroWeight)

	_, err = h.engine.GetVote(h.ctx, p.Address, addr(0xC2))
	assert.ErrorIs(t, err, ErrNoVoteRecord)

	h.fundGov(addr(0xC3), 10)
	h.clock.Set(p.VotingEndsAt)
	_, err = h.engine.CastVote(h.ctx, addr(0xC3), p.Address, true)
	assert.ErrorIs(t, err, ErrVotingClosed)
}

func TestCastVote_ConcurrentDuplicates(t *testing.T) {
	h := newHarness(t, defaultParams())
	m := h.createMarket(addr(0x01), 100_000_000)
	p := h.propose(m, addr(0xB0), true)
	voter := addr(0xC1)
	h.fundGov(voter, 100)

	const attempts = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.CastVote(h.ctx, voter, p.Address, true)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyVoted)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	stored, err := h.engine.GetProposal(h.ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), stored.VotesFor)
}

func TestWithdrawVote(t *testing.T) {
	h := newHarness(t, defaultParams())
	m := h.createMarket(addr(0x01), 100_000_000)
	p := h.propose(m, addr(0xB0), true)
	voter := addr(0xC1)
	h.vote(voter, p, 12_000, true)

	_, err := h.engine.WithdrawVote(h.ctx, voter, p.Address)
	assert.ErrorIs(t, err, ErrProposalStillActive)

	h.closeVoting(p)
	_, err = h.engine.ExecuteResolution(h.ctx, addr(0xEE), p.Address)
	require.NoError(t, err)

	got, err := h.engine.WithdrawVote(h.ctx, voter, p.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(12_000), got)
	assert.Equal(t, uint64(12_000), h.balance(voter, h.gov))
	assert.Equal(t, domain.EventVoteWithdrawn, h.sink.last().Type)

	_, err = h.engine.WithdrawVote(h.ctx, voter, p.Address)
	assert.ErrorIs(t, err, ErrVoteAlreadyWithdrawn)
	assert.Equal(t, uint64(12_000), h.balance(voter, h.gov))

	_, err = h.engine.WithdrawVote(h.ctx, addr(0xC9), p.Address)
	assert.ErrorIs(t, err, ErrNoVoteRecord)
}

func TestListDueProposals(t *testing.T) {
	h := newHarness(t, defaultParams())
	m1 := h.createMarket(addr(0x01), 100_000_000)
	m2 := h.createMarket(addr(0x02), 100_000_000)

	p1 := h.propose(m1, addr(0xB0), true)
	h.advance(time.Hour)
	p2 := h.propose(m2, addr(0xB1), false)

	due, err := h.engine.ListDueProposals(h.ctx, p1.VotingEndsAt-1)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = h.engine.ListDueProposals(h.ctx, p1.VotingEndsAt)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, p1.Address, due[0].Address)

	due, err = h.engine.ListDueProposals(h.ctx, p2.VotingEndsAt)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, p1.Address, due[0].Address)
	assert.Equal(t, p2.Address, due[1].Address)

	h.clock.Set(p2.VotingEndsAt)
	_, err = h.engine.ExecuteResolution(h.ctx, addr(0xEE), p1.Address)
	require.NoError(t, err)

	due, err = h.engine.ListDueProposals(h.ctx, p2.VotingEndsAt)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, p2.Address, due[0].Address)
}
