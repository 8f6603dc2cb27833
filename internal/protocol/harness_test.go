package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oraculo/internal/domain"
	"oraculo/internal/ledger"
	"oraculo/internal/storage"
	"oraculo/internal/storage/memory"
)

const t0 = int64(1_700_000_000)

type recordingSink struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (s *recordingSink) Publish(_ context.Context, events []*domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func (s *recordingSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func (s *recordingSink) last() *domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	engine    *Engine
	store     *memory.AccountStore
	clock     *ledger.ManualClock
	sink      *recordingSink
	authority domain.Address
	gov       domain.Address
	usdc      domain.Address
	cfg       *domain.Config
}

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	a[31] = b
	return a
}

func defaultParams() InitConfigParams {
	return InitConfigParams{
		MinLiquidity:         100_000_000,
		ProposalStake:        1_000,
		Quorum:               10_000,
		SupermajorityPercent: 66,
		ProposerReward:       500,
	}
}

func newHarness(t *testing.T, p InitConfigParams) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		store:     memory.NewAccountStore(),
		clock:     ledger.NewManualClock(t0),
		sink:      &recordingSink{},
		authority: addr(0xA0),
	}
	h.engine = NewEngine(h.store, WithClock(h.clock.Now), WithEventSink(h.sink))

	gov, err := h.engine.InitializeMint(h.ctx, h.authority, "GOV", 6)
	require.NoError(t, err)
	usdc, err := h.engine.InitializeMint(h.ctx, h.authority, "USDC", 6)
	require.NoError(t, err)
	h.gov, h.usdc = gov.Address, usdc.Address

	p.GovernanceMint = h.gov
	p.CollateralMint = h.usdc
	h.cfg, err = h.engine.InitializeConfig(h.ctx, h.authority, p)
	require.NoError(t, err)
	return h
}

func (h *harness) fundUSDC(owner domain.Address, amount uint64) {
	h.t.Helper()
	_, err := h.engine.MintTokens(h.ctx, h.authority, h.usdc, owner, amount)
	require.NoError(h.t, err)
}

func (h *harness) fundGov(owner domain.Address, amount uint64) {
	h.t.Helper()
	_, err := h.engine.MintTokens(h.ctx, h.authority, h.gov, owner, amount)
	require.NoError(h.t, err)
}

func (h *harness) balance(owner, mint domain.Address) uint64 {
	h.t.Helper()
	b, err := h.engine.Balance(h.ctx, owner, mint)
	require.NoError(h.t, err)
	return b
}

func (h *harness) vaultBalance(m *domain.Market) uint64 {
	return h.balance(h.engine.vaultOwner(m.Address), h.usdc)
}

func (h *harness) market(addr domain.Address) *domain.Market {
	h.t.Helper()
	m, err := h.engine.GetMarket(h.ctx, addr)
	require.NoError(h.t, err)
	return m
}

func (h *harness) marketParams(liquidity uint64) CreateMarketParams {
	return CreateMarketParams{
		Question:         "Will BTC close above 100k on Friday?",
		Description:      "Resolves YES if the daily close on the reference exchange is above 100,000 USD.",
		Category:         "crypto",
		EndTime:          h.engine.Now() + 3600,
		ResolutionSource: "https://example.com/btc-close",
		InitialLiquidity: liquidity,
	}
}

// createMarket funds creator and opens a market with liquidity.
func (h *harness) createMarket(creator domain.Address, liquidity uint64) *domain.Market {
	h.t.Helper()
	h.fundUSDC(creator, liquidity)
	m, err := h.engine.CreateMarket(h.ctx, creator, h.marketParams(liquidity))
	require.NoError(h.t, err)
	return m
}

func (h *harness) bet(bettor domain.Address, m *domain.Market, side domain.Side, amount uint64) *BetResult {
	h.t.Helper()
	h.fundUSDC(bettor, amount)
	res, err := h.engine.PlaceBet(h.ctx, bettor, m.Address, side, amount)
	require.NoError(h.t, err)
	return res
}

// propose ends the market if needed, funds the proposer with the stake and
// opens a proposal.
func (h *harness) propose(m *domain.Market, proposer domain.Address, outcome bool) *domain.Proposal {
	h.t.Helper()
	if h.engine.Now() < m.EndTime {
		h.clock.Set(m.EndTime)
	}
	cfg, err := h.engine.GetConfig(h.ctx)
	require.NoError(h.t, err)
	h.fundGov(proposer, cfg.ProposalStake)
	p, err := h.engine.ProposeOutcome(h.ctx, proposer, m.Address, outcome, "final close 101,250")
	require.NoError(h.t, err)
	return p
}

func (h *harness) vote(voter domain.Address, p *domain.Proposal, weight uint64, support bool) {
	h.t.Helper()
	h.fundGov(voter, weight)
	_, err := h.engine.CastVote(h.ctx, voter, p.Address, support)
	require.NoError(h.t, err)
}

func (h *harness) closeVoting(p *domain.Proposal) {
	h.clock.Set(p.VotingEndsAt)
}

// resolve runs a full proposal that executes with outcome.
func (h *harness) resolve(m *domain.Market, outcome bool) *Resolution {
	h.t.Helper()
	p := h.propose(m, addr(0xB0), outcome)
	h.vote(addr(0xB1), p, h.cfg.Quorum, true)
	h.closeVoting(p)
	res, err := h.engine.ExecuteResolution(h.ctx, addr(0xB2), p.Address)
	require.NoError(h.t, err)
	require.True(h.t, res.Executed())
	return res
}

// tamper rewrites a market outside the protocol.
func (h *harness) tamper(market domain.Address, fn func(m *domain.Market)) {
	h.t.Helper()
	err := h.store.Update(h.ctx, func(tx storage.Tx) error {
		m, err := loadMarket(h.ctx, tx, market)
		if err != nil {
			return err
		}
		fn(m)
		return saveMarket(h.ctx, tx, m)
	})
	require.NoError(h.t, err)
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
}
