package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oraculo/internal/domain"
	"oraculo/internal/ledger"
	"oraculo/internal/storage/memory"
)

func TestInitializeConfig(t *testing.T) {
	h := newHarness(t, defaultParams())

	cfg, err := h.engine.GetConfig(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, h.authority, cfg.Authority)
	assert.Equal(t, uint64(100_000_000), cfg.MinLiquidity)
	assert.Equal(t, uint8(66), cfg.SupermajorityPercent)
	treasury, _ := h.engine.Deriver().Treasury()
	assert.Equal(t, treasury, cfg.Treasury)
	assert.Equal(t, domain.EventConfigInitialized, h.sink.last().Type)

	// Callable once
	p := defaultParams()
	p.GovernanceMint, p.CollateralMint = h.gov, h.usdc
	_, err = h.engine.InitializeConfig(h.ctx, addr(0x01), p)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, KindStateConflict, KindOf(err))
}

func TestInitializeConfig_InvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *InitConfigParams)
	}{
		{"supermajority zero", func(p *InitConfigParams) { p.SupermajorityPercent = 0 }},
		{"supermajority above 100", func(p *InitConfigParams) { p.SupermajorityPercent = 101 }},
		{"zero stake", func(p *InitConfigParams) { p.ProposalStake = 0 }},
		{"zero quorum", func(p *InitConfigParams) { p.Quorum = 0 }},
		{"min liquidity one", func(p *InitConfigParams) { p.MinLiquidity = 1 }},
		{"unknown governance mint", func(p *InitConfigParams) { p.GovernanceMint = addr(0xEE) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewAccountStore()
			engine := NewEngine(store, WithClock(ledger.NewManualClock(t0).Now))
			authority := addr(0xA0)

			gov, err := engine.InitializeMint(ctx, authority, "GOV", 6)
			require.NoError(t, err)
			usdc, err := engine.InitializeMint(ctx, authority, "USDC", 6)
			require.NoError(t, err)

			p := defaultParams()
			p.GovernanceMint, p.CollateralMint = gov.Address, usdc.Address
			tt.modify(&p)

			_, err = engine.InitializeConfig(ctx, authority, p)
			assert.ErrorIs(t, err, ErrInvalidParameter)
			assert.Equal(t, KindValidation, KindOf(err))

			_, err = engine.GetConfig(ctx)
			assert.ErrorIs(t, err, ErrConfigNotFound)
		})
	}
}

func TestInitializeConfig_SupermajorityHundredAllowed(t *testing.T) {
	p := defaultParams()
	p.SupermajorityPercent = 100
	h := newHarness(t, p)
	assert.Equal(t, uint8(100), h.cfg.SupermajorityPercent)
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t, defaultParams())

	quorum := uint64(50)
	_, err := h.engine.UpdateConfig(h.ctx, addr(0x01), ConfigUpdate{Quorum: &quorum})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, KindAuthorization, KindOf(err))

	bad := uint8(0)
	_, err = h.engine.UpdateConfig(h.ctx, h.authority, ConfigUpdate{Quorum: &quorum, SupermajorityPercent: &bad})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	cfg, err := h.engine.UpdateConfig(h.ctx, h.authority, ConfigUpdate{Quorum: &quorum})
	require.NoError(t, err)
	assert.Equal(t, quorum, cfg.Quorum)
	assert.Equal(t, uint8(66), cfg.SupermajorityPercent)
	assert.Equal(t, domain.EventConfigUpdated, h.sink.last().Type)

	got, err := h.engine.GetConfig(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, quorum, got.Quorum)
}

func TestMintTokens(t *testing.T) {
	h := newHarness(t, defaultParams())
	alice := addr(0x01)

	_, err := h.engine.MintTokens(h.ctx, alice, h.gov, alice, 10)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.engine.MintTokens(h.ctx, h.authority, h.gov, alice, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.engine.MintTokens(h.ctx, h.authority, addr(0xEE), alice, 10)
	assert.ErrorIs(t, err, ErrMintNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))

	h.fundGov(alice, 10)
	assert.Equal(t, uint64(10), h.balance(alice, h.gov))

	_, err = h.engine.MintTokens(h.ctx, h.authority, h.gov, alice, ^uint64(0))
	assert.ErrorIs(t, err, ErrMathOverflow)
	assert.Equal(t, KindArithmetic, KindOf(err))
}

func TestInitializeMint_Errors(t *testing.T) {
	h := newHarness(t, defaultParams())

	_, err := h.engine.InitializeMint(h.ctx, h.authority, "GOV", 6)
	assert.ErrorIs(t, err, ErrMintExists)

	_, err = h.engine.InitializeMint(h.ctx, h.authority, "", 6)
	assert.ErrorIs(t, err, ErrInvalidSymbol)

	_, err = h.engine.InitializeMint(h.ctx, h.authority, "ELEVENCHARS", 6)
	assert.ErrorIs(t, err, ErrInvalidSymbol)

	// Same symbol under another authority is a different mint
	m, err := h.engine.InitializeMint(h.ctx, addr(0x01), "GOV", 9)
	require.NoError(t, err)
	assert.NotEqual(t, h.gov, m.Address)
}

func TestErrorMatchingByCode(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &Error{Kind: KindStateConflict, Code: "AlreadyVoted", Msg: "other text"})
	assert.ErrorIs(t, wrapped, ErrAlreadyVoted)
	assert.NotErrorIs(t, wrapped, ErrVotingClosed)
}
