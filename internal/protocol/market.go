package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oraculo/internal/domain"
	"oraculo/internal/ledger"
	"oraculo/internal/mathx"
	"oraculo/internal/pda"
	"oraculo/internal/pricing"
	"oraculo/internal/storage"
	"oraculo/internal/token"
)

// CreateMarketParams are the inputs of CreateMarket.
type CreateMarketParams struct {
	Question         string `json:"question"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	EndTime          int64  `json:"end_time"` // unix seconds
	ResolutionSource string `json:"resolution_source"`
	InitialLiquidity uint64 `json:"initial_liquidity"`
}

// BetResult is the outcome of a placed bet.
type BetResult struct {
	Market   *domain.Market  `json:"market"`
	Side     domain.Side     `json:"side"`
	Amount   uint64          `json:"amount"`
	Shares   uint64          `json:"shares"`
	YesPrice decimal.Decimal `json:"yes_price"`
	NoPrice  decimal.Decimal `json:"no_price"`
}

func validateMarketText(p CreateMarketParams) (domain.Category, error) {
	switch {
	case len(p.Question) == 0:
		return "", ErrEmptyQuestion
	case len(p.Question) > MaxQuestionLen:
		return "", ErrQuestionTooLong
	case len(p.Description) == 0:
		return "", ErrEmptyDescription
	case len(p.Description) > MaxDescriptionLen:
		return "", ErrDescriptionTooLong
	case len(p.ResolutionSource) > MaxSourceLen:
		return "", ErrSourceTooLong
	}
	cat, ok := domain.ParseCategory(p.Category)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, p.Category)
	}
	return cat, nil
}

// vaultOwner returns the PDA that owns a market's collateral.
func (e *Engine) vaultOwner(market domain.Address) domain.Address {
	owner, _ := e.derive.VaultAuthority(market)
	return owner
}

// CreateMarket opens a market, moving the creator's initial liquidity into
// the market vault split evenly between the pools. For odd liquidity the
// NO pool receives the extra unit.
func (e *Engine) CreateMarket(ctx context.Context, signer domain.Address, p CreateMarketParams) (*domain.Market, error) {
	category, err := validateMarketText(p)
	if err != nil {
		return nil, err
	}

	var out *domain.Market
	err = e.run(ctx, "create_market", func(o *op) error {
		if p.EndTime <= o.now {
			return ErrInvalidEndTime
		}
		if p.EndTime-o.now > int64(e.params.MaxMarketDuration.Seconds()) {
			return ErrEndTimeTooFar
		}

		cfg, err := e.loadConfig(o.ctx, o.tx)
		if err != nil {
			return err
		}
		if p.InitialLiquidity < cfg.MinLiquidity {
			return fmt.Errorf("%w: %d < %d", ErrLiquidityTooLow, p.InitialLiquidity, cfg.MinLiquidity)
		}
		collateral, err := token.GetMint(o.ctx, o.tx, cfg.CollateralMint)
		if err != nil {
			return err
		}

		addr, bump := e.derive.Market(signer, o.now)
		yesMint, _ := e.derive.YesMint(addr)
		noMint, _ := e.derive.NoMint(addr)
		vaultOwner := e.vaultOwner(addr)
		yesPool := p.InitialLiquidity / 2

		m := &domain.Market{
			Address:          addr,
			Creator:          signer,
			Question:         p.Question,
			Description:      p.Description,
			Category:         category,
			CreatedAt:        o.now,
			EndTime:          p.EndTime,
			ResolutionTime:   p.EndTime + int64(e.params.ResolutionDelay.Seconds()),
			ResolutionSource: p.ResolutionSource,
			Status:           domain.MarketStatusActive,
			TotalLiquidity:   p.InitialLiquidity,
			YesPool:          yesPool,
			NoPool:           p.InitialLiquidity - yesPool,
			CreatorLiquidity: p.InitialLiquidity,
			Vault:            pda.TokenAccount(vaultOwner, cfg.CollateralMint),
			YesMint:          yesMint,
			NoMint:           noMint,
			Bump:             bump,
		}
		if err := ledger.Create(o.ctx, o.tx, addr, domain.AccountKindMarket, m); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return ErrMarketExists
			}
			return err
		}

		if err := token.Transfer(o.ctx, o.tx, cfg.CollateralMint, signer, vaultOwner, p.InitialLiquidity); err != nil {
			return err
		}
		for _, mint := range []domain.Address{yesMint, noMint} {
			if _, err := token.InitializeMint(o.ctx, o.tx, mint, addr, collateral.Decimals); err != nil {
				return err
			}
		}

		cfg.TotalMarkets, err = mathx.Add(cfg.TotalMarkets, 1)
		if err != nil {
			return err
		}
		if err := e.saveConfig(o.ctx, o.tx, cfg); err != nil {
			return err
		}

		o.emit(&domain.Event{
			Type:    domain.EventMarketCreated,
			Actor:   signer,
			Market:  addrPtr(addr),
			Amount:  p.InitialLiquidity,
			YesPool: m.YesPool,
			NoPool:  m.NoPool,
		})
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("market created",
		zap.Stringer("market", out.Address),
		zap.Stringer("creator", signer),
		zap.String("category", out.Category.String()),
		zap.Int64("end_time", out.EndTime),
		zap.Uint64("liquidity", out.TotalLiquidity),
	)
	return out, nil
}

// PlaceBet buys outcome shares of side for amount collateral. Shares are
// priced on the pre-bet pools.
func (e *Engine) PlaceBet(ctx context.Context, signer, market domain.Address, side domain.Side, amount uint64) (*BetResult, error) {
	switch {
	case !side.IsValid():
		return nil, ErrInvalidSide
	case amount == 0:
		return nil, ErrInvalidAmount
	case amount < e.params.MinBet:
		return nil, fmt.Errorf("%w: %d < %d", ErrBetTooSmall, amount, e.params.MinBet)
	}

	var res *BetResult
	err := e.run(ctx, "place_bet", func(o *op) error {
		m, err := loadMarket(o.ctx, o.tx, market)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketStatusActive {
			return ErrMarketNotActive
		}
		if o.now >= m.EndTime {
			return ErrMarketEnded
		}
		cfg, err := e.loadConfig(o.ctx, o.tx)
		if err != nil {
			return err
		}

		shares, err := pricing.SharesOut(side, m.YesPool, m.NoPool, amount)
		if err != nil {
			return err
		}

		if side == domain.SideYes {
			m.YesPool, err = mathx.Add(m.YesPool, amount)
		} else {
			m.NoPool, err = mathx.Add(m.NoPool, amount)
		}
		if err != nil {
			return err
		}
		if m.TotalLiquidity, err = mathx.Add(m.TotalLiquidity, amount); err != nil {
			return err
		}
		if m.Volume, err = mathx.Add(m.Volume, amount); err != nil {
			return err
		}
		if cfg.TotalVolume, err = mathx.Add(cfg.TotalVolume, amount); err != nil {
			return err
		}

		if err := token.Transfer(o.ctx, o.tx, cfg.CollateralMint, signer, e.vaultOwner(market), amount); err != nil {
			return err
		}
		if _, err := token.MintTo(o.ctx, o.tx, m.MintFor(side), market, signer, shares); err != nil {
			return err
		}

		pos, err := e.loadPosition(o.ctx, o.tx, market, signer)
		if err != nil {
			return err
		}
		if pos == nil {
			addr, _ := e.derive.Position(market, signer)
			pos = &domain.Position{Address: addr, Market: market, Owner: signer}
			m.UniqueBettors++
		}
		if pos.Deposited, err = mathx.Add(pos.Deposited, amount); err != nil {
			return err
		}
		if side == domain.SideYes {
			pos.YesShares, err = mathx.Add(pos.YesShares, shares)
		} else {
			pos.NoShares, err = mathx.Add(pos.NoShares, shares)
		}
		if err != nil {
			return err
		}
		pos.Bets++

		if err := savePosition(o.ctx, o.tx, pos); err != nil {
			return err
		}
		if err := saveMarket(o.ctx, o.tx, m); err != nil {
			return err
		}
		if err := e.saveConfig(o.ctx, o.tx, cfg); err != nil {
			return err
		}

		o.emit(&domain.Event{
			Type:    domain.EventBetPlaced,
			Actor:   signer,
			Market:  addrPtr(market),
			Side:    side,
			Amount:  amount,
			Shares:  shares,
			YesPool: m.YesPool,
			NoPool:  m.NoPool,
		})

		yes, no := pricing.Prices(m.YesPool, m.NoPool)
		res = &BetResult{Market: m, Side: side, Amount: amount, Shares: shares, YesPrice: yes, NoPrice: no}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CancelMarket cancels an active market with no open proposal.
// Only the config authority may call it.
func (e *Engine) CancelMarket(ctx context.Context, signer, market domain.Address) (*domain.Market, error) {
	var out *domain.Market
	err := e.run(ctx, "cancel_market", func(o *op) error {
		cfg, err := e.loadConfig(o.ctx, o.tx)
		if err != nil {
			return err
		}
		if cfg.Authority != signer {
			return ErrUnauthorized
		}
		m, err := loadMarket(o.ctx, o.tx, market)
		if err != nil {
			return err
		}
		if !m.Status.CanTransitionTo(domain.MarketStatusCancelled) {
			return ErrMarketNotActive
		}
		if m.ActiveProposal != nil {
			return ErrProposalAlreadyActive
		}

		m.Status = domain.MarketStatusCancelled
		if err := saveMarket(o.ctx, o.tx, m); err != nil {
			return err
		}
		o.emit(&domain.Event{Type: domain.EventMarketCancelled, Actor: signer, Market: addrPtr(market)})
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("market cancelled", zap.Stringer("market", market))
	return out, nil
}

// ClaimRefund returns the signer's deposits on a refundable market, plus
// the creator liquidity when the signer is the creator. Each part is paid
// once. A market is refundable when it was cancelled, or when it resolved
// to a side nobody holds shares of.
func (e *Engine) ClaimRefund(ctx context.Context, signer, market domain.Address) (uint64, error) {
	var refund uint64
	err := e.run(ctx, "claim_refund", func(o *op) error {
		refund = 0
		m, err := loadMarket(o.ctx, o.tx, market)
		if err != nil {
			return err
		}
		if !refundable(m) {
			return ErrMarketNotCancelled
		}
		cfg, err := e.loadConfig(o.ctx, o.tx)
		if err != nil {
			return err
		}

		pos, err := e.loadPosition(o.ctx, o.tx, market, signer)
		if err != nil {
			return err
		}
		if pos != nil && !pos.Refunded {
			refund = pos.Deposited
			pos.Refunded = true
			if err := savePosition(o.ctx, o.tx, pos); err != nil {
				return err
			}
		}
		if signer == m.Creator && !m.CreatorRefunded {
			if refund, err = mathx.Add(refund, m.CreatorLiquidity); err != nil {
				return err
			}
			m.CreatorRefunded = true
		}
		if refund == 0 {
			return ErrNothingToRefund
		}

		if m.RedeemedTotal, err = mathx.Add(m.RedeemedTotal, refund); err != nil {
			return err
		}
		if m.RedeemedTotal > m.TotalLiquidity {
			return ErrMathOverflow
		}
		if err := token.Transfer(o.ctx, o.tx, cfg.CollateralMint, e.vaultOwner(market), signer, refund); err != nil {
			return err
		}
		if err := saveMarket(o.ctx, o.tx, m); err != nil {
			return err
		}

		o.emit(&domain.Event{Type: domain.EventRefundClaimed, Actor: signer, Market: addrPtr(market), Amount: refund})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return refund, nil
}

// refundable reports whether the vault can only be unwound by refunds.
// A resolved market with no winning supply has no one to redeem to.
func refundable(m *domain.Market) bool {
	switch m.Status {
	case domain.MarketStatusCancelled:
		return true
	case domain.MarketStatusResolved:
		return m.WinningSupply == 0
	default:
		return false
	}
}
