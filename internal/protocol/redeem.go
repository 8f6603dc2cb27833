package protocol

import (
	"context"
	"fmt"

	"oraculo/internal/domain"
	"oraculo/internal/mathx"
	"oraculo/internal/token"
)

// Redeem burns winning shares for a pro-rata part of the market liquidity:
// shares * totalLiquidity / winningSupply, capped so cumulative payouts
// never exceed totalLiquidity.
func (e *Engine) Redeem(ctx context.Context, signer, market domain.Address, shares uint64) (uint64, error) {
	if shares == 0 {
		return 0, ErrInvalidAmount
	}

	var payout uint64
	err := e.run(ctx, "redeem", func(o *op) error {
		m, err := loadMarket(o.ctx, o.tx, market)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketStatusResolved || m.Outcome == nil {
			return ErrMarketNotResolved
		}
		cfg, err := e.loadConfig(o.ctx, o.tx)
		if err != nil {
			return err
		}

		winning := m.MintFor(domain.SideOf(*m.Outcome))
		held, err := token.Balance(o.ctx, o.tx, signer, winning)
		if err != nil {
			return err
		}
		if held < shares {
			return fmt.Errorf("%w: hold %d shares, redeeming %d", ErrInsufficientFunds, held, shares)
		}

		payout, err = mathx.MulDiv(shares, m.TotalLiquidity, m.WinningSupply)
		if err != nil {
			return err
		}
		remaining, err := mathx.Sub(m.TotalLiquidity, m.RedeemedTotal)
		if err != nil {
			return err
		}
		payout = mathx.Min(payout, remaining)
		if payout == 0 {
			return ErrRedemptionTooSmall
		}

		if err := token.Burn(o.ctx, o.tx, winning, signer, shares); err != nil {
			return err
		}
		if err := token.Transfer(o.ctx, o.tx, cfg.CollateralMint, e.vaultOwner(market), signer, payout); err != nil {
			return err
		}
		m.RedeemedTotal += payout
		if err := saveMarket(o.ctx, o.tx, m); err != nil {
			return err
		}

		o.emit(&domain.Event{
			Type:   domain.EventWinningsClaimed,
			Actor:  signer,
			Market: addrPtr(market),
			Side:   domain.SideOf(*m.Outcome),
			Amount: payout,
			Shares: shares,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return payout, nil
}
