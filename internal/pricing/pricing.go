// Package pricing implements the constant-sum pool pricing of binary markets.
//
// The price of a side is the opposite pool's share of total liquidity:
// yesPrice = noPool / (yesPool + noPool). The NO price is derived as
// 1 - yesPrice so the pair always sums to exactly one.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"oraculo/internal/domain"
	"oraculo/internal/mathx"
)

// Precision is the number of decimal places prices are rounded to.
const Precision = 12

// ErrEmptyPool is returned when a pool a computation divides by is empty.
var ErrEmptyPool = errors.New("pricing: empty pool")

var half = decimal.New(5, -1)

// Prices returns the YES and NO prices of the given pools.
// Empty pools price both sides at 0.5.
func Prices(yesPool, noPool uint64) (yes, no decimal.Decimal) {
	total := decimal.NewFromUint64(yesPool).Add(decimal.NewFromUint64(noPool))
	if total.IsZero() {
		return half, half
	}
	yes = decimal.NewFromUint64(noPool).DivRound(total, Precision)
	return yes, decimal.NewFromInt(1).Sub(yes)
}

// PriceOf returns the price of one side.
func PriceOf(side domain.Side, yesPool, noPool uint64) decimal.Decimal {
	yes, no := Prices(yesPool, noPool)
	if side == domain.SideYes {
		return yes
	}
	return no
}

// SharesOut returns the outcome shares a bet of amount on side buys at the
// current (pre-bet) pools: amount * (yesPool + noPool) / oppositePool, floored.
func SharesOut(side domain.Side, yesPool, noPool, amount uint64) (uint64, error) {
	opposite := noPool
	if side == domain.SideNo {
		opposite = yesPool
	}
	if opposite == 0 {
		return 0, ErrEmptyPool
	}
	total, err := mathx.Add(yesPool, noPool)
	if err != nil {
		return 0, err
	}
	return mathx.MulDiv(amount, total, opposite)
}

// Quote is a market's price snapshot, optionally with a prospective bet.
type Quote struct {
	Market         domain.Address  `json:"market"`
	YesPool        uint64          `json:"yes_pool"`
	NoPool         uint64          `json:"no_pool"`
	TotalLiquidity uint64          `json:"total_liquidity"`
	YesPrice       decimal.Decimal `json:"yes_price"`
	NoPrice        decimal.Decimal `json:"no_price"`

	// Set when the quote prices a bet.
	Side          domain.Side      `json:"side,omitempty"`
	Amount        uint64           `json:"amount,omitempty"`
	Shares        uint64           `json:"shares,omitempty"`
	AfterYesPrice *decimal.Decimal `json:"after_yes_price,omitempty"`
	AfterNoPrice  *decimal.Decimal `json:"after_no_price,omitempty"`
}

// QuoteMarket prices a market's current pools.
func QuoteMarket(m *domain.Market) *Quote {
	yes, no := Prices(m.YesPool, m.NoPool)
	return &Quote{
		Market:         m.Address,
		YesPool:        m.YesPool,
		NoPool:         m.NoPool,
		TotalLiquidity: m.TotalLiquidity,
		YesPrice:       yes,
		NoPrice:        no,
	}
}

// QuoteBet prices a prospective bet without applying it.
func QuoteBet(m *domain.Market, side domain.Side, amount uint64) (*Quote, error) {
	if !side.IsValid() {
		return nil, fmt.Errorf("pricing: invalid side %q", side)
	}
	q := QuoteMarket(m)
	shares, err := SharesOut(side, m.YesPool, m.NoPool, amount)
	if err != nil {
		return nil, err
	}

	yesPool, noPool := m.YesPool, m.NoPool
	if side == domain.SideYes {
		yesPool, err = mathx.Add(yesPool, amount)
	} else {
		noPool, err = mathx.Add(noPool, amount)
	}
	if err != nil {
		return nil, err
	}
	afterYes, afterNo := Prices(yesPool, noPool)

	q.Side = side
	q.Amount = amount
	q.Shares = shares
	q.AfterYesPrice = &afterYes
	q.AfterNoPrice = &afterNo
	return q, nil
}
