package domain

// PricePoint is the pool state of a market right after a bet.
type PricePoint struct {
	Market    Address `json:"market"`
	Timestamp int64   `json:"timestamp"` // unix seconds
	YesPool   uint64  `json:"yes_pool"`
	NoPool    uint64  `json:"no_pool"`
	Side      Side    `json:"side"`
	Amount    uint64  `json:"amount"`
}

// MarketStats aggregates event activity of one market.
type MarketStats struct {
	Market        Address `json:"market"`
	Bets          uint64  `json:"bets"`
	YesVolume     uint64  `json:"yes_volume"`
	NoVolume      uint64  `json:"no_volume"`
	Votes         uint64  `json:"votes"`
	Redemptions   uint64  `json:"redemptions"`
	RedeemedTotal uint64  `json:"redeemed_total"`
	FirstEventAt  int64   `json:"first_event_at"`
	LastEventAt   int64   `json:"last_event_at"`
}
