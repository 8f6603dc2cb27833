package domain

import "strings"

// MarketStatus is the lifecycle state of a market.
// Transitions are Active -> Resolved and Active -> Cancelled only.
type MarketStatus string

const (
	MarketStatusActive    MarketStatus = "ACTIVE"
	MarketStatusResolved  MarketStatus = "RESOLVED"
	MarketStatusCancelled MarketStatus = "CANCELLED"
)

// String returns the string representation of MarketStatus.
func (s MarketStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s MarketStatus) IsValid() bool {
	switch s {
	case MarketStatusActive, MarketStatusResolved, MarketStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s MarketStatus) CanTransitionTo(next MarketStatus) bool {
	switch s {
	case MarketStatusActive:
		return next == MarketStatusResolved || next == MarketStatusCancelled
	case MarketStatusResolved, MarketStatusCancelled:
		return false
	}
	return false
}

// Category classifies a market.
type Category string

const (
	CategoryCrypto        Category = "CRYPTO"
	CategorySports        Category = "SPORTS"
	CategoryPolitics      Category = "POLITICS"
	CategoryEntertainment Category = "ENTERTAINMENT"
	CategoryTechnology    Category = "TECHNOLOGY"
	CategoryOther         Category = "OTHER"
)

// String returns the string representation of Category.
func (c Category) String() string {
	return string(c)
}

// IsValid checks if the category is a valid value.
func (c Category) IsValid() bool {
	switch c {
	case CategoryCrypto, CategorySports, CategoryPolitics, CategoryEntertainment,
		CategoryTechnology, CategoryOther:
		return true
	}
	return false
}

// ParseCategory normalizes user input. An empty string maps to CategoryOther.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CategoryOther, true
	}
	c := Category(strings.ToUpper(s))
	return c, c.IsValid()
}

// Side is the outcome a bet or share refers to.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// String returns the string representation of Side.
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the side is a valid value.
func (s Side) IsValid() bool {
	return s == SideYes || s == SideNo
}

// SideOf maps a boolean outcome to its side.
func SideOf(outcome bool) Side {
	if outcome {
		return SideYes
	}
	return SideNo
}

// Market is a binary prediction market with constant-sum pools.
type Market struct {
	Address          Address      `json:"address"`
	Creator          Address      `json:"creator"`
	Question         string       `json:"question"`
	Description      string       `json:"description"`
	Category         Category     `json:"category"`
	CreatedAt        int64        `json:"created_at"`      // unix seconds
	EndTime          int64        `json:"end_time"`        // unix seconds
	ResolutionTime   int64        `json:"resolution_time"` // unix seconds
	ResolutionSource string       `json:"resolution_source"`
	Status           MarketStatus `json:"status"`
	Outcome          *bool        `json:"outcome"`
	ResolvedAt       *int64       `json:"resolved_at"`
	TotalLiquidity   uint64       `json:"total_liquidity"`
	YesPool          uint64       `json:"yes_pool"`
	NoPool           uint64       `json:"no_pool"`
	CreatorLiquidity uint64       `json:"creator_liquidity"`
	Vault            Address      `json:"vault"`
	YesMint          Address      `json:"yes_mint"`
	NoMint           Address      `json:"no_mint"`
	Volume           uint64       `json:"volume"`
	UniqueBettors    uint64       `json:"unique_bettors"`
	ProposalCount    uint32       `json:"proposal_count"`
	ActiveProposal   *Address     `json:"active_proposal"`
	WinningSupply    uint64       `json:"winning_supply"`
	RedeemedTotal    uint64       `json:"redeemed_total"` // collateral paid out of the vault
	CreatorRefunded  bool         `json:"creator_refunded"`
	Bump             uint8        `json:"bump"`
}

// MintFor returns the outcome-share mint for a side.
func (m *Market) MintFor(side Side) Address {
	if side == SideYes {
		return m.YesMint
	}
	return m.NoMint
}

// PoolsBalanced reports whether totalLiquidity == yesPool + noPool.
func (m *Market) PoolsBalanced() bool {
	sum := m.YesPool + m.NoPool
	return sum >= m.YesPool && sum == m.TotalLiquidity
}

// Position tracks one owner's activity in one market.
type Position struct {
	Address   Address `json:"address"`
	Market    Address `json:"market"`
	Owner     Address `json:"owner"`
	Deposited uint64  `json:"deposited"`
	YesShares uint64  `json:"yes_shares"` // bought, not current balance
	NoShares  uint64  `json:"no_shares"`
	Bets      uint64  `json:"bets"`
	Refunded  bool    `json:"refunded"`
}
