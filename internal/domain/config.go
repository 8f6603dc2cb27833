package domain

// Config holds the protocol parameters of one deployment.
// Stored once at the config address; mutated only by the authority.
type Config struct {
	Address              Address `json:"address"`
	Authority            Address `json:"authority"`
	GovernanceMint       Address `json:"governance_mint"`
	CollateralMint       Address `json:"collateral_mint"`
	MinLiquidity         uint64  `json:"min_liquidity"`
	ProposalStake        uint64  `json:"proposal_stake"`
	Quorum               uint64  `json:"quorum"`
	SupermajorityPercent uint8   `json:"supermajority_percent"`
	ProposerReward       uint64  `json:"proposer_reward"`
	Treasury             Address `json:"treasury"` // owner of the treasury governance-token account
	TotalMarkets         uint64  `json:"total_markets"`
	TotalVolume          uint64  `json:"total_volume"`
	Bump                 uint8   `json:"bump"`
}
