package domain

// AccountKind tags the type of data stored at an address.
type AccountKind string

const (
	AccountKindConfig       AccountKind = "config"
	AccountKindMarket       AccountKind = "market"
	AccountKindPosition     AccountKind = "position"
	AccountKindProposal     AccountKind = "proposal"
	AccountKindVoteRecord   AccountKind = "vote_record"
	AccountKindMint         AccountKind = "mint"
	AccountKindTokenAccount AccountKind = "token_account"
)

// String returns the string representation of AccountKind.
func (k AccountKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k AccountKind) IsValid() bool {
	switch k {
	case AccountKindConfig, AccountKindMarket, AccountKindPosition, AccountKindProposal,
		AccountKindVoteRecord, AccountKindMint, AccountKindTokenAccount:
		return true
	}
	return false
}
