package domain

// ProposalStatus is the lifecycle state of a resolution proposal.
type ProposalStatus string

const (
	ProposalStatusActive   ProposalStatus = "ACTIVE"
	ProposalStatusExecuted ProposalStatus = "EXECUTED"
	ProposalStatusRejected ProposalStatus = "REJECTED"
)

// String returns the string representation of ProposalStatus.
func (s ProposalStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s ProposalStatus) IsValid() bool {
	switch s {
	case ProposalStatusActive, ProposalStatusExecuted, ProposalStatusRejected:
		return true
	}
	return false
}

// IsFinal reports whether the proposal can no longer change.
func (s ProposalStatus) IsFinal() bool {
	return s == ProposalStatusExecuted || s == ProposalStatusRejected
}

// RejectionReason records why a proposal was rejected.
type RejectionReason string

const (
	RejectionNone             RejectionReason = ""
	RejectionQuorumNotReached RejectionReason = "QUORUM_NOT_REACHED"
	RejectionVoteFailed       RejectionReason = "VOTE_FAILED"
)

// Proposal is a staked claim about a market's outcome, open for voting.
type Proposal struct {
	Address      Address         `json:"address"`
	Market       Address         `json:"market"`
	Proposer     Address         `json:"proposer"`
	Index        uint32          `json:"index"`
	Outcome      bool            `json:"outcome"`
	Evidence     string          `json:"evidence"`
	Stake        uint64          `json:"stake"`
	ProposedAt   int64           `json:"proposed_at"`    // unix seconds
	VotingEndsAt int64           `json:"voting_ends_at"` // unix seconds
	VotesFor     uint64          `json:"votes_for"`
	VotesAgainst uint64          `json:"votes_against"`
	Status       ProposalStatus  `json:"status"`
	Rejection    RejectionReason `json:"rejection,omitempty"`
	FinalizedAt  *int64          `json:"finalized_at"`
	Bump         uint8           `json:"bump"`
}

// VoteRecord is the single vote of one voter on one proposal.
type VoteRecord struct {
	Address   Address `json:"address"`
	Proposal  Address `json:"proposal"`
	Voter     Address `json:"voter"`
	Weight    uint64  `json:"weight"`
	Support   bool    `json:"support"`
	VotedAt   int64   `json:"voted_at"`
	Withdrawn bool    `json:"withdrawn"`
	Bump      uint8   `json:"bump"`
}
