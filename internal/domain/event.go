package domain

// EventType identifies a protocol event.
type EventType string

const (
	EventConfigInitialized  EventType = "CONFIG_INITIALIZED"
	EventConfigUpdated      EventType = "CONFIG_UPDATED"
	EventTokensMinted       EventType = "TOKENS_MINTED"
	EventMarketCreated      EventType = "MARKET_CREATED"
	EventBetPlaced          EventType = "BET_PLACED"
	EventResolutionProposed EventType = "RESOLUTION_PROPOSED"
	EventVoteCast           EventType = "VOTE_CAST"
	EventVoteWithdrawn      EventType = "VOTE_WITHDRAWN"
	EventMarketResolved     EventType = "MARKET_RESOLVED"
	EventProposalRejected   EventType = "PROPOSAL_REJECTED"
	EventWinningsClaimed    EventType = "WINNINGS_CLAIMED"
	EventMarketCancelled    EventType = "MARKET_CANCELLED"
	EventRefundClaimed      EventType = "REFUND_CLAIMED"
)

// String returns the string representation of EventType.
func (t EventType) String() string {
	return string(t)
}

// Event is emitted after a state transition commits.
// Fields not relevant to a type are left zero.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"` // unix seconds, engine clock
	Actor     Address   `json:"actor"`

	Market   *Address `json:"market,omitempty"`
	Proposal *Address `json:"proposal,omitempty"`
	Mint     *Address `json:"mint,omitempty"`

	Side    Side   `json:"side,omitempty"`
	Amount  uint64 `json:"amount,omitempty"`
	Shares  uint64 `json:"shares,omitempty"`
	YesPool uint64 `json:"yes_pool,omitempty"`
	NoPool  uint64 `json:"no_pool,omitempty"`

	Outcome         *bool           `json:"outcome,omitempty"`
	Support         *bool           `json:"support,omitempty"`
	Weight          uint64          `json:"weight,omitempty"`
	VotesFor        uint64          `json:"votes_for,omitempty"`
	VotesAgainst    uint64          `json:"votes_against,omitempty"`
	ProposerCorrect *bool           `json:"proposer_correct,omitempty"`
	Rejection       RejectionReason `json:"rejection,omitempty"`
}

// ProtocolChannel carries events not tied to a market.
const ProtocolChannel = "protocol"

// MarketChannel returns the pub/sub channel name for events of one market.
func MarketChannel(market Address) string {
	return "market:" + market.String()
}

// Channel returns the pub/sub channel an event is published on.
func (e *Event) Channel() string {
	if e.Market != nil {
		return MarketChannel(*e.Market)
	}
	return ProtocolChannel
}

// BusMessage is a payload received from a pub/sub channel.
type BusMessage struct {
	Channel string
	Payload []byte
}
