package protocol

import (
	"errors"
	"fmt"

	"oraculo/internal/mathx"
	"oraculo/internal/token"
)

// Kind classifies protocol errors.
type Kind string

const (
	KindValidation    Kind = "validation"     // bad input shape or range
	KindStateConflict Kind = "state_conflict" // operation invalid for the current phase
	KindAuthorization Kind = "authorization"  // caller lacks balance, stake, or role
	KindArithmetic    Kind = "arithmetic"     // checked overflow or underflow
	KindNotFound      Kind = "not_found"
)

// Error is a protocol error. Two errors match under errors.Is when their
// codes are equal, so wrapped details do not break sentinel comparison.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Msg
}

// Is matches by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var byCode = map[string]*Error{}

func newErr(kind Kind, code, msg string) *Error {
	e := &Error{Kind: kind, Code: code, Msg: msg}
	byCode[code] = e
	return e
}

// LookupCode returns the sentinel error registered for code.
func LookupCode(code string) (*Error, bool) {
	e, ok := byCode[code]
	return e, ok
}

// Validation errors.
var (
	ErrEmptyQuestion      = newErr(KindValidation, "EmptyQuestion", "question is empty")
	ErrQuestionTooLong    = newErr(KindValidation, "QuestionTooLong", "question exceeds 200 bytes")
	ErrEmptyDescription   = newErr(KindValidation, "EmptyDescription", "description is empty")
	ErrDescriptionTooLong = newErr(KindValidation, "DescriptionTooLong", "description exceeds 500 bytes")
	ErrSourceTooLong      = newErr(KindValidation, "SourceTooLong", "resolution source exceeds 200 bytes")
	ErrEvidenceTooLong    = newErr(KindValidation, "EvidenceTooLong", "evidence exceeds 500 bytes")
	ErrInvalidCategory    = newErr(KindValidation, "InvalidCategory", "unknown category")
	ErrInvalidEndTime     = newErr(KindValidation, "InvalidEndTime", "end time must be in the future")
	ErrEndTimeTooFar      = newErr(KindValidation, "EndTimeTooFar", "end time is too far in the future")
	ErrLiquidityTooLow    = newErr(KindValidation, "LiquidityTooLow", "initial liquidity below minimum")
	ErrInvalidAmount      = newErr(KindValidation, "InvalidAmount", "amount must be positive")
	ErrBetTooSmall        = newErr(KindValidation, "BetTooSmall", "bet below minimum")
	ErrInvalidSide        = newErr(KindValidation, "InvalidSide", "side must be YES or NO")
	ErrInvalidParameter   = newErr(KindValidation, "InvalidParameter", "invalid protocol parameter")
	ErrInvalidSymbol      = newErr(KindValidation, "InvalidSymbol", "symbol must be 1 to 10 bytes")
	ErrRedemptionTooSmall = newErr(KindValidation, "RedemptionTooSmall", "redemption pays nothing")
)

// State conflicts.
var (
	ErrAlreadyInitialized    = newErr(KindStateConflict, "AlreadyInitialized", "config already initialized")
	ErrMarketExists          = newErr(KindStateConflict, "MarketExists", "market already exists at this address")
	ErrMintExists            = newErr(KindStateConflict, "MintExists", "mint already exists")
	ErrMarketNotActive       = newErr(KindStateConflict, "MarketNotActive", "market is not active")
	ErrMarketEnded           = newErr(KindStateConflict, "MarketEnded", "market has ended")
	ErrMarketNotEnded        = newErr(KindStateConflict, "MarketNotEnded", "market has not ended")
	ErrMarketNotResolved     = newErr(KindStateConflict, "MarketNotResolved", "market is not resolved")
	ErrMarketNotCancelled    = newErr(KindStateConflict, "MarketNotCancelled", "market is not open for refunds")
	ErrNothingToRefund       = newErr(KindStateConflict, "NothingToRefund", "nothing to refund")
	ErrProposalAlreadyActive = newErr(KindStateConflict, "ProposalAlreadyActive", "market already has an active proposal")
	ErrProposalNotActive     = newErr(KindStateConflict, "ProposalNotActive", "proposal is not active")
	ErrProposalStillActive   = newErr(KindStateConflict, "ProposalStillActive", "proposal is not finalized")
	ErrVotingClosed          = newErr(KindStateConflict, "VotingClosed", "voting period has ended")
	ErrVotingNotEnded        = newErr(KindStateConflict, "VotingNotEnded", "voting period has not ended")
	ErrAlreadyVoted          = newErr(KindStateConflict, "AlreadyVoted", "voter already voted on this proposal")
	ErrNoVoteRecord          = newErr(KindStateConflict, "NoVoteRecord", "voter has no vote on this proposal")
	ErrVoteAlreadyWithdrawn  = newErr(KindStateConflict, "VoteAlreadyWithdrawn", "vote weight already withdrawn")
)

// Authorization failures.
var (
	ErrUnauthorized      = newErr(KindAuthorization, "Unauthorized", "signer lacks the required role")
	ErrInsufficientFunds = newErr(KindAuthorization, "InsufficientFunds", "insufficient balance")
	ErrInsufficientStake = newErr(KindAuthorization, "InsufficientStake", "insufficient governance balance for proposal stake")
	ErrZeroWeight        = newErr(KindAuthorization, "ZeroWeight", "voter has no governance balance")
)

// Arithmetic failures.
var (
	ErrMathOverflow = newErr(KindArithmetic, "MathOverflow", "arithmetic overflow")
)

// Missing accounts.
var (
	ErrConfigNotFound   = newErr(KindNotFound, "ConfigNotFound", "config not initialized")
	ErrMarketNotFound   = newErr(KindNotFound, "MarketNotFound", "market not found")
	ErrProposalNotFound = newErr(KindNotFound, "ProposalNotFound", "proposal not found")
	ErrPositionNotFound = newErr(KindNotFound, "PositionNotFound", "position not found")
	ErrMintNotFound     = newErr(KindNotFound, "MintNotFound", "mint not found")
)

// KindOf returns the kind of a protocol error, or "" for other errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// translate maps token and math errors that escaped an operation onto
// protocol errors. Other errors pass through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}

	switch {
	case errors.Is(err, token.ErrInsufficientFunds):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case errors.Is(err, token.ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, token.ErrMintNotFound):
		return fmt.Errorf("%w: %v", ErrMintNotFound, err)
	case errors.Is(err, token.ErrMintExists):
		return fmt.Errorf("%w: %v", ErrMintExists, err)
	case errors.Is(err, token.ErrOverflow),
		errors.Is(err, mathx.ErrOverflow),
		errors.Is(err, mathx.ErrUnderflow),
		errors.Is(err, mathx.ErrDivisionByZero):
		return fmt.Errorf("%w: %v", ErrMathOverflow, err)
	}
	return err
}
