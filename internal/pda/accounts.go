package pda

import (
	"oraculo/internal/domain"
)

// Deriver derives every protocol account address for one program ID.
// Derivation cannot fail for the fixed seed shapes used here, so errors
// from FindProgramAddress are treated as programming errors.
type Deriver struct {
	programID domain.Address
}

// NewDeriver returns a Deriver bound to programID.
func NewDeriver(programID domain.Address) Deriver {
	return Deriver{programID: programID}
}

// ProgramID returns the bound program ID.
func (d Deriver) ProgramID() domain.Address {
	return d.programID
}

func (d Deriver) find(seeds ...[]byte) (domain.Address, uint8) {
	addr, bump, err := FindProgramAddress(seeds, d.programID)
	if err != nil {
		panic(err)
	}
	return addr, bump
}

// Config is ["config"].
func (d Deriver) Config() (domain.Address, uint8) {
	return d.find([]byte("config"))
}

// Treasury is ["treasury"]; it owns the treasury governance-token account.
func (d Deriver) Treasury() (domain.Address, uint8) {
	return d.find([]byte("treasury"))
}

// Mint is ["mint", authority, symbol].
func (d Deriver) Mint(authority domain.Address, symbol string) (domain.Address, uint8) {
	return d.find([]byte("mint"), authority[:], []byte(symbol))
}

// Market is ["market", creator, createdAt].
func (d Deriver) Market(creator domain.Address, createdAt int64) (domain.Address, uint8) {
	return d.find([]byte("market"), creator[:], I64Seed(createdAt))
}

// VaultAuthority is ["vault", market]; it owns the market's collateral.
func (d Deriver) VaultAuthority(market domain.Address) (domain.Address, uint8) {
	return d.find([]byte("vault"), market[:])
}

// YesMint is ["yes_mint", market].
func (d Deriver) YesMint(market domain.Address) (domain.Address, uint8) {
	return d.find([]byte("yes_mint"), market[:])
}

// NoMint is ["no_mint", market].
func (d Deriver) NoMint(market domain.Address) (domain.Address, uint8) {
	return d.find([]byte("no_mint"), market[:])
}

// Position is ["position", market, owner].
func (d Deriver) Position(market, owner domain.Address) (domain.Address, uint8) {
	return d.find([]byte("position"), market[:], owner[:])
}

// Proposal is ["proposal", market, index].
func (d Deriver) Proposal(market domain.Address, index uint32) (domain.Address, uint8) {
	return d.find([]byte("proposal"), market[:], U32Seed(index))
}

// StakeEscrow is ["proposal_stake", proposal].
func (d Deriver) StakeEscrow(proposal domain.Address) (domain.Address, uint8) {
	return d.find([]byte("proposal_stake"), proposal[:])
}

// VoteEscrow is ["vote_escrow", proposal].
func (d Deriver) VoteEscrow(proposal domain.Address) (domain.Address, uint8) {
	return d.find([]byte("vote_escrow"), proposal[:])
}

// VoteRecord is ["vote", proposal, voter].
func (d Deriver) VoteRecord(proposal, voter domain.Address) (domain.Address, uint8) {
	return d.find([]byte("vote"), proposal[:], voter[:])
}

// TokenAccount returns the associated token account of (owner, mint):
// [owner, tokenProgram, mint] under the associated token program.
func TokenAccount(owner, mint domain.Address) domain.Address {
	addr, _, err := FindProgramAddress(
		[][]byte{owner[:], TokenProgramID[:], mint[:]},
		AssociatedTokenProgramID,
	)
	if err != nil {
		panic(err)
	}
	return addr
}
