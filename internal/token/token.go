// Package token implements mints and token accounts on top of the ledger.
// All functions run inside the caller's store transaction; authorization
// of the signer is the caller's concern except where an authority is checked
// against the mint.
package token

import (
	"context"
	"errors"
	"fmt"

	"oraculo/internal/domain"
	"oraculo/internal/ledger"
	"oraculo/internal/mathx"
	"oraculo/internal/pda"
	"oraculo/internal/storage"
)

var (
	ErrMintExists        = errors.New("token: mint already exists")
	ErrMintNotFound      = errors.New("token: mint not found")
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrUnauthorized      = errors.New("token: signer is not the mint authority")
	ErrOverflow          = errors.New("token: supply overflow")
)

// InitializeMint creates a mint at addr controlled by authority.
func InitializeMint(ctx context.Context, tx storage.Tx, addr, authority domain.Address, decimals uint8) (*domain.Mint, error) {
	m := &domain.Mint{Address: addr, Authority: authority, Decimals: decimals}
	if err := ledger.Create(ctx, tx, addr, domain.AccountKindMint, m); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %s", ErrMintExists, addr)
		}
		return nil, err
	}
	return m, nil
}

// GetMint loads a mint.
func GetMint(ctx context.Context, tx storage.Tx, addr domain.Address) (*domain.Mint, error) {
	m, err := ledger.Load[domain.Mint](ctx, tx, addr, domain.AccountKindMint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMintNotFound, addr)
		}
		return nil, err
	}
	return m, nil
}

// MintTo issues amount new tokens to owner's account. authority must match
// the mint authority. The owner's account is created on first use.
func MintTo(ctx context.Context, tx storage.Tx, mint, authority, owner domain.Address, amount uint64) (*domain.TokenAccount, error) {
	m, err := GetMint(ctx, tx, mint)
	if err != nil {
		return nil, err
	}
	if m.Authority != authority {
		return nil, ErrUnauthorized
	}

	supply, err := mathx.Add(m.Supply, amount)
	if err != nil {
		return nil, ErrOverflow
	}
	acct, err := loadOrNew(ctx, tx, owner, mint)
	if err != nil {
		return nil, err
	}
	balance, err := mathx.Add(acct.Amount, amount)
	if err != nil {
		return nil, ErrOverflow
	}

	m.Supply = supply
	acct.Amount = balance
	if err := ledger.Save(ctx, tx, mint, domain.AccountKindMint, m); err != nil {
		return nil, err
	}
	if err := saveAccount(ctx, tx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Burn destroys amount of owner's tokens and reduces the mint supply.
func Burn(ctx context.Context, tx storage.Tx, mint, owner domain.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	m, err := GetMint(ctx, tx, mint)
	if err != nil {
		return err
	}
	acct, err := loadOrNew(ctx, tx, owner, mint)
	if err != nil {
		return err
	}
	if acct.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, acct.Amount, amount)
	}
	supply, err := mathx.Sub(m.Supply, amount)
	if err != nil {
		return ErrOverflow
	}

	m.Supply = supply
	acct.Amount -= amount
	if err := ledger.Save(ctx, tx, mint, domain.AccountKindMint, m); err != nil {
		return err
	}
	return saveAccount(ctx, tx, acct)
}

// Transfer moves amount of mint from one owner's account to another's,
// creating the destination account on first use.
func Transfer(ctx context.Context, tx storage.Tx, mint, from, to domain.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	src, err := loadOrNew(ctx, tx, from, mint)
	if err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	dst, err := loadOrNew(ctx, tx, to, mint)
	if err != nil {
		return err
	}
	balance, err := mathx.Add(dst.Amount, amount)
	if err != nil {
		return ErrOverflow
	}

	src.Amount -= amount
	dst.Amount = balance
	if err := saveAccount(ctx, tx, src); err != nil {
		return err
	}
	return saveAccount(ctx, tx, dst)
}

// OpenAccount creates owner's account of mint if it does not exist yet.
func OpenAccount(ctx context.Context, tx storage.Tx, owner, mint domain.Address) (*domain.TokenAccount, error) {
	if _, err := GetMint(ctx, tx, mint); err != nil {
		return nil, err
	}
	addr := pda.TokenAccount(owner, mint)
	acct, err := ledger.Load[domain.TokenAccount](ctx, tx, addr, domain.AccountKindTokenAccount)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	acct = &domain.TokenAccount{Address: addr, Mint: mint, Owner: owner}
	if err := ledger.Create(ctx, tx, addr, domain.AccountKindTokenAccount, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Balance returns owner's balance of mint; an absent account holds zero.
func Balance(ctx context.Context, tx storage.Tx, owner, mint domain.Address) (uint64, error) {
	acct, err := loadOrNew(ctx, tx, owner, mint)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

// Account returns owner's token account of mint, zero-valued if absent.
func Account(ctx context.Context, tx storage.Tx, owner, mint domain.Address) (*domain.TokenAccount, error) {
	return loadOrNew(ctx, tx, owner, mint)
}

func loadOrNew(ctx context.Context, tx storage.Tx, owner, mint domain.Address) (*domain.TokenAccount, error) {
	addr := pda.TokenAccount(owner, mint)
	acct, err := ledger.Load[domain.TokenAccount](ctx, tx, addr, domain.AccountKindTokenAccount)
	if errors.Is(err, storage.ErrNotFound) {
		return &domain.TokenAccount{Address: addr, Mint: mint, Owner: owner}, nil
	}
	return acct, err
}

func saveAccount(ctx context.Context, tx storage.Tx, acct *domain.TokenAccount) error {
	return ledger.Save(ctx, tx, acct.Address, domain.AccountKindTokenAccount, acct)
}
