// Package ledger encodes typed protocol accounts into raw store accounts.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"oraculo/internal/domain"
	"oraculo/internal/storage"
)

// ErrKindMismatch is returned when an address holds an account of another kind.
var ErrKindMismatch = errors.New("ledger: account kind mismatch")

// Load reads the account at addr and decodes it into a T.
// Returns storage.ErrNotFound if the account does not exist.
func Load[T any](ctx context.Context, tx storage.Tx, addr domain.Address, kind domain.AccountKind) (*T, error) {
	acct, err := tx.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acct.Kind != kind {
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrKindMismatch, addr, acct.Kind, kind)
	}

	var v T
	if err := json.Unmarshal(acct.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s account %s: %w", kind, addr, err)
	}
	return &v, nil
}

// Exists reports whether any account lives at addr.
func Exists(ctx context.Context, tx storage.Tx, addr domain.Address) (bool, error) {
	_, err := tx.Get(ctx, addr)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Create stores v as a new account. Returns storage.ErrDuplicateKey if addr is taken.
func Create(ctx context.Context, tx storage.Tx, addr domain.Address, kind domain.AccountKind, v any) error {
	acct, err := encode(addr, kind, v)
	if err != nil {
		return err
	}
	return tx.Create(ctx, acct)
}

// Save stores v at addr, replacing any previous account.
func Save(ctx context.Context, tx storage.Tx, addr domain.Address, kind domain.AccountKind, v any) error {
	acct, err := encode(addr, kind, v)
	if err != nil {
		return err
	}
	return tx.Put(ctx, acct)
}

// Decode decodes a raw account listed outside a transaction.
func Decode[T any](acct *storage.Account) (*T, error) {
	var v T
	if err := json.Unmarshal(acct.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s account %s: %w", acct.Kind, acct.Address, err)
	}
	return &v, nil
}

func encode(addr domain.Address, kind domain.AccountKind, v any) (*storage.Account, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s account %s: %w", kind, addr, err)
	}
	return &storage.Account{Address: addr, Kind: kind, Data: data}, nil
}
