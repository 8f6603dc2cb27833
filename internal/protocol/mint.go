package protocol

import (
	"context"

	"go.uber.org/zap"

	"oraculo/internal/domain"
	"oraculo/internal/storage"
	"oraculo/internal/token"
)

// InitializeMint creates a token mint at PDA["mint", signer, symbol] with
// the signer as mint authority.
func (e *Engine) InitializeMint(ctx context.Context, signer domain.Address, symbol string, decimals uint8) (*domain.Mint, error) {
	if len(symbol) == 0 || len(symbol) > MaxSymbolLen {
		return nil, ErrInvalidSymbol
	}
	addr, _ := e.derive.Mint(signer, symbol)

	var out *domain.Mint
	err := e.run(ctx, "initialize_mint", func(o *op) error {
		m, err := token.InitializeMint(o.ctx, o.tx, addr, signer, decimals)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("mint initialized",
		zap.Stringer("mint", addr),
		zap.String("symbol", symbol),
		zap.Uint8("decimals", decimals),
	)
	return out, nil
}

// MintTokens issues amount tokens of mint to recipient. Only the mint
// authority may call it.
func (e *Engine) MintTokens(ctx context.Context, signer, mint, recipient domain.Address, amount uint64) (*domain.TokenAccount, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	var out *domain.TokenAccount
	err := e.run(ctx, "mint_tokens", func(o *op) error {
		acct, err := token.MintTo(o.ctx, o.tx, mint, signer, recipient, amount)
		if err != nil {
			return err
		}
		o.emit(&domain.Event{
			Type:   domain.EventTokensMinted,
			Actor:  signer,
			Mint:   addrPtr(mint),
			Amount: amount,
		})
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMint returns a mint.
func (e *Engine) GetMint(ctx context.Context, mint domain.Address) (*domain.Mint, error) {
	var out *domain.Mint
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = token.GetMint(ctx, tx, mint)
		return err
	})
	return out, err
}

// Balance returns owner's balance of mint.
func (e *Engine) Balance(ctx context.Context, owner, mint domain.Address) (uint64, error) {
	var out uint64
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = token.Balance(ctx, tx, owner, mint)
		return err
	})
	return out, err
}
