package protocol

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"oraculo/internal/domain"
	"oraculo/internal/ledger"
	"oraculo/internal/storage"
	"oraculo/internal/token"
)

// InitConfigParams are the inputs of InitializeConfig.
type InitConfigParams struct {
	GovernanceMint       domain.Address `json:"governance_mint"`
	CollateralMint       domain.Address `json:"collateral_mint"`
	MinLiquidity         uint64         `json:"min_liquidity"`
	ProposalStake        uint64         `json:"proposal_stake"`
	Quorum               uint64         `json:"quorum"`
	SupermajorityPercent uint8          `json:"supermajority_percent"`
	ProposerReward       uint64         `json:"proposer_reward"`
}

// ConfigUpdate holds optional new parameter values; nil fields are unchanged.
type ConfigUpdate struct {
	MinLiquidity         *uint64 `json:"min_liquidity,omitempty"`
	ProposalStake        *uint64 `json:"proposal_stake,omitempty"`
	Quorum               *uint64 `json:"quorum,omitempty"`
	SupermajorityPercent *uint8  `json:"supermajority_percent,omitempty"`
	ProposerReward       *uint64 `json:"proposer_reward,omitempty"`
}

func validateParams(cfg *domain.Config) error {
	switch {
	case cfg.SupermajorityPercent == 0 || cfg.SupermajorityPercent > 100:
		return ErrInvalidParameter
	case cfg.ProposalStake == 0, cfg.Quorum == 0:
		return ErrInvalidParameter
	case cfg.MinLiquidity < 2:
		return ErrInvalidParameter
	}
	return nil
}

// InitializeConfig creates the deployment config with signer as authority.
// It can succeed once per deployment.
func (e *Engine) InitializeConfig(ctx context.Context, signer domain.Address, p InitConfigParams) (*domain.Config, error) {
	addr, bump := e.derive.Config()
	treasury, _ := e.derive.Treasury()

	cfg := &domain.Config{
		Address:              addr,
		Authority:            signer,
		GovernanceMint:       p.GovernanceMint,
		CollateralMint:       p.CollateralMint,
		MinLiquidity:         p.MinLiquidity,
		ProposalStake:        p.ProposalStake,
		Quorum:               p.Quorum,
		SupermajorityPercent: p.SupermajorityPercent,
		ProposerReward:       p.ProposerReward,
		Treasury:             treasury,
		Bump:                 bump,
	}
	if err := validateParams(cfg); err != nil {
		return nil, err
	}

	err := e.run(ctx, "initialize_config", func(o *op) error {
		exists, err := ledger.Exists(o.ctx, o.tx, addr)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyInitialized
		}

		for _, mint := range []domain.Address{p.GovernanceMint, p.CollateralMint} {
			if _, err := token.GetMint(o.ctx, o.tx, mint); err != nil {
				if errors.Is(err, token.ErrMintNotFound) {
					return ErrInvalidParameter
				}
				return err
			}
		}
		if _, err := token.OpenAccount(o.ctx, o.tx, treasury, p.GovernanceMint); err != nil {
			return err
		}

		if err := ledger.Create(o.ctx, o.tx, addr, domain.AccountKindConfig, cfg); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return ErrAlreadyInitialized
			}
			return err
		}

		o.emit(&domain.Event{Type: domain.EventConfigInitialized, Actor: signer})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("config initialized",
		zap.Stringer("authority", signer),
		zap.Uint64("min_liquidity", cfg.MinLiquidity),
		zap.Uint64("quorum", cfg.Quorum),
		zap.Uint8("supermajority_percent", cfg.SupermajorityPercent),
	)
	return cfg, nil
}

// UpdateConfig changes protocol parameters. Only the authority may call it.
func (e *Engine) UpdateConfig(ctx context.Context, signer domain.Address, u ConfigUpdate) (*domain.Config, error) {
	var out *domain.Config
	err := e.run(ctx, "update_config", func(o *op) error {
		cfg, err := e.loadConfig(o.ctx, o.tx)
		if err != nil {
			return err
		}
		if cfg.Authority != signer {
			return ErrUnauthorized
		}

		if u.MinLiquidity != nil {
			cfg.MinLiquidity = *u.MinLiquidity
		}
		if u.ProposalStake != nil {
			cfg.ProposalStake = *u.ProposalStake
		}
		if u.Quorum != nil {
			cfg.Quorum = *u.Quorum
		}
		if u.SupermajorityPercent != nil {
			cfg.SupermajorityPercent = *u.SupermajorityPercent
		}
		if u.ProposerReward != nil {
			cfg.ProposerReward = *u.ProposerReward
		}
		if err := validateParams(cfg); err != nil {
			return err
		}

		if err := e.saveConfig(o.ctx, o.tx, cfg); err != nil {
			return err
		}
		o.emit(&domain.Event{Type: domain.EventConfigUpdated, Actor: signer})
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetConfig returns the deployment config.
func (e *Engine) GetConfig(ctx context.Context) (*domain.Config, error) {
	var cfg *domain.Config
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		cfg, err = e.loadConfig(ctx, tx)
		return err
	})
	return cfg, err
}
