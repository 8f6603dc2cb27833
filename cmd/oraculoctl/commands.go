package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"oraculo/internal/api"
	"oraculo/internal/domain"
	"oraculo/internal/protocol"
)

var commands = map[string]command{
	"keygen":        {"write a new signing key to -key", runKeygen},
	"address":       {"print the address of the signing key", runAddress},
	"init-config":   {"initialize the protocol config", runInitConfig},
	"update-config": {"change protocol parameters", runUpdateConfig},
	"config":        {"show the protocol config", runGetConfig},
	"create-mint":   {"create a token mint", runCreateMint},
	"mint-to":       {"mint tokens to an account", runMintTo},
	"balance":       {"show a token balance", runBalance},
	"create-market": {"open a prediction market", runCreateMarket},
	"markets":       {"list markets", runListMarkets},
	"market":        {"show a market", runGetMarket},
	"quote":         {"price a market or a prospective bet", runQuote},
	"history":       {"show a market's price history", runHistory},
	"position":      {"show a position", runPosition},
	"bet":           {"place a bet", runBet},
	"propose":       {"propose a market outcome", runPropose},
	"proposals":     {"list a market's proposals", runProposals},
	"redeem":        {"redeem winning shares", runRedeem},
	"cancel":        {"cancel a market", runCancel},
	"refund":        {"claim a refund from a cancelled market", runRefund},
	"proposal":      {"show a proposal", runGetProposal},
	"vote":          {"vote on a proposal", runVote},
	"vote-record":   {"show a vote", runGetVote},
	"execute":       {"execute a proposal after voting", runExecute},
	"withdraw":      {"withdraw escrowed vote weight", runWithdraw},
}

// addrFlag is a flag.Value holding a base58 address.
type addrFlag struct {
	addr domain.Address
	set  bool
}

func (f *addrFlag) String() string {
	if !f.set {
		return ""
	}
	return f.addr.String()
}

func (f *addrFlag) Set(s string) error {
	a, err := domain.ParseAddress(s)
	if err != nil {
		return err
	}
	f.addr, f.set = a, true
	return nil
}

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

// required checks that every named address flag was given.
func required(flags map[string]*addrFlag) error {
	var missing []string
	for name, f := range flags {
		if !f.set {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "y", "true":
		return true, nil
	case "no", "n", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected yes or no, got %q", s)
}

// parseEndTime accepts unix seconds or a duration from now such as "+72h".
func parseEndTime(s string, now time.Time) (int64, error) {
	if rest, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, err
		}
		return now.Add(d).Unix(), nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func self(env *cliEnv) (domain.Address, error) {
	a, ok := env.newClient().Signer()
	if !ok {
		return domain.Address{}, fmt.Errorf("no signing key at %s", env.keyPath)
	}
	return a, nil
}

func runKeygen(_ context.Context, env *cliEnv, _ []string) (any, error) {
	key, err := generateKey(env.keyPath)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"address": api.AddressOf(key.Public().(ed25519.PublicKey)).String(),
		"key":     env.keyPath,
	}, nil
}

func runAddress(_ context.Context, env *cliEnv, _ []string) (any, error) {
	a, err := self(env)
	if err != nil {
		return nil, err
	}
	return map[string]string{"address": a.String()}, nil
}

func runInitConfig(ctx context.Context, env *cliEnv, args []string) (any, error) {
	fs := newFlags("init-config")
	var gov, collateral addrFlag
	fs.Var(&gov, "governance-mint", "governance token mint")
	fs.Var(&collateral, "collateral-mint", "collateral token mint")
	minLiq := fs.Uint64("min-liquidity", 100_000_000, "minimum initial market liquidity")
	stake := fs.Uint64("stake", 1_000_000_000, "proposal stake")
	quorum := fs.Uint64("quorum", 10_000_000_000, "minimum total vote weight")
	super := fs.Uint("supermajority", 66, "supermajority percent")
	reward := fs.Uint64("reward", 100_000_000, "proposer reward")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := required(map[string]*addrFlag{"governance-mint": &gov, "collateral-mint": &collateral}); err != nil {
		return nil, err
	}
	if *super > 100 {
		return nil, errors.New("-supermajority must be at most 100")
	}
	return env.newClient().InitializeConfig(ctx, protocol.InitConfigParams{
		GovernanceMint:       gov.addr,
		CollateralMint:       collateral.addr,
		MinLiquidity:         *minLiq,
		ProposalStake:        *stake,
		Quorum:               *quorum,
		SupermajorityPercent: uint8(*super),
		ProposerReward:       *reward,
	})
}

func runUpdateConfig(ctx context.Context, env *cliEnv, args []string) (any, error) {
	fs := newFlags("update-config")
	minLiq := fs.Uint64("min-liquidity", 0, "minimum initial market liquidity")
	stake := fs.Uint64("stake", 0, "proposal stake")
	quorum := fs.Uint64("quorum", 0, "minimum total vote weight")
	super := fs.Uint("supermajority", 0, "supermajority percent")
	reward := fs.Uint64("reward", 0, "proposer reward")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var u protocol.ConfigUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-liquidity":
			u.MinLiquidity = minLiq
		case "stake":
			u.ProposalStake = stake
		case "quorum":
			u.Quorum = quorum
		case "supermajority":
			p := uint8(min(*super, 255))
			u.SupermajorityPercent = &p
		case "reward":
			u.ProposerReward = reward
		}
	})
	return env.newClient().UpdateConfig(ctx, u)
}

func runGetConfig(ctx context.Context, env *cliEnv, _ []string) (any, error) {
	return env.newClient().GetConfig(ctx)
}

func runCreateMint(ctx context.Context, env *cliEnv, args []string) (any, error) {
	fs := newFlags("create-mint")
	symbol := fs.String("symbol", "", "token symbol")
	decimals := fs.Uint("decimals", 6, "token decimals")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *decimals > 18 {
		return nil, errors.New("-decimals must be at most 18")
	}
	return env.newClient().InitializeMint(ctx, *symbol, uint8(*decimals))
}

func runMintTo(ctx context.Context, env *cliEnv, args []string) (any, error) {
	fs := newFlags("mint-to")
	var mint, to addrFlag
	fs.Var(&mint, "mint", "token mint")
	fs.Var(&to, "to", "recipient")
	amount := fs.Uint64("amount", 0, "amount in base units")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := required(map[string]*addrFlag{"mint": &mint, "to": &to}); err != nil {
		return nil, err
	}
	return env.newClient().MintTo(ctx, mint.addr, to.addr, *amount)
}

func runBalance(ctx context.Context, env *cliEnv, args []string) (any, error) {
	fs := newFlags("balance")
	var mint, owner addrFlag
	fs.Var(&mint, "mint", "token mint")
	fs.Var(&owner, "owner", "account owner (default: key address)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := required(map[string]*addrFlag{"mint": &mint}); err != nil {
		return nil, err
	}
	if !owner.set {
		a, err := self(env)
		if err != nil {
			return nil, err
		}
		owner.addr = a
	}
	bal, err := env.newClient().Balance(ctx, owner.addr, mint.addr)
	if err != nil {
		return nil, err
	}
	return api.BalanceResponse{Owner: owner.addr, Mint: mint.addr, Balance: bal}, nil
}

func runCreateMarket(ctx context.Context, env *cliEnv, args []string) (any, error) {
	fs := newFlags("create-market")
	question := fs.String("question", "", "market question")
	description := fs.String("description", "", "resolution criteria")
	category := fs.String("category", "", "category (default OTHER)")
	end := fs.String("end", "+168h", "end time: unix seconds or +duration")
	source := fs.String("source", "", "resolution source")
	liquidity := fs.Uint64("liquidity", 0, "initial liquidity in collateral base units")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	endTime, err := parseEndTime(*end, time.Now())
	if err != nil {
		return nil, fmt.Errorf("-end: %w", err)
	}
	return env.newClient().CreateMarket(ctx, protocol.CreateMarketParams{
		Question:         *question,
		Description:      *description,
		Category:         *category,
		EndTime:          endTime,
		ResolutionSource: *source,
		InitialLiquidity: *liquidity,
	})
}

func runListMarkets(ctx context.Context, env *cliEnv, args []string) (any, error) {
	fs := newFlags("markets")
	status := fs.String("status", "", "ACTIVE, RESOLVED or CANCELLED")
	category := fs.String("category", "", "category")
	var creator addrFlag
	fs.Var(&creator, "creator", "creator address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f := protocol.MarketFilter{
		Status:   domain.MarketStatus(strings.ToUpper(*status)),
		Category: domain.Category(strings.ToUpper(*category)),
	}
	if creator.set {
		f.Creator = &creator.addr
	}
	return env.newClient().ListMarkets(ctx, f)
}

// marketFlag parses a FlagSet with a required -market flag.
func marketFlag(name string, args []string, extra func(fs *flag.FlagSet)) (domain.Address, error) {
	fs := newFlags(name)
	var market addrFlag
	fs.Var(&market, "market", "market address")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return domain.Address{}, err
	}
	if err := required(map[string]*addrFlag{"market": &market}); err != nil {
		return domain.Address{}, err
	}
	return market.addr, nil
}

func proposalFlag(name string, args []string, extra func(fs *flag.FlagSet)) (domain.Address, error) {
	fs := newFlags(name)
	var proposal addrFlag
	fs.Var(&proposal, "proposal", "proposal address")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return domain.Address{}, err
	}
	if err := required(map[string]*addrFlag{"proposal": &proposal}); err != nil {
		return domain.Address{}, err
	}
	return proposal.addr, nil
}

func runGetMarket(ctx context.Context, env *cliEnv, args []string) (any, error) {
	market, err := marketFlag("market", args, nil)
	if err != nil {
		return nil, err
	}
	return env.newClient().GetMarket(ctx, market)
}

func runQuote(ctx context.Context, env *cliEnv, args []string) (any, error) {
	var (
		side   *string
		amount *uint64
	)
	market, err := marketFlag("quote", args, func(fs *flag.FlagSet) {
		side = fs.String("side", "", "YES or NO")
		amount = fs.Uint64("amount", 0, "bet amount")
	})
	if err != nil {
		return nil, err
	}
	return env.newClient().Quote(ctx, market, domain.Side(strings.ToUpper(*side)), *amount)
}

func runHistory(ctx context.Context, env *cliEnv, args []string) (any, error) {
	var from, to *int64
	market, err := marketFlag("history", args, func(fs *flag.FlagSet) {
		from = fs.Int64("from", 0, "start, unix seconds")
		to = fs.Int64("to", 0, "end, unix seconds")
	})
	if err != nil {
		return nil, err
	}
	return env.newClient().History(ctx, market, *from, *to)
}

func runPosition(ctx context.Context, env *cliEnv, args []string) (any, error) {
	var owner addrFlag
	market, err := marketFlag("position", args, func(fs *flag.FlagSet) {
		fs.Var(&owner, "owner", "position owner (default: key address)")
	})
	if err != nil {
		return nil, err
	}
	if !owner.set {
		if owner.addr, err = self(env); err != nil {
			return nil, err
		}
	}
	return env.newClient().GetPosition(ctx, market, owner.addr)
}

func runBet(ctx context.Context, env *cliEnv, args []string) (any, error) {
	var (
		side   *string
		amount *uint64
	)
	market, err := marketFlag("bet", args, func(fs *flag.FlagSet) {
		side = fs.String("side", "", "YES or NO")
		amount = fs.Uint64("amount", 0, "collateral amount")
	})
	if err != nil {
		return nil, err
	}
	return env.newClient().PlaceBet(ctx, market, domain.Side(strings.ToUpper(*side)), *amount)
}

func runPropose(ctx context.Context, env *cliEnv, args []string) (any, error) {
	var outcome, evidence *string
	market, err := marketFlag("propose", args, func(fs *flag.FlagSet) {
		outcome = fs.String("outcome", "", "yes or no")
		evidence = fs.String("evidence", "", "supporting evidence")
	})
	if err != nil {
		return nil, err
	}
	yes, err := parseYesNo(*outcome)
	if err != nil {
		return nil, fmt.Errorf("-outcome: %w", err)
	}
	return env.newClient().ProposeOutcome(ctx, market, yes, *evidence)
}

func runProposals(ctx context.Context, env *cliEnv, args []string) (any, error) {
	market, err := marketFlag("proposals", args, nil)
	if err != nil {
		return nil, err
	}
	return env.newClient().ListProposals(ctx, market)
}

func runRedeem(ctx context.Context, env *cliEnv, args []string) (any, error) {
	var shares *uint64
	market, err := marketFlag("redeem", args, func(fs *flag.FlagSet) {
		shares = fs.Uint64("shares", 0, "winning shares to burn")
	})
	if err != nil {
		return nil, err
	}
	payout, err := env.newClient().Redeem(ctx, market, *shares)
	if err != nil {
		return nil, err
	}
	return api.AmountResponse{Amount: payout}, nil
}

func runCancel(ctx context.Context, env *cliEnv, args []string) (any, error) {
	market, err := marketFlag("cancel", args, nil)
	if err != nil {
		return nil, err
	}
	return env.newClient().CancelMarket(ctx, market)
}

func runRefund(ctx context.Context, env *cliEnv, args []string) (any, error) {
	market, err := marketFlag("refund", args, nil)
	if err != nil {
		return nil, err
	}
	refund, err := env.newClient().ClaimRefund(ctx, market)
	if err != nil {
		return nil, err
	}
	return api.AmountResponse{Amount: refund}, nil
}

func runGetProposal(ctx context.Context, env *cliEnv, args []string) (any, error) {
	proposal, err := proposalFlag("proposal", args, nil)
	if err != nil {
		return nil, err
	}
	return env.newClient().GetProposal(ctx, proposal)
}

func runVote(ctx context.Context, env *cliEnv, args []string) (any, error) {
	var support *string
	proposal, err := proposalFlag("vote", args, func(fs *flag.FlagSet) {
		support = fs.String("support", "", "yes or no")
	})
	if err != nil {
		return nil, err
	}
	yes, err := parseYesNo(*support)
	if err != nil {
		return nil, fmt.Errorf("-support: %w", err)
	}
	return env.newClient().CastVote(ctx, proposal, yes)
}

func runGetVote(ctx context.Context, env *cliEnv, args []string) (any, error) {
	var voter addrFlag
	proposal, err := proposalFlag("vote-record", args, func(fs *flag.FlagSet) {
		fs.Var(&voter, "voter", "voter (default: key address)")
	})
	if err != nil {
		return nil, err
	}
	if !voter.set {
		if voter.addr, err = self(env); err != nil {
			return nil, err
		}
	}
	return env.newClient().GetVote(ctx, proposal, voter.addr)
}

func runExecute(ctx context.Context, env *cliEnv, args []string) (any, error) {
	proposal, err := proposalFlag("execute", args, nil)
	if err != nil {
		return nil, err
	}
	return env.newClient().ExecuteResolution(ctx, proposal)
}

func runWithdraw(ctx context.Context, env *cliEnv, args []string) (any, error) {
	proposal, err := proposalFlag("withdraw", args, nil)
	if err != nil {
		return nil, err
	}
	returned, err := env.newClient().WithdrawVote(ctx, proposal)
	if err != nil {
		return nil, err
	}
	return api.AmountResponse{Amount: returned}, nil
}
