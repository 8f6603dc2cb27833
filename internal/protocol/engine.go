// Package protocol implements the prediction-market state machine: protocol
// configuration, markets and bets, DAO resolution and redemption.
//
// Every mutating operation runs as one store transaction. Preconditions are
// checked against state read inside the transaction and the clock is read
// once per call, so time-based phase changes are evaluated lazily. Events
// are collected during the transaction and published only after it commits.
package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oraculo/internal/domain"
	"oraculo/internal/ledger"
	"oraculo/internal/observability"
	"oraculo/internal/pda"
	"oraculo/internal/storage"
)

// Field limits in bytes.
const (
	MaxQuestionLen    = 200
	MaxDescriptionLen = 500
	MaxSourceLen      = 200
	MaxEvidenceLen    = 500
	MaxSymbolLen      = 10
)

// Params are the engine constants that are not part of the on-ledger Config.
type Params struct {
	VotingPeriod      time.Duration // proposal voting window
	ResolutionDelay   time.Duration // resolutionTime = endTime + delay
	MaxMarketDuration time.Duration // endTime may be at most now + this
	MinBet            uint64        // smallest accepted bet, in collateral units
}

// DefaultParams returns the production engine constants.
func DefaultParams() Params {
	return Params{
		VotingPeriod:      48 * time.Hour,
		ResolutionDelay:   7 * 24 * time.Hour,
		MaxMarketDuration: 365 * 24 * time.Hour,
		MinBet:            1_000_000,
	}
}

// EventSink receives the events of each committed operation in order.
type EventSink interface {
	Publish(ctx context.Context, events []*domain.Event)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, []*domain.Event) {}

// Engine executes protocol operations against an account store.
type Engine struct {
	store  storage.AccountStore
	derive pda.Deriver
	params Params
	now    ledger.Clock
	sink   EventSink
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(clock ledger.Clock) Option {
	return func(e *Engine) {
		e.now = clock
	}
}

// WithEventSink sets where committed events are published.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithParams overrides the engine constants.
func WithParams(p Params) Option {
	return func(e *Engine) {
		e.params = p
	}
}

// WithProgramID sets the program ID all account addresses derive from.
func WithProgramID(id domain.Address) Option {
	return func(e *Engine) {
		e.derive = pda.NewDeriver(id)
	}
}

// NewEngine creates an engine over store.
func NewEngine(store storage.AccountStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		derive: pda.NewDeriver(pda.DefaultProgramID),
		params: DefaultParams(),
		now:    ledger.SystemClock,
		sink:   nopSink{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deriver returns the address deriver the engine uses.
func (e *Engine) Deriver() pda.Deriver {
	return e.derive
}

// Params returns the engine constants.
func (e *Engine) Params() Params {
	return e.params
}

// Now returns the engine clock in unix seconds.
func (e *Engine) Now() int64 {
	return e.now().Unix()
}

// op is the state of one operation attempt.
type op struct {
	ctx    context.Context
	tx     storage.Tx
	now    int64
	events []*domain.Event
}

func (o *op) emit(ev *domain.Event) {
	ev.Timestamp = o.now
	o.events = append(o.events, ev)
}

// run executes fn in one store transaction and publishes its events after
// commit. fn may run more than once if the store retries a conflict.
func (e *Engine) run(ctx context.Context, name string, fn func(o *op) error) error {
	start := time.Now()
	now := e.Now()

	var events []*domain.Event
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		o := &op{ctx: ctx, tx: tx, now: now}
		if err := fn(o); err != nil {
			return err
		}
		events = o.events
		return nil
	})
	err = translate(err)

	kind := ""
	if err != nil {
		kind = string(KindOf(err))
		if kind == "" {
			kind = "internal"
		}
	}
	observability.RecordOperation(name, kind, time.Since(start).Seconds())

	if err != nil {
		if kind == "internal" && !errors.Is(err, context.Canceled) {
			e.logger.Error("operation failed", zap.String("op", name), zap.Error(err))
		} else {
			e.logger.Debug("operation rejected", zap.String("op", name), zap.Error(err))
		}
		return err
	}

	for _, ev := range events {
		ev.ID = uuid.NewString()
		recordEvent(ev)
	}
	if len(events) > 0 {
		e.sink.Publish(ctx, events)
	}
	return nil
}

func recordEvent(ev *domain.Event) {
	switch ev.Type {
	case domain.EventMarketCreated:
		observability.RecordMarketCreated()
	case domain.EventBetPlaced:
		observability.RecordBet(ev.Side.String(), ev.Amount)
	case domain.EventResolutionProposed:
		observability.RecordProposal()
	case domain.EventVoteCast:
		observability.RecordVote(ev.Support != nil && *ev.Support)
	case domain.EventMarketResolved:
		observability.RecordResolution("executed")
	case domain.EventProposalRejected:
		observability.RecordResolution(string(ev.Rejection))
	case domain.EventWinningsClaimed:
		observability.RecordRedemption(ev.Amount)
	}
}

// view runs fn against a read-only snapshot.
func (e *Engine) view(ctx context.Context, fn func(tx storage.Tx) error) error {
	return translate(e.store.View(ctx, fn))
}

func addrPtr(a domain.Address) *domain.Address {
	return &a
}

func boolPtr(b bool) *bool {
	return &b
}

func i64Ptr(v int64) *int64 {
	return &v
}
