// Package api serves the protocol over JSON HTTP. Mutating routes require
// an ed25519 request signature; the signer is the acting account.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"oraculo/internal/domain"
	"oraculo/internal/observability"
	"oraculo/internal/pricing"
	"oraculo/internal/protocol"
	"oraculo/internal/storage"
)

// QuoteCache caches spot quotes between bets.
type QuoteCache interface {
	Get(ctx context.Context, market domain.Address) (*pricing.Quote, error)
	Set(ctx context.Context, q *pricing.Quote) error
}

// Options configures a Server. Engine is required; nil optional
// components disable their routes or features.
type Options struct {
	Addr         string
	Engine       *protocol.Engine
	Activity     storage.ActivityStore // market history
	Quotes       QuoteCache
	Limiter      RateLimiter
	Nonces       NonceStore // defaults to a MemoryNonceStore
	RateLimit    int
	RateWindow   time.Duration
	WS           http.Handler
	Health       func(ctx context.Context) error
	Status       func() any
	MaxBodyBytes int64
	MaxClockSkew time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	opts       Options
	engine     *protocol.Engine
	httpServer *http.Server
	handler    http.Handler
	logger     *zap.Logger
}

// NewServer creates a Server with every route registered.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.MaxClockSkew <= 0 {
		opts.MaxClockSkew = DefaultMaxClockSkew
	}
	if opts.Nonces == nil {
		opts.Nonces = NewMemoryNonceStore(opts.Now)
	}

	s := &Server{
		opts:   opts,
		engine: opts.Engine,
		logger: opts.Logger.Named("api"),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var h http.Handler = mux
	h = rateLimit(opts.Limiter, opts.RateLimit, opts.RateWindow, s.logger)(h)
	h = logging(s.logger)(h)
	h = requestID(h)
	s.handler = h

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      h,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	signed := authenticate(s.opts.MaxBodyBytes, s.opts.MaxClockSkew, s.opts.Now, s.opts.Nonces, s.logger)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.opts.WS != nil {
		mux.Handle("GET /v1/ws", s.opts.WS)
	}

	mux.HandleFunc("POST /v1/config", signed(s.initializeConfig))
	mux.HandleFunc("PATCH /v1/config", signed(s.updateConfig))
	mux.HandleFunc("GET /v1/config", s.getConfig)

	mux.HandleFunc("POST /v1/mints", signed(s.initializeMint))
	mux.HandleFunc("GET /v1/mints/{mint}", s.getMint)
	mux.HandleFunc("POST /v1/mints/{mint}/mint-to", signed(s.mintTo))
	mux.HandleFunc("GET /v1/balances/{owner}/{mint}", s.getBalance)

	mux.HandleFunc("POST /v1/markets", signed(s.createMarket))
	mux.HandleFunc("GET /v1/markets", s.listMarkets)
	mux.HandleFunc("GET /v1/markets/{market}", s.getMarket)
	mux.HandleFunc("GET /v1/markets/{market}/quote", s.getQuote)
	mux.HandleFunc("GET /v1/markets/{market}/history", s.getHistory)
	mux.HandleFunc("GET /v1/markets/{market}/positions/{owner}", s.getPosition)
	mux.HandleFunc("POST /v1/markets/{market}/bets", signed(s.placeBet))
	mux.HandleFunc("POST /v1/markets/{market}/proposals", signed(s.proposeOutcome))
	mux.HandleFunc("GET /v1/markets/{market}/proposals", s.listProposals)
	mux.HandleFunc("POST /v1/markets/{market}/redeem", signed(s.redeem))
	mux.HandleFunc("POST /v1/markets/{market}/cancel", signed(s.cancelMarket))
	mux.HandleFunc("POST /v1/markets/{market}/refund", signed(s.claimRefund))

	mux.HandleFunc("GET /v1/proposals/{proposal}", s.getProposal)
	mux.HandleFunc("POST /v1/proposals/{proposal}/votes", signed(s.castVote))
	mux.HandleFunc("GET /v1/proposals/{proposal}/votes/{voter}", s.getVote)
	mux.HandleFunc("POST /v1/proposals/{proposal}/execute", signed(s.executeResolution))
	mux.HandleFunc("POST /v1/proposals/{proposal}/withdraw", signed(s.withdrawVote))
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Status())
}
