// Package main runs the oraculo service: HTTP API, WebSocket event stream,
// event fan-out and the keeper, over the configured stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"oraculo/internal/api"
	s3blob "oraculo/internal/blob/s3"
	cacheredis "oraculo/internal/cache/redis"
	"oraculo/internal/config"
	"oraculo/internal/events"
	"oraculo/internal/keeper"
	"oraculo/internal/logger"
	"oraculo/internal/protocol"
	"oraculo/internal/storage"
	chstore "oraculo/internal/storage/clickhouse"
	"oraculo/internal/storage/memory"
	"oraculo/internal/storage/migrations"
	pgstore "oraculo/internal/storage/postgres"
	"oraculo/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("ORACULO_CONFIG"), "Path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// stores holds the storage backends and how to release them.
type stores struct {
	accounts storage.AccountStore
	activity storage.ActivityStore
	health   []func(context.Context) error
	closers  []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (*stores, error) {
	s := &stores{}

	switch cfg.Backend {
	case "postgres":
		pool, err := pgstore.NewPoolWithSize(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns))
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if cfg.RunMigrations {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				s.close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		s.accounts = pgstore.NewAccountStore(pool)
		s.health = append(s.health, pool.Ping)
		log.Info("account store: postgres", zap.Int("max_conns", cfg.PostgresMaxConns))
	default:
		s.accounts = memory.NewAccountStore()
		log.Warn("account store: memory, state is lost on restart")
	}

	if cfg.ClickHouseDSN == "" {
		s.activity = memory.NewActivityStore()
		return s, nil
	}

	var (
		conn *chstore.Conn
		err  error
	)
	if cfg.RunMigrations {
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
	} else {
		conn, err = chstore.NewConn(ctx, cfg.ClickHouseDSN)
	}
	if err != nil {
		s.close()
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	s.closers = append(s.closers, func() { _ = conn.Close() })
	s.activity = chstore.NewActivityStore(conn)
	s.health = append(s.health, conn.Ping)
	log.Info("activity store: clickhouse")
	return s, nil
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	started := time.Now()

	st, err := openStores(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer st.close()

	programID, err := cfg.Protocol.ProgramAddress()
	if err != nil {
		return err
	}

	dispatcher := events.NewDispatcher(log.Named("events"), events.NewActivityRecorder(st.activity))
	engine := protocol.NewEngine(st.accounts,
		protocol.WithParams(cfg.Protocol.Params()),
		protocol.WithProgramID(programID),
		protocol.WithEventSink(dispatcher),
		protocol.WithLogger(log.Named("protocol")),
	)

	var (
		limiter api.RateLimiter
		nonces  api.NonceStore
		quotes  *cacheredis.QuoteCache
		locker  keeper.Locker
		source  ws.Source
	)
	if cfg.Redis.Enabled {
		rc, err := cacheredis.New(ctx, cacheredis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return err
		}
		defer rc.Close()

		bus := cacheredis.NewEventBus(rc)
		quotes = cacheredis.NewQuoteCache(rc, cfg.Redis.QuoteTTL.Duration)
		limiter = cacheredis.NewRateLimiter(rc)
		nonces = cacheredis.NewNonceStore(rc)
		locker = cacheredis.NewLockManager(rc)
		source = bus

		dispatcher.Add(events.NewBusForwarder(bus))
		dispatcher.Add(events.NewQuoteInvalidator(quotes))
		st.health = append(st.health, rc.Ping)
		log.Info("redis enabled", zap.String("addr", cfg.Redis.Addr))
	}

	hub := ws.NewHub(source, log.Named("ws"))
	if source == nil {
		// Single instance: the hub is fed directly.
		dispatcher.Add(events.NewHubForwarder(hub))
	}

	var archiver keeper.Archiver
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return err
		}
		archiver = s3blob.NewArchiver(s3blob.NewBucket(sc), engine, st.activity, log.Named("archive"))
		st.health = append(st.health, sc.Health)
		log.Info("market archive enabled", zap.String("bucket", sc.Bucket()))
	}

	var kp *keeper.Keeper
	if cfg.Keeper.Enabled {
		signer, err := cfg.Keeper.SignerAddress()
		if err != nil {
			return err
		}
		opts := keeper.Options{
			Engine:          engine,
			Signer:          signer,
			Archiver:        archiver,
			Locker:          locker,
			LockTTL:         cfg.Keeper.LockTTL.Duration,
			Logger:          log,
			ExecuteSchedule: cfg.Keeper.ExecuteSchedule,
			ArchiveSchedule: cfg.Keeper.ArchiveSchedule,
			WarmSchedule:    cfg.Keeper.WarmSchedule,
		}
		if quotes != nil {
			opts.Quotes = quotes
		}
		if kp, err = keeper.New(opts); err != nil {
			return err
		}
	}

	apiOpts := api.Options{
		Addr:         cfg.Server.Addr,
		Engine:       engine,
		Activity:     st.activity,
		Limiter:      limiter,
		Nonces:       nonces,
		RateLimit:    cfg.Server.RateLimit,
		RateWindow:   cfg.Server.RateWindow.Duration,
		WS:           hub,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		MaxClockSkew: cfg.Server.MaxClockSkew.Duration,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		Logger:       log,
		Health: func(ctx context.Context) error {
			for _, check := range st.health {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		Status: func() any {
			s := statusResponse{
				Status:    "running",
				Uptime:    time.Since(started).Round(time.Second).String(),
				Started:   started,
				WSClients: hub.ClientCount(),
				Backend:   cfg.Storage.Backend,
			}
			if kp != nil {
				s.Keeper = kp.Status()
			}
			return s
		},
	}
	if quotes != nil {
		apiOpts.Quotes = quotes
	}
	srv := api.NewServer(apiOpts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})
	if kp != nil {
		g.Go(func() error { return kp.Run(gctx) })
	}
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("oraculo started",
		zap.String("addr", cfg.Server.Addr),
		zap.String("program_id", programID.String()),
		zap.Bool("keeper", kp != nil),
	)
	return g.Wait()
}

type statusResponse struct {
	Status    string                      `json:"status"`
	Uptime    string                      `json:"uptime"`
	Started   time.Time                   `json:"started"`
	WSClients int                         `json:"ws_clients"`
	Backend   string                      `json:"backend"`
	Keeper    map[string]keeper.JobStatus `json:"keeper,omitempty"`
}
