package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"promptmeter/internal/config"
	"promptmeter/internal/gateway"
	"promptmeter/internal/repository"
	"promptmeter/internal/service"
	transportGRPC "promptmeter/internal/transport/grpc"
	transportHTTP "promptmeter/internal/transport/http"
	transportNATS "promptmeter/internal/transport/nats"
	"promptmeter/internal/transport/telegram"
	"promptmeter/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	SetupLogger(cfg)

	var cleanupFns []func()
	fail := func(err error) (*App, func(), error) {
		runCleanup(cleanupFns)()
		return nil, nil, err
	}

	// ── Connections ────────────────────────────────────────────────────────────
	var pg *pgPool
	if cfg.NeedsPostgres() {
		db, err := connectPostgres(ctx, cfg.DSN(), int32(cfg.Workers)+4)
		if err != nil {
			return fail(fmt.Errorf("postgres: %w", err))
		}
		pg = &pgPool{db}
		cleanupFns = append(cleanupFns, db.Close)
	}

	var bus repository.MessageBus = repository.NopBus{}
	var natsBus *transportNATS.Bus
	var servers, background []Server

	if cfg.BusProvider == "nats" {
		nc, err := connectNats(cfg.NatsAddr())
		if err != nil {
			return fail(fmt.Errorf("nats: %w", err))
		}
		natsBus = transportNATS.NewBus(nc)
		bus = natsBus
		cleanupFns = append(cleanupFns, nc.Close)

		background = append(background, worker.NewJournalWorker(repository.NewJournalRepo(pg.db), nc))
	}

	// ── Ledger store ───────────────────────────────────────────────────────────
	var ledger service.LedgerStore
	var ledgerProbe transportGRPC.Probe
	switch cfg.LedgerProvider {
	case "postgres":
		ledger = repository.NewLedgerRepo(pg.db, bus, cfg.DefaultBalance)
		ledgerProbe = pg.alive
	case "redis":
		rdb, err := connectRedis(ctx, cfg.RedisAddr())
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
		ledger = repository.NewRedisLedgerRepo(rdb, bus, cfg.DefaultBalance)
		ledgerProbe = func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Ping(ctx).Err() == nil
		}
	default:
		ledger = repository.NewMemoryLedgerRepo(bus, cfg.DefaultBalance)
		ledgerProbe = func() bool { return true }
	}
	slog.Info("ledger store ready", "provider", cfg.LedgerProvider, "default_balance", cfg.DefaultBalance)

	// Entries published during shutdown must reach NATS before the connection closes.
	if natsBus != nil {
		cleanupFns = append(cleanupFns, func() {
			if err := natsBus.Flush(); err != nil {
				slog.Warn("nats: flush on shutdown failed", "error", err)
			}
		})
	}

	// ── AI gateway ─────────────────────────────────────────────────────────────
	gw, err := gateway.NewOpenAIGateway(gateway.Config{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIModel,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
	})
	if err != nil {
		return fail(err)
	}

	// ── Orchestrator and transports ────────────────────────────────────────────
	var svc *service.Orchestrator
	opts := service.Options{
		CostPerRequest:  cfg.CostPerRequest,
		MaxOutputTokens: cfg.MaxTokens,
		Timeout:         cfg.RequestTimeout,
	}

	if cfg.TelegramOn() {
		api, err := telegram.NewAPI(cfg.BotToken)
		if err != nil {
			return fail(err)
		}
		escalator := telegram.NewAdminEscalator(api, cfg.AdminID, 10*time.Minute)
		svc = service.NewOrchestrator(ledger, gw, escalator, opts)
		servers = append(servers, telegram.NewBot(api, svc, cfg.Workers))
	} else {
		svc = service.NewOrchestrator(ledger, gw, nil, opts)
	}

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc, cfg.RequestTimeout))
	}

	if natsBus != nil {
		servers = append(servers, transportNATS.NewHandler(svc, natsBus.Conn(), cfg.Workers))
	}

	if addr, grpcErr := cfg.GRPCAddr(); grpcErr == nil {
		servers = append(servers, transportGRPC.NewServer(addr, map[string]transportGRPC.Probe{
			"gateway": gw.Available,
			"ledger":  ledgerProbe,
		}))
	}

	if len(servers) == 0 {
		return fail(fmt.Errorf("nothing to run: enable telegram, the HTTP API or the nats bus"))
	}

	return NewApp(servers, background...), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
