package infrastructure

import (
	"context"
	"time"

	"tutorpay/internal/config"
	"tutorpay/internal/correlator"
	"tutorpay/internal/notifier"
	"tutorpay/internal/ratelimit"
	"tutorpay/internal/repository"
	"tutorpay/internal/service"
	transportHTTP "tutorpay/internal/transport/http"
	transportNATS "tutorpay/internal/transport/nats"
	"tutorpay/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error. Config
// errors fail fast here; nothing starts half-configured.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	// ── Engine wiring ──────────────────────────────────────────────────────
	cache := repository.NewRedisFingerprintCache(rdb)
	repo := repository.NewPurchaseRepo(db, cache, cfg.DedupRetention)

	tokens := correlator.New(cfg.TokenTTL, cfg.TokenMaxAge)
	limiter := ratelimit.New()
	notify := notifier.NewNatsNotifier(nc)
	bus := transportNATS.NewBus(nc)

	var svc service.PaymentService = service.NewEngine(
		repo, tokens, limiter, notify, bus,
		cfg.AdminIDs, cfg.SubmissionPolicy, cfg.InteractionPolicy,
	)

	servers := []Server{
		transportNATS.NewHandler(svc, nc),
		worker.NewDecisionWorker(notify, nc),
		correlator.NewSweeper(tokens, time.Minute),
		newLimiterJanitor(limiter),
	}
	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in
// reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
