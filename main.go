package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	alertapp "greenhouse-cloud/internal/alerts/application"
	alerts "greenhouse-cloud/internal/alerts/domain"
	"greenhouse-cloud/internal/alerts/infrastructure/memory"
	alertrepo "greenhouse-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "greenhouse-cloud/internal/alerts/interfaces/http"
	"greenhouse-cloud/internal/alerts/notify"
	"greenhouse-cloud/internal/audit"
	"greenhouse-cloud/internal/auth"
	"greenhouse-cloud/internal/config"
	"greenhouse-cloud/internal/eventbus"
	"greenhouse-cloud/internal/ingest"
	"greenhouse-cloud/internal/logger"
	"greenhouse-cloud/internal/middleware"
	"greenhouse-cloud/internal/observability/metrics"
)

const shutdownTimeout = 15 * time.Second

type stores struct {
	rules  alertapp.RuleStore
	sink   alertapp.AlertSink
	lister alerthttp.AlertLister
	audit  audit.Logger
}

func main() {
	cfg, err := config.Load()
	log := logger.Init(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	var db *sql.DB
	if cfg.Store == config.StorePostgres {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db open error")
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatal().Err(err).Msg("db ping error")
		}
	}
	metrics.Init(db, logger.WithComponent(log, "metrics"))

	st, err := buildStores(cfg, db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store error")
	}

	bus := eventbus.NewInMemoryBus()
	broker := alerthttp.NewSSEBroker()
	bus.Subscribe(eventbus.EventTypeOf[alertapp.AlertCreated](), broker.HandleAlertCreated)

	channels, closeChannels, err := buildChannels(cfg.Notify, log)
	if err != nil {
		log.Fatal().Err(err).Msg("notification channel error")
	}
	queue := notify.NewQueue(channels,
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithWorkers(cfg.Notify.Workers),
		notify.WithRetry(cfg.Notify.MaxRetries, cfg.Notify.Backoff),
		notify.WithSendTimeout(cfg.Notify.SendTimeout),
		notify.WithQueueLogger(logger.WithComponent(log, "notify")),
	)
	queue.Start()

	ruleCache, err := alertapp.NewRuleCache(st.rules,
		alertapp.WithRuleLoadTimeout(cfg.Ingest.RuleLoadTimeout),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("rule cache error")
	}
	dispatcher, err := alertapp.NewDispatcher(st.sink, st.rules,
		alertapp.WithEventPublisher(bus),
		alertapp.WithNotificationQueue(queue),
		alertapp.WithDispatcherLogger(logger.WithComponent(log, "dispatcher")),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("dispatcher error")
	}
	engine, err := alertapp.NewEngine(ruleCache, dispatcher,
		alertapp.WithEngineLogger(logger.WithComponent(log, "engine")),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("engine error")
	}
	janitor, err := alertapp.NewJanitor(engine.Tracker(), engine.Cooldowns(),
		alertapp.WithSweepInterval(cfg.Janitor.Interval),
		alertapp.WithStateTTL(cfg.Janitor.StateTTL),
		alertapp.WithJanitorLogger(logger.WithComponent(log, "janitor")),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("janitor error")
	}
	janitor.Start()

	pool, err := ingest.NewPool(ingest.Config{
		Detector:   engine,
		Workers:    cfg.Ingest.Workers,
		ShardQueue: cfg.Ingest.ShardQueue,
		Timeout:    cfg.Ingest.Timeout,
		Logger:     logger.WithComponent(log, "ingest"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ingest pool error")
	}

	httpLog := logger.WithComponent(log, "http")
	readingHandler, err := alerthttp.NewReadingHandler(pool, httpLog)
	if err != nil {
		log.Fatal().Err(err).Msg("readings handler error")
	}
	cacheHandler, err := alerthttp.NewRuleCacheHandler(engine, st.audit, httpLog)
	if err != nil {
		log.Fatal().Err(err).Msg("rule cache handler error")
	}
	alertHandler, err := alerthttp.NewAlertHandler(st.lister)
	if err != nil {
		log.Fatal().Err(err).Msg("alerts handler error")
	}

	var authMiddleware *auth.Middleware
	if cfg.JWTSecret != "" {
		policy := auth.NewPolicy([]string{"/healthz", "/metrics"}, auth.AlertRoutes()...)
		authMiddleware = auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	} else {
		log.Warn().Msg("AUTH_JWT_SECRET not set; API authentication disabled")
	}

	mux := http.NewServeMux()
	route := func(pattern string, handler http.Handler) {
		mux.Handle(pattern, middleware.Chain(handler,
			middleware.Logging(httpLog, pattern),
			middleware.Recovery(httpLog),
			authMiddleware.Wrap,
		))
	}
	route("/api/v1/readings", readingHandler)
	route("/api/v1/alerts", alertHandler)
	route("/api/v1/alerts/stream", alerthttp.NewStreamHandler(broker))
	route("/api/v1/rules/cache/invalidate", cacheHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.Store).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	if err := pool.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ingest pool shutdown error")
	}
	janitor.Stop()
	if err := queue.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("notification queue shutdown error")
	}
	closeChannels()
	log.Info().Msg("shutdown complete")
}

func buildStores(cfg config.Config, db *sql.DB, log zerolog.Logger) (stores, error) {
	ctx := context.Background()
	if cfg.Store == config.StoreMemory {
		store := memory.NewStore(cfg.AlertRetention)
		if err := store.Seed(cfg.Rules); err != nil {
			return stores{}, err
		}
		log.Info().Int("rules", len(cfg.Rules)).Msg("memory store seeded")
		return stores{
			rules:  store,
			sink:   store,
			lister: store,
			audit:  audit.NewLogWriter(logger.WithComponent(log, "audit")),
		}, nil
	}

	ruleRepo := alertrepo.NewAlertRuleRepository(db, alertrepo.WithRuleLogger(logger.WithComponent(log, "rule_repo")))
	logRepo := alertrepo.NewAlertLogRepository(db)
	seeded := 0
	for i := range cfg.Rules {
		rule := cfg.Rules[i]
		if _, err := ruleRepo.GetByID(ctx, rule.ID); err == nil {
			continue
		} else if !errors.Is(err, alerts.ErrRuleNotFound) {
			return stores{}, err
		}
		if err := ruleRepo.Create(ctx, &rule); err != nil {
			return stores{}, err
		}
		seeded++
	}
	if seeded > 0 {
		log.Info().Int("rules", seeded).Msg("alert rules seeded")
	}
	return stores{
		rules:  ruleRepo,
		sink:   logRepo,
		lister: logRepo,
		audit:  audit.NewRepository(db),
	}, nil
}

// buildChannels maps every rule action to a delivery channel. Person-facing
// actions are handed to external providers that tail the structured log.
func buildChannels(cfg config.NotifyConfig, log zerolog.Logger) ([]notify.Channel, func(), error) {
	notifyLog := logger.WithComponent(log, "notify")
	channels := []notify.Channel{
		notify.NewLogChannel(alerts.ActionEmail, notifyLog),
		notify.NewLogChannel(alerts.ActionSMS, notifyLog),
		notify.NewLogChannel(alerts.ActionPush, notifyLog),
	}
	closeFn := func() {}

	if len(cfg.WebhookURLs) > 0 {
		var opts []notify.WebhookOption
		if cfg.Template != "" {
			tpl, err := notify.NewTemplate(cfg.Template)
			if err != nil {
				return nil, closeFn, err
			}
			opts = append(opts, notify.WithTemplate(tpl))
		}
		webhooks := make([]notify.Channel, 0, len(cfg.WebhookURLs))
		for _, url := range cfg.WebhookURLs {
			webhook, err := notify.NewWebhookChannel(url, opts...)
			if err != nil {
				return nil, closeFn, err
			}
			webhooks = append(webhooks, webhook)
		}
		channels = append(channels, notify.NewMultiChannel(alerts.ActionWebhook, webhooks...))
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaChannel, err := notify.NewKafkaChannel(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, closeFn, err
		}
		channels = append(channels, kafkaChannel)
		closeFn = func() {
			if err := kafkaChannel.Close(); err != nil {
				notifyLog.Error().Err(err).Msg("kafka writer close error")
			}
		}
	}
	return channels, closeFn, nil
}
