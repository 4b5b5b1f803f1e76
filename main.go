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

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"condo-water/internal/audit"
	"condo-water/internal/auth"
	mdadapter "condo-water/internal/billing/adapters/masterdata"
	billingapp "condo-water/internal/billing/application"
	billingstore "condo-water/internal/billing/infrastructure/docstore"
	billinginterfaces "condo-water/internal/billing/interfaces"
	billinghttp "condo-water/internal/billing/interfaces/http"
	"condo-water/internal/config"
	"condo-water/internal/docstore"
	"condo-water/internal/docstore/memory"
	pgstore "condo-water/internal/docstore/postgres"
	"condo-water/internal/eventing"
	eventingstore "condo-water/internal/eventing/infrastructure/docstore"
	historyapp "condo-water/internal/history/application"
	historystore "condo-water/internal/history/infrastructure/docstore"
	historycache "condo-water/internal/history/infrastructure/redis"
	historyinterfaces "condo-water/internal/history/interfaces"
	historyhttp "condo-water/internal/history/interfaces/http"
	invapp "condo-water/internal/invitations/application"
	invitations "condo-water/internal/invitations/domain"
	invstore "condo-water/internal/invitations/infrastructure/docstore"
	invmail "condo-water/internal/invitations/infrastructure/mail"
	invhttp "condo-water/internal/invitations/interfaces/http"
	"condo-water/internal/logging"
	mdapp "condo-water/internal/masterdata/application"
	mdstore "condo-water/internal/masterdata/infrastructure/docstore"
	mdhttp "condo-water/internal/masterdata/interfaces/http"
	"condo-water/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config error", zap.Error(err))
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "condo-water")
	if err != nil {
		zap.NewExample().Fatal("logger error", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	store, db, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("store error", zap.Error(err))
	}
	if db != nil {
		defer db.Close()
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(store)

	unitRepo := mdstore.NewRepository(store)
	masterdataService, err := mdapp.NewService(unitRepo)
	if err != nil {
		logger.Fatal("masterdata service error", zap.Error(err))
	}
	scope := auth.NewScopeChecker(unitRepo)

	bus := eventing.NewInMemoryBus()
	processedStore, err := eventingstore.NewProcessedStore(store)
	if err != nil {
		logger.Fatal("processed store error", zap.Error(err))
	}
	busPublisher, err := billinginterfaces.NewBusPublisher(bus)
	if err != nil {
		logger.Fatal("bus publisher error", zap.Error(err))
	}

	readingRepo, err := billingstore.NewReadingRepository(store)
	if err != nil {
		logger.Fatal("reading repository error", zap.Error(err))
	}
	directory, err := mdadapter.NewUnitDirectory(unitRepo)
	if err != nil {
		logger.Fatal("unit directory error", zap.Error(err))
	}
	lifecycle, err := billingapp.NewLifecycleService(readingRepo, readingRepo, directory, systemClock{},
		billingapp.WithPublisher(busPublisher),
		billingapp.WithLogger(logger.Named("billing")),
	)
	if err != nil {
		logger.Fatal("lifecycle service error", zap.Error(err))
	}

	historyRepo := historystore.NewRepository(store)
	queryOpts := []historyapp.QueryOption{historyapp.WithQueryLogger(logger.Named("history"))}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache, err := historycache.NewStatsCache(client, historycache.WithTTL(cfg.StatsCacheTTL))
		if err != nil {
			logger.Fatal("stats cache error", zap.Error(err))
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := cache.Ping(pingCtx); err != nil {
			logger.Warn("redis ping failed, stats cache still enabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		queryOpts = append(queryOpts, historyapp.WithStatsCache(cache))
	}
	historyQuery, err := historyapp.NewQueryService(historyRepo, queryOpts...)
	if err != nil {
		logger.Fatal("history query error", zap.Error(err))
	}
	rebuilder, err := historyapp.NewRebuilder(readingRepo, historyRepo, historyQuery, logger.Named("history"))
	if err != nil {
		logger.Fatal("history rebuilder error", zap.Error(err))
	}

	closedConsumer, err := historyinterfaces.NewPeriodClosedConsumer(historyQuery, logger.Named("history"))
	if err != nil {
		logger.Fatal("period closed consumer error", zap.Error(err))
	}
	closedConsumer.Register(bus, processedStore)
	periodLog := billinginterfaces.NewLoggingPublisher(logger.Named("billing"))
	eventing.Subscribe(bus, eventing.EventTypeOf[billingapp.PeriodClosed](), "billing.log", eventing.Typed(periodLog.Handle), processedStore)

	invitationRepo, err := invstore.NewRepository(store)
	if err != nil {
		logger.Fatal("invitation repository error", zap.Error(err))
	}
	var mailer invitations.Mailer = invmail.NewLoggingMailer(logger.Named("mail"))
	if cfg.MailWebhook != "" {
		webhook, err := invmail.NewWebhookMailer(cfg.MailWebhook, logger.Named("mail"), invmail.WithRetries(cfg.MailRetries))
		if err != nil {
			logger.Fatal("mail webhook error", zap.Error(err))
		}
		mailer = webhook
	}
	invitationService, err := invapp.NewService(invitationRepo, mailer, cfg.AppURL,
		invapp.WithTTL(cfg.InvitationTTL),
		invapp.WithLogger(logger.Named("invitations")),
	)
	if err != nil {
		logger.Fatal("invitation service error", zap.Error(err))
	}

	readingHandler, err := billinghttp.NewHandler(lifecycle, scope, auditRepo, logger)
	if err != nil {
		logger.Fatal("reading handler error", zap.Error(err))
	}
	historyHandler, err := historyhttp.NewHandler(historyQuery, rebuilder, scope, auditRepo, logger)
	if err != nil {
		logger.Fatal("history handler error", zap.Error(err))
	}
	masterdataHandler, err := mdhttp.NewHandler(masterdataService, scope, auditRepo, logger)
	if err != nil {
		logger.Fatal("masterdata handler error", zap.Error(err))
	}
	invitationHandler, err := invhttp.NewHandler(invitationService, []byte(cfg.JWTSecret), cfg.SessionTTL, auditRepo, logger)
	if err != nil {
		logger.Fatal("invitation handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/readings", readingHandler)
	mux.Handle("/api/v1/readings/", readingHandler)
	mux.Handle("/api/v1/condos", masterdataHandler)
	mux.Handle("/api/v1/condos/{condoID}/units", masterdataHandler)
	mux.Handle("/api/v1/units/{unitID}/active", masterdataHandler)
	mux.Handle("/api/v1/condos/{condoID}/history", historyHandler)
	mux.Handle("/api/v1/condos/{condoID}/history/rebuild", historyHandler)
	mux.Handle("/api/v1/condos/{condoID}/stats", historyHandler)
	mux.Handle("/api/v1/units/{unitID}/history", historyHandler)
	mux.Handle("/api/v1/units/{unitID}/stats", historyHandler)
	mux.Handle("/api/v1/invitations", invitationHandler)
	mux.Handle("/api/v1/invitations/", invitationHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", zap.Error(err))
		}
	}()

	logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreBackend))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}

// openStore returns the configured document store. db is nil for the memory store.
func openStore(cfg config.Config, logger *zap.Logger) (docstore.Store, *sql.DB, error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("using in-memory document store, data is lost on restart")
		return memory.NewStore(), nil, nil
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return pgstore.NewStore(db), db, nil
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
