package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/food-rescue/internal/allocation"
	"github.com/example/food-rescue/internal/auth"
	"github.com/example/food-rescue/internal/config"
	"github.com/example/food-rescue/internal/dispatch"
	"github.com/example/food-rescue/internal/escalation"
	"github.com/example/food-rescue/internal/geo"
	httpapi "github.com/example/food-rescue/internal/http"
	"github.com/example/food-rescue/internal/ingest"
	"github.com/example/food-rescue/internal/jobs"
	"github.com/example/food-rescue/internal/logging"
	"github.com/example/food-rescue/internal/matcher"
	"github.com/example/food-rescue/internal/places"
	"github.com/example/food-rescue/internal/storage"
)

const defaultPlacesEndpoint = "https://maps.googleapis.com/maps/api/place/nearbysearch/json"

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var pool geo.Pool = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		if err := rg.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-memory pool", "addr", cfg.RedisAddr, "error", err)
		} else {
			pool = rg
			defer rg.Close()
		}
	}
	sinks := []httpapi.ClaimantSink{pool}

	alloc := allocation.NewService(store, logging.Component(logger, "allocation"))

	wsreg := dispatch.NewWSRegistry(logging.Component(logger, "ws"))
	fanout := dispatch.Fanout{wsreg}

	if len(cfg.KafkaBrokers) > 0 {
		events := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer events.Close()
		alloc.Events = events

		locations := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationsTopic)
		defer locations.Close()
		sinks = append(sinks, httpapi.ClaimantSinkFunc(locations.PublishClaimant))
	}

	// SMS goes through the outbox when Kafka is present so cmd/consumer can retry it.
	switch {
	case len(cfg.KafkaBrokers) > 0 && cfg.SMSGatewayURL != "":
		outbox := dispatch.NewOutbox(cfg.KafkaBrokers, cfg.KafkaOutboxTopic, logging.Component(logger, "outbox"))
		defer outbox.Close()
		fanout = append(fanout, outbox)
	case cfg.SMSGatewayURL != "":
		fanout = append(fanout, dispatch.NewSMSGateway(cfg.SMSGatewayURL, cfg.SMSGatewayKey, logging.Component(logger, "sms")))
	default:
		fanout = append(fanout, dispatch.LogDispatcher{Log: logging.Component(logger, "notify")})
	}

	m := &matcher.Service{Pool: pool, Config: matcher.NewConfig(cfg.Matching)}
	sched := escalation.New(store, m, fanout, cfg.Escalation, cfg.AppName, logging.Component(logger, "escalation"))
	alloc.Announcer = sched

	var finder *places.Finder
	if cfg.PlacesAPIKey != "" {
		endpoint := cfg.PlacesEndpoint
		if endpoint == "" {
			endpoint = defaultPlacesEndpoint
		}
		finder = places.NewFinder(places.NewHTTPClient(endpoint, cfg.PlacesAPIKey), cfg.PlacesCacheTTL, logging.Component(logger, "places"))
	}

	signingKey := cfg.JWTSigningKey
	if signingKey == "" {
		logger.Warn("JWT_SIGNING_KEY not set, using an insecure development key")
		signingKey = "dev-only-signing-key"
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Alloc:     alloc,
		Matcher:   m,
		Places:    finder,
		Auth:      auth.New(signingKey, cfg.AppName),
		WSReg:     wsreg,
		Claimants: sinks,
	}, logger)

	go sched.Run(ctx)
	go jobs.Every(ctx, cfg.ExpirySweepInterval, "expiry_sweep", logger, func(ctx context.Context) error {
		_, err := alloc.ExpireListings(ctx)
		return err
	})
	go jobs.Every(ctx, cfg.PickupReaperInterval, "pickup_reaper", logger, func(ctx context.Context) error {
		_, err := alloc.ReapOverduePickups(ctx)
		return err
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("food-rescue listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("stopped")
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.PGDSN == "" {
		logger.Info("using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}
	pg, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := pg.Migrate(migrateCtx, filepath.Join("migrations", "001_create_schema.sql")); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		logger.Info("migration applied", "file", "001_create_schema.sql")
	}
	return pg, func() { _ = pg.Close() }, nil
}
