package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/food-rescue/internal/dispatch"
	"github.com/example/food-rescue/internal/geo"
	"github.com/example/food-rescue/internal/logging"
	"github.com/example/food-rescue/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total claimant location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

type consumerConfig struct {
	Brokers        []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	LocationsTopic string   `env:"KAFKA_LOCATIONS_TOPIC" envDefault:"claimant-locations"`
	OutboxTopic    string   `env:"KAFKA_OUTBOX_TOPIC" envDefault:"notification-outbox"`
	DLQTopic       string   `env:"KAFKA_OUTBOX_DLQ_TOPIC" envDefault:"notification-outbox-dlq"`
	Group          string   `env:"KAFKA_GROUP" envDefault:"food-rescue-consumer"`
	RedisAddr      string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string   `env:"REDIS_PASSWORD"`
	RedisGeoKey    string   `env:"REDIS_GEO_KEY" envDefault:"claimants_geo"`
	SMSGatewayURL  string   `env:"SMS_GATEWAY_URL"`
	SMSGatewayKey  string   `env:"SMS_GATEWAY_KEY"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	var metricsAddr, role string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.StringVar(&role, "role", "locations", "what to consume: locations or outbox")
	flag.Parse()

	_ = godotenv.Load()
	var cfg consumerConfig
	if err := env.Parse(&cfg); err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.Component(logging.NewLogger(cfg.LogLevel), "consumer").With("role", role)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ready func(context.Context) error
	var run func(context.Context)

	switch role {
	case "locations":
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		ready = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
		run = func(ctx context.Context) { consumeLocations(ctx, cfg, &redisAdapter{c: rc}, logger) }
	case "outbox":
		if cfg.SMSGatewayURL == "" {
			logger.Error("SMS_GATEWAY_URL is required for the outbox role")
			os.Exit(1)
		}
		sms := dispatch.NewSMSGateway(cfg.SMSGatewayURL, cfg.SMSGatewayKey, logger)
		oc := dispatch.NewOutboxConsumer(cfg.Brokers, cfg.OutboxTopic, cfg.DLQTopic, cfg.Group+"-outbox", sms, logger)
		defer oc.Close()
		ready = func(context.Context) error { return nil }
		run = func(ctx context.Context) {
			if err := oc.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("outbox consumer stopped", "error", err)
			}
		}
	default:
		logger.Error("unknown role", "role", role)
		os.Exit(2)
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := ready(r.Context()); err != nil {
				http.Error(w, "not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	run(ctx)
	logger.Info("shutting down consumer")
}

// consumeLocations mirrors claimant profiles from Kafka into the Redis pool
// the matcher reads.
func consumeLocations(ctx context.Context, cfg consumerConfig, rc RedisUpdater, logger *slog.Logger) {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.Brokers, Topic: cfg.LocationsTopic, GroupID: cfg.Group, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.LocationsTopic, "brokers", cfg.Brokers, "group", cfg.Group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		c, err := decodeClaimant(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}

		if err := updateRedisWithRetry(ctx, rc, cfg.RedisGeoKey, c, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("redis update failed", "claimant_id", c.ID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

func decodeClaimant(b []byte) (*models.Claimant, error) {
	var c models.Claimant
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, errors.New("claimant id missing")
	}
	if !geo.ValidCoord(c.Loc.Lat, c.Loc.Lon) {
		return nil, errors.New("claimant coordinates out of range")
	}
	return &c, nil
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateRedisWithRetry writes the GEO member and metadata hash for c, retrying
// each step with doubling delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, c *models.Claimant, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		if err := rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: c.Loc.Lon, Latitude: c.Loc.Lat, Name: c.ID}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if err := rc.HSet(ctx, geo.MetaKey(c.ID), geo.MetaFields(*c)); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
