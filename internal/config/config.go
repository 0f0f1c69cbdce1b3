package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"

	"github.com/example/food-rescue/internal/models"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are loaded from environment variables with defaults so the binary
// can run locally against the in-memory store without extra setup.
type ServerConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisGeoKey   string `env:"REDIS_GEO_KEY" envDefault:"claimants_geo"`

	KafkaBrokers        []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaEventsTopic    string   `env:"KAFKA_EVENTS_TOPIC" envDefault:"allocation-events"`
	KafkaLocationsTopic string   `env:"KAFKA_LOCATIONS_TOPIC" envDefault:"claimant-locations"`
	KafkaOutboxTopic    string   `env:"KAFKA_OUTBOX_TOPIC" envDefault:"notification-outbox"`

	PGDSN         string `env:"PG_DSN"`
	RunMigrations bool   `env:"MIGRATE"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY"`
	AppName       string `env:"APP_NAME" envDefault:"FoodRescue"`

	SMSGatewayURL string `env:"SMS_GATEWAY_URL"`
	SMSGatewayKey string `env:"SMS_GATEWAY_KEY"`

	PlacesEndpoint string        `env:"PLACES_ENDPOINT"`
	PlacesAPIKey   string        `env:"PLACES_API_KEY"`
	PlacesCacheTTL time.Duration `env:"PLACES_CACHE_TTL" envDefault:"10m"`

	ExpirySweepInterval  time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"10m"`
	PickupReaperInterval time.Duration `env:"PICKUP_REAPER_INTERVAL" envDefault:"1h"`

	Matching   Matching
	Escalation Escalation
}

// Matching holds the tunables of the scoring engine that are safe to change.
// Score weights are fixed in the matcher package.
type Matching struct {
	MaxRadiusKm float64 `env:"MATCH_MAX_RADIUS_KM" envDefault:"25"`
}

type Escalation struct {
	Tick            time.Duration `env:"ESCALATION_TICK" envDefault:"1m"`
	BatchSize       int           `env:"ESCALATION_BATCH_SIZE" envDefault:"5"`
	CriticalTimeout time.Duration `env:"ESCALATION_TIMEOUT_CRITICAL" envDefault:"5m"`
	HighTimeout     time.Duration `env:"ESCALATION_TIMEOUT_HIGH" envDefault:"10m"`
	MediumTimeout   time.Duration `env:"ESCALATION_TIMEOUT_MEDIUM" envDefault:"20m"`
	LowTimeout      time.Duration `env:"ESCALATION_TIMEOUT_LOW" envDefault:"30m"`
}

func DefaultMatching() Matching { return Matching{MaxRadiusKm: 25} }

func DefaultEscalation() Escalation {
	return Escalation{
		Tick:            time.Minute,
		BatchSize:       5,
		CriticalTimeout: 5 * time.Minute,
		HighTimeout:     10 * time.Minute,
		MediumTimeout:   20 * time.Minute,
		LowTimeout:      30 * time.Minute,
	}
}

// Timeout is how long a listing of urgency u waits between notification waves.
func (e Escalation) Timeout(u models.Urgency) time.Duration {
	switch u {
	case models.UrgencyCritical:
		return e.CriticalTimeout
	case models.UrgencyHigh:
		return e.HighTimeout
	case models.UrgencyMedium:
		return e.MediumTimeout
	default:
		return e.LowTimeout
	}
}

func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.KafkaBrokers = splitAndTrim(cfg.KafkaBrokers)
	return cfg, cfg.Validate()
}

func (c ServerConfig) Validate() error {
	var errs []error
	if c.Matching.MaxRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_MAX_RADIUS_KM must be > 0"))
	}
	if c.Escalation.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ESCALATION_BATCH_SIZE must be > 0"))
	}
	if c.Escalation.Tick <= 0 {
		errs = append(errs, fmt.Errorf("ESCALATION_TICK must be > 0"))
	}
	for name, d := range map[string]time.Duration{
		"ESCALATION_TIMEOUT_CRITICAL": c.Escalation.CriticalTimeout,
		"ESCALATION_TIMEOUT_HIGH":     c.Escalation.HighTimeout,
		"ESCALATION_TIMEOUT_MEDIUM":   c.Escalation.MediumTimeout,
		"ESCALATION_TIMEOUT_LOW":      c.Escalation.LowTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	if c.ExpirySweepInterval <= 0 || c.PickupReaperInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep intervals must be > 0"))
	}
	if c.SMSGatewayURL != "" && c.SMSGatewayKey == "" {
		errs = append(errs, fmt.Errorf("SMS_GATEWAY_KEY is required when SMS_GATEWAY_URL is set"))
	}
	return errors.Join(errs...)
}

func splitAndTrim(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
