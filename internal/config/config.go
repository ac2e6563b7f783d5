// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Event backends accepted in EVENTS_BACKEND.
const (
	EventsNone    = "none"
	EventsAMQP    = "amqp"
	EventsKafka   = "kafka"
	EventsWebhook = "webhook"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Scored transaction events
	EventsBackend  string
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
	KafkaBrokers   []string
	KafkaTopic     string
	WebhookURL     string
	WebhookSecret  string // HMAC-SHA256 key for X-Spendguard-Signature; unsigned when empty

	// Observability
	OTLPEndpoint string

	// HTTP edge
	GatewaySecret  string // required in X-Gateway-Secret on gateway routes; open when empty
	RateLimitRPM   int
	AllowedOrigins []string // CORS and WebSocket origin allow list; empty allows all

	// Transactions recorded without a currency get this code.
	DefaultCurrency string

	// Users registered with one of these emails get the admin role.
	AdminEmails []string
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultAMQPExchange   = "spendguard"
	DefaultAMQPRoutingKey = "transaction.scored"
	DefaultKafkaTopic     = "transactions.scored"
	DefaultRateLimitRPM   = 120
	DefaultCurrency       = "INR"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		EventsBackend:   strings.ToLower(getEnv("EVENTS_BACKEND", EventsNone)),
		AMQPURL:         os.Getenv("AMQP_URL"),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", DefaultAMQPExchange),
		AMQPRoutingKey:  getEnv("AMQP_ROUTING_KEY", DefaultAMQPRoutingKey),
		KafkaBrokers:    getEnvList("KAFKA_BROKERS"),
		KafkaTopic:      getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		WebhookURL:      os.Getenv("WEBHOOK_URL"),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		GatewaySecret:   os.Getenv("GATEWAY_SECRET"),
		RateLimitRPM:    int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", DefaultCurrency)),
		AdminEmails:     getEnvList("ADMIN_EMAILS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	switch c.EventsBackend {
	case EventsNone, "":
	case EventsAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when EVENTS_BACKEND=amqp")
		}
	case EventsKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_BACKEND=kafka")
		}
		if c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_TOPIC is required when EVENTS_BACKEND=kafka")
		}
	case EventsWebhook:
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("WEBHOOK_URL must be an http(s) URL when EVENTS_BACKEND=webhook")
		}
	default:
		return fmt.Errorf("EVENTS_BACKEND must be one of none, amqp, kafka, webhook; got %q", c.EventsBackend)
	}

	if c.IsProduction() && c.GatewaySecret == "" {
		return fmt.Errorf("GATEWAY_SECRET is required in production")
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}

	if len(c.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code, got %q", c.DefaultCurrency)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
