package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds Redis connection and behavior settings.
type RedisConfig struct {
	URL                string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// StreamsConfig names the streams the worker consumes and publishes,
// plus the consumer-group behavior applied to the inbound ones.
type StreamsConfig struct {
	RequestStream     string
	ReplyStream       string
	OutcomeStream     string
	DeadLetterStream  string
	BillingStream     string
	ProductFeedStream string
	AdNetworkStream   string
	CampaignStream    string
	Group             string
	Consumer          string
	StreamMaxLen      int64
	VisibilityTimeout time.Duration
	MaxDeliveries     int64
	Block             time.Duration
	BatchSize         int64
	Shards            int
	ShardQueueDepth   int
}

// ReliabilityConfig holds outbound publish retry, circuit breaker and
// rate limit settings.
type ReliabilityConfig struct {
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	RateLimitInterval   time.Duration
	RateLimitBurst      int
	ConsumeInterval     time.Duration
	ConsumeBurst        int
}

// StoreConfig holds the Postgres connection string. An empty DSN
// selects the in-memory store.
type StoreConfig struct {
	PostgresDSN string
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// JournalConfig holds the transition journal file path. Empty disables
// journaling.
type JournalConfig struct {
	Path string
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	var cfg RedisConfig

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.HealthcheckTimeout, err = durationOrDefault("REDIS_HEALTHCHECK_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadStreams reads stream names and consumer-group settings from env,
// applying defaults where unset.
func LoadStreams() (StreamsConfig, error) {
	cfg := StreamsConfig{
		RequestStream:     stringOrDefault("STREAM_REQUESTS", "campaign.publish.requests"),
		ReplyStream:       stringOrDefault("STREAM_REPLIES", "campaign.publish.replies"),
		OutcomeStream:     stringOrDefault("STREAM_OUTCOMES", "campaign.publish.outcomes"),
		DeadLetterStream:  stringOrDefault("STREAM_DEAD_LETTERS", "campaign.publish.dlq"),
		BillingStream:     stringOrDefault("STREAM_BILLING_COMMANDS", "billing.commands"),
		ProductFeedStream: stringOrDefault("STREAM_PRODUCT_FEED_COMMANDS", "productfeed.commands"),
		AdNetworkStream:   stringOrDefault("STREAM_AD_NETWORK_COMMANDS", "adnetwork.commands"),
		CampaignStream:    stringOrDefault("STREAM_CAMPAIGN_COMMANDS", "campaign.commands"),
		Group:             stringOrDefault("STREAM_GROUP", "campaign-publishing"),
	}

	consumer := strings.TrimSpace(os.Getenv("STREAM_CONSUMER"))
	if consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		consumer = host
	}
	cfg.Consumer = consumer

	var err error
	if cfg.StreamMaxLen, err = int64OrDefault("STREAM_MAXLEN", 100000); err != nil {
		return cfg, err
	}
	if cfg.VisibilityTimeout, err = durationOrDefault("STREAM_VISIBILITY_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.MaxDeliveries, err = int64OrDefault("STREAM_MAX_DELIVERIES", 5); err != nil {
		return cfg, err
	}
	if cfg.Block, err = durationOrDefault("STREAM_BLOCK", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = int64OrDefault("STREAM_BATCH_SIZE", 10); err != nil {
		return cfg, err
	}
	if cfg.Shards, err = intOrDefault("WORKER_SHARDS", 8); err != nil {
		return cfg, err
	}
	if cfg.ShardQueueDepth, err = intOrDefault("WORKER_SHARD_QUEUE_DEPTH", 64); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadReliability reads outbound reliability settings from env.
func LoadReliability() (ReliabilityConfig, error) {
	cfg := ReliabilityConfig{}

	var err error
	if cfg.RetryMaxAttempts, err = intOrDefault("PUBLISH_RETRY_MAX_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = durationOrDefault("PUBLISH_RETRY_BASE_DELAY", 50*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxDelay, err = durationOrDefault("PUBLISH_RETRY_MAX_DELAY", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BreakerMaxFailures, err = intOrDefault("PUBLISH_BREAKER_MAX_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerResetTimeout, err = durationOrDefault("PUBLISH_BREAKER_RESET_TIMEOUT", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateLimitInterval, err = durationOrDefault("PUBLISH_RATE_LIMIT_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = intOrDefault("PUBLISH_RATE_LIMIT_BURST", 0); err != nil {
		return cfg, err
	}
	if cfg.ConsumeInterval, err = durationOrDefault("CONSUME_RATE_LIMIT_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if cfg.ConsumeBurst, err = intOrDefault("CONSUME_RATE_LIMIT_BURST", 0); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadStore reads the saga store settings from env.
func LoadStore() StoreConfig {
	return StoreConfig{PostgresDSN: strings.TrimSpace(os.Getenv("POSTGRES_DSN"))}
}

// LoadObservability reads the metrics HTTP server address from env.
func LoadObservability() ObservabilityConfig {
	return ObservabilityConfig{Addr: stringOrDefault("OBS_ADDR", ":9100")}
}

// LoadJournal reads the transition journal settings from env.
func LoadJournal() JournalConfig {
	return JournalConfig{Path: strings.TrimSpace(os.Getenv("JOURNAL_PATH"))}
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func stringOrDefault(name, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return raw
}

func durationOrDefault(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func intOrDefault(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func int64OrDefault(name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}
