package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTSecret    string
	OTLPEndpoint string

	HoldTTL          time.Duration
	PricePerSeat     float64
	SnapshotCacheTTL time.Duration
	IdempotencyTTL   time.Duration
	ExpiryInterval   time.Duration
	OutboxInterval   time.Duration
	OutboxBatch      int

	// Client side.
	APIBaseURL          string
	RealtimeTransport   string
	RealtimeJoinTimeout time.Duration
	PollInterval        time.Duration
}

const (
	TransportRabbit = "rabbit"
	TransportRedis  = "redis"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		CRDBDSN:           os.Getenv("CRDB_DSN"),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           getenv("MONGO_DB", "seats"),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RabbitURL:         os.Getenv("RABBIT_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		APIBaseURL:        getenv("API_BASE_URL", "http://localhost:8080"),
		RealtimeTransport: getenv("REALTIME_TRANSPORT", TransportRabbit),
	}

	var err error
	durations := []struct {
		dst *time.Duration
		key string
		def time.Duration
	}{
		{&cfg.HoldTTL, "HOLD_TTL", 15 * time.Minute},
		{&cfg.SnapshotCacheTTL, "SNAPSHOT_CACHE_TTL", time.Second},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", time.Hour},
		{&cfg.ExpiryInterval, "EXPIRY_INTERVAL", 30 * time.Second},
		{&cfg.OutboxInterval, "OUTBOX_INTERVAL", 500 * time.Millisecond},
		{&cfg.RealtimeJoinTimeout, "REALTIME_JOIN_TIMEOUT", 3 * time.Second},
		{&cfg.PollInterval, "POLL_INTERVAL", 2 * time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.PricePerSeat, err = floatEnv("PRICE_PER_SEAT", 100.0); err != nil {
		return nil, err
	}
	if cfg.OutboxBatch, err = intEnv("OUTBOX_BATCH", 50); err != nil {
		return nil, err
	}

	switch cfg.RealtimeTransport {
	case TransportRabbit, TransportRedis:
	default:
		return nil, errors.Newf("invalid REALTIME_TRANSPORT %q", cfg.RealtimeTransport)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	if d <= 0 {
		return 0, errors.Newf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return f, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return n, nil
}
