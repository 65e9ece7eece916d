package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const ServiceName = "order-stream"

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	Store    string
	MySQLDSN string

	RedisAddr      string
	IdempotencyTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	OtelEndpoint string
	LogLevel     string

	StreamHeartbeat time.Duration
	BusBuffer       int
	BusOverflow     string

	CrowdCommand  string
	CrowdTimeout  time.Duration
	CrowdCacheTTL time.Duration

	SeedItems map[string]int
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	env := func(k, def string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		HTTPAddr:     env("HTTP_ADDR", ":8080"),
		GRPCAddr:     env("GRPC_ADDR", ":50051"),
		Store:        env("STORE", StoreMySQL),
		MySQLDSN:     env("MYSQL_DSN", "root:root@tcp(localhost:3306)/orderstream?parseTime=true"),
		RedisAddr:    getenv("REDIS_ADDR"),
		KafkaTopic:   env("KAFKA_TOPIC", "order.lifecycle"),
		OtelEndpoint: getenv("OTEL_ENDPOINT"),
		LogLevel:     env("LOG_LEVEL", "info"),
		BusOverflow:  env("BUS_OVERFLOW", "drop-oldest"),
		CrowdCommand: getenv("CROWD_COMMAND"),
	}

	if b := getenv("KAFKA_BROKERS"); b != "" {
		for _, s := range strings.Split(b, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, s)
			}
		}
	}

	var err error
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"IDEMPOTENCY_TTL", "24h", &cfg.IdempotencyTTL},
		{"STREAM_HEARTBEAT", "30s", &cfg.StreamHeartbeat},
		{"CROWD_TIMEOUT", "20s", &cfg.CrowdTimeout},
		{"CROWD_CACHE_TTL", "15s", &cfg.CrowdCacheTTL},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(env(d.key, d.def)); err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if *d.dst <= 0 {
			return nil, fmt.Errorf("%s must be positive", d.key)
		}
	}

	if cfg.BusBuffer, err = strconv.Atoi(env("BUS_BUFFER", "64")); err != nil {
		return nil, fmt.Errorf("BUS_BUFFER: %w", err)
	}
	if cfg.BusBuffer <= 0 {
		return nil, fmt.Errorf("BUS_BUFFER must be positive")
	}

	if cfg.SeedItems, err = parseSeed(getenv("SEED_ITEMS")); err != nil {
		return nil, fmt.Errorf("SEED_ITEMS: %w", err)
	}

	switch cfg.Store {
	case StoreMySQL, StoreMemory:
	default:
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StoreMySQL, StoreMemory, cfg.Store)
	}

	return cfg, nil
}

// parseSeed reads "Coffee=10,Bagel=5".
func parseSeed(s string) (map[string]int, error) {
	out := make(map[string]int)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, qty, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("bad entry %q", pair)
		}
		n, err := strconv.Atoi(qty)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad stock in %q", pair)
		}
		out[name] = n
	}
	return out, nil
}
