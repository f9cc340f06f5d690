package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type KafkaCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
}

type Config struct {
	Addr            string
	LogLevel        string
	AnalyticsURL    string
	RedisAddr       string
	StaleAfter      time.Duration
	EdgeMaxAge      time.Duration
	UpstreamTimeout time.Duration
	StoreOpTimeout  time.Duration
	HistoryYears    int
	HistoryYearsMax int
	DedupeSize      int
	DedupeTTL       time.Duration
	DedupeSweep     time.Duration
	Kafka           KafkaCfg
}

func FromEnv() Config {
	yearsMax := getint("HISTORY_YEARS_MAX", 10)
	if yearsMax < 1 {
		yearsMax = 1
	}
	years := getint("HISTORY_YEARS_DEFAULT", 3)
	if years < 1 {
		years = 1
	}
	if years > yearsMax {
		years = yearsMax
	}

	return Config{
		Addr:         getenv("ADDR", ":8090"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		AnalyticsURL: getenv("ANALYTICS_URL", "http://localhost:8085/api/market-analytics"),
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),

		// snapshot staleness window; unrelated to the edge max-age below
		StaleAfter: getduration("STALE_AFTER", 600*time.Hour),
		EdgeMaxAge: getduration("EDGE_MAX_AGE", 720*time.Hour),

		UpstreamTimeout: getduration("UPSTREAM_TIMEOUT", 10*time.Second),
		StoreOpTimeout:  getduration("STORE_OP_TIMEOUT", 250*time.Millisecond),

		HistoryYears:    years,
		HistoryYearsMax: yearsMax,

		DedupeSize:  getint("DEDUPE_SIZE", 1024),
		DedupeTTL:   getduration("DEDUPE_TTL", 30*time.Second),
		DedupeSweep: getduration("DEDUPE_SWEEP", 10*time.Second),

		Kafka: KafkaCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "market-data-ingest"),
			GroupID: getenv("KAFKA_GROUP_ID", "stats-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
