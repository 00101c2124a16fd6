package config

import (
	"os"
	"strconv"
	"time"
)

// Fan-out modes for storage dispatch.
const (
	FanoutParallel   = "parallel"
	FanoutSequential = "sequential"
)

// Settings are the process-level runtime inputs, resolved from the
// environment. They are deliberately separate from the declarative
// document: the document describes chains, Settings describe this node.
type Settings struct {
	RedisURL      string
	ConfigPath    string
	MetricsAddr   string
	Workers       int
	FanoutMode    string
	CacheTTL      time.Duration
	IndexTTL      time.Duration
	DLQTTL        time.Duration
	SortedSetName string
	StageTimeout  time.Duration
	PopTimeout    time.Duration
	GracePeriod   time.Duration
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		RedisURL:      "redis://localhost:6379",
		ConfigPath:    "config.yml",
		MetricsAddr:   ":9090",
		Workers:       1,
		FanoutMode:    FanoutParallel,
		CacheTTL:      3600 * time.Second,
		IndexTTL:      86400 * time.Second,
		DLQTTL:        604800 * time.Second,
		SortedSetName: "vcons",
		StageTimeout:  30 * time.Second,
		PopTimeout:    5 * time.Second,
		GracePeriod:   60 * time.Second,
	}
}

// SettingsFromEnv resolves Settings from the environment, falling back
// to defaults for anything unset.
func SettingsFromEnv() Settings {
	s := DefaultSettings()
	s.RedisURL = getEnv("REDIS_URL", s.RedisURL)
	s.ConfigPath = getEnv("CONSERVER_CONFIG", s.ConfigPath)
	s.MetricsAddr = getEnv("CONSERVER_METRICS_ADDR", s.MetricsAddr)
	s.Workers = getEnvInt("CONSERVER_WORKERS", s.Workers)
	s.FanoutMode = getEnv("CONSERVER_FANOUT", s.FanoutMode)
	if s.FanoutMode != FanoutSequential {
		s.FanoutMode = FanoutParallel
	}
	s.CacheTTL = getEnvSeconds("CONSERVER_CACHE_TTL", s.CacheTTL)
	s.IndexTTL = getEnvSeconds("CONSERVER_INDEX_TTL", s.IndexTTL)
	s.DLQTTL = getEnvSeconds("CONSERVER_DLQ_TTL", s.DLQTTL)
	s.SortedSetName = getEnv("CONSERVER_SORTED_SET", s.SortedSetName)
	s.StageTimeout = getEnvSeconds("CONSERVER_STAGE_TIMEOUT", s.StageTimeout)
	s.GracePeriod = getEnvSeconds("CONSERVER_GRACE", s.GracePeriod)
	return s
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getEnvSeconds reads an integer number of seconds. A DLQ TTL of 0 is
// meaningful (disables DLQ expiry), so zero values pass through.
func getEnvSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
