package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"statusfeed-server/bridge"
	"statusfeed-server/hub"
)

type Config struct {
	Port              string
	WSPath            string
	HeartbeatInterval time.Duration
	HistorySize       int
	MaxClients        int
	HistoryRetention  time.Duration
	RedisURL          string
	RedisChannel      string
	LogLevel          slog.Level
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults for unset keys.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:         valueOr(getenv("PORT"), "8080"),
		WSPath:       valueOr(getenv("WS_PATH"), "/ws"),
		RedisURL:     getenv("REDIS_URL"),
		RedisChannel: valueOr(getenv("REDIS_CHANNEL"), bridge.DefaultChannel),
		LogLevel:     parseLevel(getenv("LOG_LEVEL")),
	}
	if !strings.HasPrefix(cfg.WSPath, "/") {
		cfg.WSPath = "/" + cfg.WSPath
	}

	intervalMS, err := intOr(getenv("HEARTBEAT_INTERVAL_MS"), int(hub.DefaultHeartbeatInterval/time.Millisecond))
	if err != nil {
		return Config{}, fmt.Errorf("HEARTBEAT_INTERVAL_MS: %w", err)
	}
	cfg.HeartbeatInterval = time.Duration(intervalMS) * time.Millisecond

	if cfg.HistorySize, err = intOr(getenv("HISTORY_SIZE"), hub.DefaultHistorySize); err != nil {
		return Config{}, fmt.Errorf("HISTORY_SIZE: %w", err)
	}
	if cfg.MaxClients, err = intOr(getenv("MAX_CLIENTS"), hub.DefaultMaxClients); err != nil {
		return Config{}, fmt.Errorf("MAX_CLIENTS: %w", err)
	}
	if v := getenv("HISTORY_RETENTION"); v != "" {
		if cfg.HistoryRetention, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("HISTORY_RETENTION: %w", err)
		}
	}
	return cfg, nil
}

// HubOptions maps the config onto hub.Options.
func (c Config) HubOptions() hub.Options {
	return hub.Options{
		HeartbeatInterval: c.HeartbeatInterval,
		HistorySize:       c.HistorySize,
		MaxClients:        c.MaxClients,
		HistoryRetention:  c.HistoryRetention,
	}
}

func valueOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func intOr(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

func parseLevel(v string) slog.Level {
	switch v {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
