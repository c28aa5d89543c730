package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	Addr           string
	AllowedOrigins []string

	StockfishPath        string
	EngineThreads        int
	EngineHashMB         int
	EnginePoolSize       int
	EngineMoveTimeMS     int
	EngineDeepMoveTimeMS int

	RedisURL    string
	DatabaseURL string
	SessionTTL  time.Duration

	LessonsFile string
	MessagesDir string

	WebhookURL     string
	WebhookTimeout time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Addr:                 ":8080",
		EngineThreads:        1,
		EngineHashMB:         16,
		EngineMoveTimeMS:     120,
		EngineDeepMoveTimeMS: 300,
		SessionTTL:           24 * time.Hour,
		WebhookTimeout:       5 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("TUTOR_ADDR")); v != "" {
		cfg.Addr = v
	}
	cfg.AllowedOrigins = splitList(os.Getenv("TUTOR_ALLOWED_ORIGINS"))

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	positiveInt("ENGINE_THREADS", &cfg.EngineThreads)
	positiveInt("ENGINE_HASH_MB", &cfg.EngineHashMB)
	positiveInt("ENGINE_POOL_SIZE", &cfg.EnginePoolSize)
	positiveInt("ENGINE_MOVE_TIME_MS", &cfg.EngineMoveTimeMS)
	positiveInt("ENGINE_DEEP_MOVE_TIME_MS", &cfg.EngineDeepMoveTimeMS)

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL")); v != "" { // seconds or a duration like 12h
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}

	cfg.LessonsFile = strings.TrimSpace(os.Getenv("LESSONS_FILE"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	cfg.WebhookURL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_TIMEOUT")); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("WEBHOOK_TIMEOUT: %w", err)
		}
		cfg.WebhookTimeout = d
	}

	if cfg.WebhookURL != "" && !strings.HasPrefix(cfg.WebhookURL, "http://") && !strings.HasPrefix(cfg.WebhookURL, "https://") {
		return nil, errors.New("WEBHOOK_URL must be an http(s) URL")
	}
	if cfg.EngineDeepMoveTimeMS < cfg.EngineMoveTimeMS {
		cfg.EngineDeepMoveTimeMS = cfg.EngineMoveTimeMS
	}

	return cfg, nil
}

// EngineEnabled reports whether an engine binary is configured.
func (c *AppConfig) EngineEnabled() bool { return c.StockfishPath != "" }

func positiveInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, errors.New("must be positive")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
