package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"TUTOR_ADDR", "STOCKFISH_PATH", "ENGINE_MOVE_TIME_MS", "ENGINE_DEEP_MOVE_TIME_MS", "SESSION_TTL", "WEBHOOK_URL", "WEBHOOK_TIMEOUT"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.EngineMoveTimeMS != 120 || cfg.EngineDeepMoveTimeMS != 300 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.EngineEnabled() {
		t.Fatalf("ttl=%v engine=%v", cfg.SessionTTL, cfg.EngineEnabled())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TUTOR_ADDR", "127.0.0.1:9000")
	t.Setenv("TUTOR_ALLOWED_ORIGINS", "example.com, *.example.org ,")
	t.Setenv("STOCKFISH_PATH", "/usr/bin/stockfish")
	t.Setenv("ENGINE_POOL_SIZE", "3")
	t.Setenv("ENGINE_THREADS", "-2")
	t.Setenv("ENGINE_MOVE_TIME_MS", "400")
	t.Setenv("ENGINE_DEEP_MOVE_TIME_MS", "200")
	t.Setenv("SESSION_TTL", "90")
	t.Setenv("WEBHOOK_TIMEOUT", "1500ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" || len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "*.example.org" {
		t.Fatalf("addr/origins = %q %q", cfg.Addr, cfg.AllowedOrigins)
	}
	if !cfg.EngineEnabled() || cfg.EnginePoolSize != 3 || cfg.EngineThreads != 1 {
		t.Fatalf("engine = %+v", cfg)
	}
	if cfg.EngineDeepMoveTimeMS != 400 {
		t.Fatalf("deep move time should not undercut the regular one: %d", cfg.EngineDeepMoveTimeMS)
	}
	if cfg.SessionTTL != 90*time.Second || cfg.WebhookTimeout != 1500*time.Millisecond {
		t.Fatalf("durations = %v %v", cfg.SessionTTL, cfg.WebhookTimeout)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SESSION_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected SESSION_TTL error")
	}
	t.Setenv("SESSION_TTL", "")
	t.Setenv("WEBHOOK_URL", "ftp://hooks.example.com")
	if _, err := Load(); err == nil {
		t.Fatalf("expected WEBHOOK_URL error")
	}
}
