package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_DRIVER", "STORE_DSN", "REDIS_ADDR", "ARK_MODEL_ECONOMY", "Model", "ENGINE_GENERATION_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("driver = %q", cfg.Store.Driver)
	}
	if cfg.Redis.Enabled() {
		t.Fatal("redis should be disabled without REDIS_ADDR")
	}
	if cfg.AI.Enabled() {
		t.Fatal("ai should be disabled without credentials")
	}
	if cfg.Engine.GenerationTimeout != 20*time.Second || cfg.Engine.ConversionCooldown != 24*time.Hour {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
}

func TestLoadTierModelsFallBack(t *testing.T) {
	t.Setenv("ARK_API_KEY", "k")
	t.Setenv("ARK_MODEL_ECONOMY", "lite")
	t.Setenv("ARK_MODEL_ADVANCED", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if !cfg.AI.Enabled() {
		t.Fatal("expected ai enabled")
	}
	if cfg.AI.EconomyModel != "lite" || cfg.AI.AdvancedModel != "lite" {
		t.Fatalf("unexpected models: %+v", cfg.AI)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"ENGINE_GENERATION_TIMEOUT": "soon",
		"ENGINE_ADAPTATION_SPEED":   "1.5",
		"ENGINE_PERSIST_WORKERS":    "0",
		"STORE_DRIVER":              "sqlite",
		"PORT":                      "80 80",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestLoadStoreRequiresDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without STORE_DSN")
	}
}
