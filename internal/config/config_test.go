package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.RateLimitCapacity != 10 || cfg.RateLimitWindow != time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PGDSN != "" || cfg.RedisAddr != "" || len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("backends should default to in-memory: %+v", cfg)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("RATE_LIMIT_CAPACITY", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(cfg.KafkaBrokers, "|") != "k1:9092|k2:9092" {
		t.Fatalf("brokers %v", cfg.KafkaBrokers)
	}
	if cfg.RateLimitCapacity != 5 || cfg.RateLimitWindow != 30*time.Second || !cfg.RunMigrations || cfg.LogLevel != "debug" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"HTTP_READ_TIMEOUT", "JWT_SECRET", "RATE_LIMIT_CAPACITY"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q does not mention %s", msg, want)
		}
	}
}

func TestLoadServerConfigTrustedProxies(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7 ,::1")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"10.0.0.0/8", "192.168.1.7/32", "::1/128"}
	if len(cfg.TrustedProxies) != len(want) {
		t.Fatalf("got %v", cfg.TrustedProxies)
	}
	for i, p := range cfg.TrustedProxies {
		if p.String() != want[i] {
			t.Fatalf("prefix %d: got %s want %s", i, p, want[i])
		}
	}

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,gateway")
	if _, err := LoadServerConfig(); err == nil || !strings.Contains(err.Error(), "TRUSTED_PROXIES") {
		t.Fatalf("expected TRUSTED_PROXIES error, got %v", err)
	}
}

func TestLoadConsumerConfigRequiresDSN(t *testing.T) {
	t.Setenv("PG_DSN", "")
	if _, err := LoadConsumerConfig(); err == nil {
		t.Fatal("expected error without PG_DSN")
	}
	t.Setenv("PG_DSN", "postgres://localhost/rides")
	cfg, err := LoadConsumerConfig()
	if err != nil || cfg.KafkaGroup != "ride-booking-audit" {
		t.Fatalf("cfg %+v err %v", cfg, err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
	p := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(p, []byte("RIDE_BOOKING_TEST_VAR=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RIDE_BOOKING_TEST_VAR", "")
	os.Unsetenv("RIDE_BOOKING_TEST_VAR")
	if err := LoadDotEnv(p); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("RIDE_BOOKING_TEST_VAR"); got != "from-file" {
		t.Fatalf("got %q", got)
	}
}
