package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default rate limit requests",
			check:  func(c *Config) bool { return c.RateLimitRequests == 10 },
			expect: "10",
		},
		{
			name:   "default rate limit window",
			check:  func(c *Config) bool { return c.RateLimitWindowSeconds == 60 },
			expect: "60",
		},
		{
			name:   "auto block disabled by default",
			check:  func(c *Config) bool { return !c.EnableAutoBlock },
			expect: "false",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{
		PostgresUser:     "keystone",
		PostgresPassword: "secret",
		PostgresHost:     "db",
		PostgresPort:     5432,
		PostgresDB:       "keystone",
		PostgresSSLMode:  "disable",
	}

	want := "postgres://keystone:secret@db:5432/keystone?sslmode=disable"
	if got := cfg.DatabaseURL(); got != want {
		t.Errorf("DatabaseURL() = %q, want %q", got, want)
	}
}

func TestRedisURL(t *testing.T) {
	cfg := &Config{RedisHost: "cache", RedisPort: 6379, RedisDB: 2}
	want := "redis://cache:6379/2"
	if got := cfg.RedisURL(); got != want {
		t.Errorf("RedisURL() = %q, want %q", got, want)
	}
}

func TestLoadRejectsZeroRateLimitWindow(t *testing.T) {
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with RATE_LIMIT_WINDOW_SECONDS=0 should fail")
	}
}

func TestLoadRejectsZeroRateLimitRequests(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with RATE_LIMIT_REQUESTS=0 should fail")
	}
}
