package internal

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Credentials = Credentials{Username: "user", Password: "pass"}
	return cfg
}

func TestConfig_URLs(t *testing.T) {
	cfg := validConfig()
	cfg.AuthBaseURL = "https://account-api.icann.org/"
	cfg.CZDSBaseURL = "https://czds-api.icann.org/"

	if got := cfg.AuthenticateURL(); got != "https://account-api.icann.org/api/authenticate" {
		t.Errorf("AuthenticateURL() = %q", got)
	}
	if got := cfg.CZDSURL("/czds/downloads/links"); got != "https://czds-api.icann.org/czds/downloads/links" {
		t.Errorf("CZDSURL() = %q", got)
	}
}

func TestConfig_ValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty_working_directory", func(c *Config) { c.WorkingDirectory = "" }, KeyWorkingDirectory},
		{"zero_retry_attempts", func(c *Config) { c.RetryMaxAttempts = 0 }, KeyRetryMaxAttempts},
		{"negative_delay", func(c *Config) { c.RetryMaxDelay = -time.Second }, KeyRetryBaseDelay},
		{"zero_timeout", func(c *Config) { c.HTTPTimeout = 0 }, KeyHTTPTimeout},
		{"zero_idle_timeout", func(c *Config) { c.HTTPIdleTimeout = 0 }, KeyHTTPIdleTimeout},
		{"zero_workers", func(c *Config) { c.Workers = 0 }, KeyWorkers},
		{"ftp_base_url", func(c *Config) { c.CZDSBaseURL = "ftp://czds" }, KeyCZDSBaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateConfig()
			if tt.wantKey == "" {
				if err != nil {
					t.Fatalf("ValidateConfig() error = %v", err)
				}
				return
			}
			czdsErr, ok := AsCZDSError(err)
			if !ok {
				t.Fatalf("expected CZDSError, got %v", err)
			}
			if czdsErr.Context["key"] != tt.wantKey {
				t.Errorf("key = %v, want %s", czdsErr.Context["key"], tt.wantKey)
			}
		})
	}
}

func TestCredentials_String(t *testing.T) {
	creds := Credentials{Username: "user@example.com", Password: "hunter2"}
	s := creds.String()
	if strings.Contains(s, "hunter2") {
		t.Errorf("String() leaked the password: %q", s)
	}
	if !strings.HasPrefix(s, "user@example.com") {
		t.Errorf("String() = %q, want the username", s)
	}
}

func TestConfig_ZoneDirectory(t *testing.T) {
	cfg := validConfig()
	cfg.WorkingDirectory = "/srv/czds"
	if got := cfg.ZoneDirectory(); got != filepath.Join("/srv/czds", "zonefiles") {
		t.Errorf("ZoneDirectory() = %q, want zonefiles under the working directory", got)
	}

	cfg.ZoneDir = "/srv/zones"
	if got := cfg.ZoneDirectory(); got != "/srv/zones" {
		t.Errorf("ZoneDirectory() = %q, want /srv/zones", got)
	}
}
