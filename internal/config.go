package internal

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Configuration keys. The dotted names match the keys used in config.json.
const (
	KeyUsername         = "icann.account.username"
	KeyPassword         = "icann.account.password"
	KeyAuthBaseURL      = "authentication.base.url"
	KeyCZDSBaseURL      = "czds.base.url"
	KeyWorkingDirectory = "working.directory"
	KeyZoneDirectory    = "zone.directory"
	KeyBearerToken      = "czds.bearer.token"
	KeyMetricsSource    = "metrics.source"
	KeyMetricsFile      = "metrics.file"
	KeyFailurePolicy    = "failure.policy"
	KeyHTTPTimeout      = "http.timeout"
	KeyHTTPIdleTimeout  = "http.idle.timeout"
	KeyHTTPProxy        = "http.proxy"
	KeyRetryMaxAttempts = "retry.max.attempts"
	KeyRetryBaseDelay   = "retry.base.delay"
	KeyRetryMaxDelay    = "retry.max.delay"
	KeyWorkers          = "download.workers"
	KeyRateLimit        = "download.rate.limit"
	KeyVerifyGzip       = "download.verify.gzip"
	KeyLogLevel         = "log.level"
	KeyLogFile          = "log.file"
	KeyDebug            = "log.debug"
	KeyQuiet            = "log.quiet"
)

// Failure policies decide the exit status of a batch that had item failures
const (
	FailurePolicyIgnore = "ignore"
	FailurePolicyFail   = "fail"
)

// Config holds application configuration
type Config struct {
	Credentials      Credentials
	AuthBaseURL      string
	CZDSBaseURL      string
	WorkingDirectory string
	ZoneDir          string // overrides WorkingDirectory/zonefiles when set
	BearerToken      string

	MetricsSource string
	MetricsFile   string
	FailurePolicy string

	// HTTPTimeout bounds API calls; zone bodies are bounded by HTTPIdleTimeout
	HTTPTimeout     time.Duration
	HTTPIdleTimeout time.Duration
	ProxyURL        string

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	Workers    int
	RateLimit  string
	VerifyGzip bool

	// Logging configuration
	LogLevel    string
	EnableDebug bool
	QuietMode   bool
	LogFile     string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		AuthBaseURL:      "https://account-api.icann.org",
		CZDSBaseURL:      "https://czds-api.icann.org",
		WorkingDirectory: ".",

		MetricsSource: "ICANN",
		FailurePolicy: FailurePolicyIgnore,

		HTTPTimeout:     5 * time.Minute,
		HTTPIdleTimeout: 2 * time.Minute,

		RetryMaxAttempts: 3,
		RetryBaseDelay:   2 * time.Second,
		RetryMaxDelay:    60 * time.Second,

		Workers: 1,

		LogLevel: "info",
	}
}

// defaultValues renders the defaults as a flat key map for the loader
func (c *Config) defaultValues() map[string]interface{} {
	return map[string]interface{}{
		KeyAuthBaseURL:      c.AuthBaseURL,
		KeyCZDSBaseURL:      c.CZDSBaseURL,
		KeyWorkingDirectory: c.WorkingDirectory,
		KeyMetricsSource:    c.MetricsSource,
		KeyFailurePolicy:    c.FailurePolicy,
		KeyHTTPTimeout:      c.HTTPTimeout.String(),
		KeyHTTPIdleTimeout:  c.HTTPIdleTimeout.String(),
		KeyRetryMaxAttempts: c.RetryMaxAttempts,
		KeyRetryBaseDelay:   c.RetryBaseDelay.String(),
		KeyRetryMaxDelay:    c.RetryMaxDelay.String(),
		KeyWorkers:          c.Workers,
		KeyLogLevel:         c.LogLevel,
	}
}

// ZoneDirectory is where downloaded zone files are written: ZoneDir when set,
// otherwise zonefiles/ under the working directory
func (c *Config) ZoneDirectory() string {
	if c.ZoneDir != "" {
		return c.ZoneDir
	}
	return filepath.Join(c.WorkingDirectory, "zonefiles")
}

// AuthenticateURL is the account API endpoint that issues bearer tokens
func (c *Config) AuthenticateURL() string {
	return strings.TrimRight(c.AuthBaseURL, "/") + "/api/authenticate"
}

// CZDSURL joins a path onto the CZDS API base URL
func (c *Config) CZDSURL(path string) string {
	return strings.TrimRight(c.CZDSBaseURL, "/") + path
}

// ValidateConfig validates the configuration values. Every failure is a
// ClassConfig CZDSError naming the offending key.
func (c *Config) ValidateConfig() error {
	if c.Credentials.Username == "" {
		return NewConfigError(KeyUsername, fmt.Sprintf("'%s' parameter not found in the configuration", KeyUsername))
	}
	if c.Credentials.Password == "" {
		return NewConfigError(KeyPassword, fmt.Sprintf("'%s' parameter not found in the configuration", KeyPassword))
	}
	if err := validateBaseURL(KeyAuthBaseURL, c.AuthBaseURL); err != nil {
		return err
	}
	if err := validateBaseURL(KeyCZDSBaseURL, c.CZDSBaseURL); err != nil {
		return err
	}
	if c.WorkingDirectory == "" {
		return NewConfigError(KeyWorkingDirectory, "working directory cannot be empty")
	}
	if c.RetryMaxAttempts < 1 {
		return NewConfigError(KeyRetryMaxAttempts, fmt.Sprintf("invalid retry attempts: %d (must be >= 1)", c.RetryMaxAttempts))
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return NewConfigError(KeyRetryBaseDelay, "retry delays cannot be negative")
	}
	if c.HTTPTimeout <= 0 {
		return NewConfigError(KeyHTTPTimeout, fmt.Sprintf("invalid http timeout: %v (must be > 0)", c.HTTPTimeout))
	}
	if c.HTTPIdleTimeout <= 0 {
		return NewConfigError(KeyHTTPIdleTimeout, fmt.Sprintf("invalid http idle timeout: %v (must be > 0)", c.HTTPIdleTimeout))
	}
	if c.Workers < 1 || c.Workers > 16 {
		return NewConfigError(KeyWorkers, fmt.Sprintf("invalid worker count: %d (must be 1-16)", c.Workers))
	}
	switch c.FailurePolicy {
	case FailurePolicyIgnore, FailurePolicyFail:
	default:
		return NewConfigError(KeyFailurePolicy, fmt.Sprintf("unknown failure policy %q (use %q or %q)", c.FailurePolicy, FailurePolicyIgnore, FailurePolicyFail))
	}
	return nil
}

func validateBaseURL(key, raw string) error {
	if raw == "" {
		return NewConfigError(key, fmt.Sprintf("'%s' parameter not found in the configuration", key))
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewConfigError(key, fmt.Sprintf("'%s' must be an absolute http(s) URL, got %q", key, raw))
	}
	return nil
}
