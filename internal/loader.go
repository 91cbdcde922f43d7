package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/tidwall/jsonc"
)

const (
	// DefaultEnvPrefix is the prefix of per-key environment overrides
	DefaultEnvPrefix = "CZDS_"
	// DefaultConfigEnv holds a complete JSON configuration object
	DefaultConfigEnv = "CZDS_CONFIG"
	// DefaultConfigFile is read when no file is given and DefaultConfigEnv is unset
	DefaultConfigFile = "config.json"
)

// legacyEnv maps the plain ICANN_USER / ICANN_PASS / DEST_DIR variables onto
// config keys. DEST_DIR names the directory the zone files land in, not the
// working directory above it.
var legacyEnv = map[string]string{
	"ICANN_USER": KeyUsername,
	"ICANN_PASS": KeyPassword,
	"DEST_DIR":   KeyZoneDirectory,
}

// Loader assembles a Config from defaults, a JSON document, the environment
// and flag overrides. Later sources win.
type Loader struct {
	k            *koanf.Koanf
	envPrefix    string
	configEnv    string
	filePath     string
	fileExplicit bool
	overrides    map[string]interface{}
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithConfigFile sets the configuration file path. An explicit file must exist.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) {
		if path != "" {
			l.filePath = path
			l.fileExplicit = true
		}
	}
}

// WithEnvPrefix sets the environment variable prefix
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigEnv names the environment variable holding an inline JSON config
func WithConfigEnv(name string) LoaderOption {
	return func(l *Loader) {
		l.configEnv = name
	}
}

// WithOverrides applies flag values on top of every other source
func WithOverrides(values map[string]interface{}) LoaderOption {
	return func(l *Loader) {
		for k, v := range values {
			l.overrides[k] = v
		}
	}
}

// NewLoader creates a new configuration loader
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
		configEnv: DefaultConfigEnv,
		filePath:  DefaultConfigFile,
		overrides: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads every source and returns a validated Config.
// Priority: defaults < CZDS_CONFIG or config file < legacy env < CZDS_* env < overrides.
func (l *Loader) Load() (*Config, error) {
	defaults := DefaultConfig()
	if err := l.k.Load(mapProvider(maps.Unflatten(defaults.defaultValues(), ".")), nil); err != nil {
		return nil, NewConfigError("defaults", "failed to load defaults").WithCause(err)
	}

	if err := l.loadDocument(); err != nil {
		return nil, err
	}

	legacy := make(map[string]interface{})
	for name, key := range legacyEnv {
		if v := os.Getenv(name); v != "" {
			legacy[key] = v
		}
	}
	if err := l.loadMap(legacy); err != nil {
		return nil, err
	}

	if err := l.loadEnv(); err != nil {
		return nil, err
	}

	if err := l.loadMap(l.overrides); err != nil {
		return nil, err
	}

	cfg := l.build()
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDocument loads the JSON object from the config env var, else from the file
func (l *Loader) loadDocument() error {
	if l.configEnv != "" {
		if data := os.Getenv(l.configEnv); strings.TrimSpace(data) != "" {
			if err := l.k.Load(bytesProvider(data), unflattenParser{jsoncParser{}}); err != nil {
				return NewConfigError(l.configEnv, "error loading configuration from environment").WithCause(err)
			}
			LogDebug("Configuration loaded from $%s", l.configEnv)
			return nil
		}
	}

	if _, err := os.Stat(l.filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) && !l.fileExplicit {
			LogDebug("No %s found, relying on environment", l.filePath)
			return nil
		}
		return NewConfigError("config", fmt.Sprintf("error loading %s", l.filePath)).WithCause(err)
	}

	if err := l.k.Load(file.Provider(l.filePath), parserFor(l.filePath)); err != nil {
		return NewConfigError("config", fmt.Sprintf("error loading %s", l.filePath)).WithCause(err)
	}
	LogDebug("Configuration loaded from %s", l.filePath)
	return nil
}

// loadEnv loads CZDS_* overrides: CZDS_ICANN_ACCOUNT_USERNAME -> icann.account.username
func (l *Loader) loadEnv() error {
	transform := func(s string) string {
		if s == l.configEnv {
			return ""
		}
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "_", ".")
	}

	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return NewConfigError("env", "failed to load environment overrides").WithCause(err)
	}
	return nil
}

func (l *Loader) loadMap(values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	if err := l.k.Load(mapProvider(maps.Unflatten(values, ".")), nil); err != nil {
		return NewConfigError("overrides", "failed to apply overrides").WithCause(err)
	}
	return nil
}

func (l *Loader) build() *Config {
	k := l.k
	return &Config{
		Credentials: Credentials{
			Username: k.String(KeyUsername),
			Password: k.String(KeyPassword),
		},
		AuthBaseURL:      k.String(KeyAuthBaseURL),
		CZDSBaseURL:      k.String(KeyCZDSBaseURL),
		WorkingDirectory: k.String(KeyWorkingDirectory),
		ZoneDir:          k.String(KeyZoneDirectory),
		BearerToken:      k.String(KeyBearerToken),

		MetricsSource: k.String(KeyMetricsSource),
		MetricsFile:   k.String(KeyMetricsFile),
		FailurePolicy: strings.ToLower(k.String(KeyFailurePolicy)),

		HTTPTimeout:     k.Duration(KeyHTTPTimeout),
		HTTPIdleTimeout: k.Duration(KeyHTTPIdleTimeout),
		ProxyURL:        k.String(KeyHTTPProxy),

		RetryMaxAttempts: k.Int(KeyRetryMaxAttempts),
		RetryBaseDelay:   k.Duration(KeyRetryBaseDelay),
		RetryMaxDelay:    k.Duration(KeyRetryMaxDelay),

		Workers:    k.Int(KeyWorkers),
		RateLimit:  k.String(KeyRateLimit),
		VerifyGzip: k.Bool(KeyVerifyGzip),

		LogLevel:    k.String(KeyLogLevel),
		EnableDebug: k.Bool(KeyDebug),
		QuietMode:   k.Bool(KeyQuiet),
		LogFile:     k.String(KeyLogFile),
	}
}

// parserFor picks YAML for .yaml/.yml files and comment-tolerant JSON otherwise
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return unflattenParser{yaml.Parser()}
	default:
		return unflattenParser{jsoncParser{}}
	}
}

// jsoncParser parses JSON that may contain comments and trailing commas
type jsoncParser struct{}

func (jsoncParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(jsonc.ToJSON(b), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (jsoncParser) Marshal(m map[string]interface{}) ([]byte, error) {
	return json.Marshal(m)
}

// unflattenParser expands flat dotted keys ("czds.base.url") into nested maps so
// they merge with nested documents and environment overrides.
type unflattenParser struct {
	koanf.Parser
}

func (p unflattenParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	m, err := p.Parser.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	return maps.Unflatten(m, "."), nil
}

// errReadNotSupported is returned by providers that only serve one read mode
var errReadNotSupported = errors.New("config: read mode not supported by provider")

// mapProvider loads configuration from an in-memory map
type mapProvider map[string]interface{}

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadNotSupported
}

func (m mapProvider) Read() (map[string]interface{}, error) {
	return m, nil
}

// bytesProvider serves a raw document for a parser
type bytesProvider string

func (b bytesProvider) ReadBytes() ([]byte, error) {
	return []byte(b), nil
}

func (b bytesProvider) Read() (map[string]interface{}, error) {
	return nil, errReadNotSupported
}
