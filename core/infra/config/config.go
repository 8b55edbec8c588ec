package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr       = ":8080"
	defaultMetricsAddr    = ":9092"
	defaultRedisURL       = "redis://localhost:6379"
	defaultBadgerPath     = "data/catalog"
	defaultBlobDir        = "data/blobs"
	defaultMaxUpload      = 64 << 20
	defaultMaxAttempts    = 64
	defaultUpdateBackoff  = 2 * time.Millisecond
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100

	envConfigPath     = "BOTIFY_CONFIG_PATH"
	envHTTPAddr       = "BOTIFY_HTTP_ADDR"
	envMetricsAddr    = "BOTIFY_METRICS_ADDR"
	envCatalogBackend = "BOTIFY_CATALOG_BACKEND"
	envBadgerPath     = "BOTIFY_BADGER_PATH"
	envBlobBackend    = "BOTIFY_BLOB_BACKEND"
	envBlobDir        = "BOTIFY_BLOB_DIR"
	envGCSBucket      = "BOTIFY_GCS_BUCKET"
	envGCSPrefix      = "BOTIFY_GCS_PREFIX"
	envGCSEmulator    = "STORAGE_EMULATOR_HOST"
	envRedisURL       = "REDIS_URL"
	envRedisCA        = "REDIS_TLS_CA"
	envRedisCert      = "REDIS_TLS_CERT"
	envRedisKey       = "REDIS_TLS_KEY"
	envRedisInsecure  = "REDIS_TLS_INSECURE"
	envNATSURL        = "NATS_URL"
	envNATSJetStream  = "NATS_USE_JETSTREAM"
	envAuthMode       = "BOTIFY_AUTH_MODE"
	envAPIKeys        = "BOTIFY_API_KEYS"
	envMaxUpload      = "BOTIFY_MAX_UPLOAD_BYTES"
	envUploadTempDir  = "BOTIFY_UPLOAD_TEMP_DIR"
	envMaxAttempts    = "BOTIFY_UPDATE_MAX_ATTEMPTS"
	envUpdateBackoff  = "BOTIFY_UPDATE_BACKOFF"
	envRateLimitRPS   = "BOTIFY_RATE_LIMIT_RPS"
	envRateLimitBurst = "BOTIFY_RATE_LIMIT_BURST"
	envAllowedOrigins = "BOTIFY_ALLOWED_ORIGINS"
)

// Catalog store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Blob store backends.
const (
	BlobMemory = "memory"
	BlobRedis  = "redis"
	BlobFS     = "fs"
	BlobGCS    = "gcs"
)

// Auth modes.
const (
	AuthPublic        = "public"
	AuthAuthenticated = "authenticated"
)

// Config holds runtime configuration for the catalog service.
type Config struct {
	HTTPAddr       string        `yaml:"http_addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	CatalogBackend string        `yaml:"catalog_backend"`
	BadgerPath     string        `yaml:"badger_path"`
	BlobBackend    string        `yaml:"blob_backend"`
	BlobDir        string        `yaml:"blob_dir"`
	GCSBucket      string        `yaml:"gcs_bucket"`
	GCSPrefix      string        `yaml:"gcs_prefix"`
	GCSEmulator    string        `yaml:"gcs_emulator_host"`
	RedisURL       string        `yaml:"redis_url"`
	RedisTLS       RedisTLS      `yaml:"redis_tls"`
	NatsURL        string        `yaml:"nats_url"`
	NatsJetStream  bool          `yaml:"nats_jetstream"`
	AuthMode       string        `yaml:"auth_mode"`
	APIKeys        []string      `yaml:"api_keys"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	UploadTempDir  string        `yaml:"upload_temp_dir"`
	UpdateAttempts int           `yaml:"update_max_attempts"`
	UpdateBackoff  time.Duration `yaml:"update_backoff"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// RedisTLS carries optional client TLS material for Redis.
type RedisTLS struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:       defaultHTTPAddr,
		MetricsAddr:    defaultMetricsAddr,
		CatalogBackend: BackendMemory,
		BadgerPath:     defaultBadgerPath,
		BlobBackend:    BlobMemory,
		BlobDir:        defaultBlobDir,
		RedisURL:       defaultRedisURL,
		AuthMode:       AuthPublic,
		MaxUploadBytes: defaultMaxUpload,
		UpdateAttempts: defaultMaxAttempts,
		UpdateBackoff:  defaultUpdateBackoff,
		RateLimitRPS:   defaultRateLimitRPS,
		RateLimitBurst: defaultRateLimitBurst,
	}
}

// Load builds configuration from defaults, then the optional YAML file named by
// BOTIFY_CONFIG_PATH, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(envConfigPath)); path != "" {
		// #nosec G304 -- config path is operator-provided.
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.mergeYAML(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse overlays YAML config data on the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeYAML(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeYAML(data []byte) error {
	if err := validateConfigSchema("catalog", catalogSchemaFile, data); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse catalog config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTPAddr, envHTTPAddr)
	setString(&c.MetricsAddr, envMetricsAddr)
	setString(&c.CatalogBackend, envCatalogBackend)
	setString(&c.BadgerPath, envBadgerPath)
	setString(&c.BlobBackend, envBlobBackend)
	setString(&c.BlobDir, envBlobDir)
	setString(&c.GCSBucket, envGCSBucket)
	setString(&c.GCSPrefix, envGCSPrefix)
	setString(&c.GCSEmulator, envGCSEmulator)
	setString(&c.RedisURL, envRedisURL)
	setString(&c.RedisTLS.CAFile, envRedisCA)
	setString(&c.RedisTLS.CertFile, envRedisCert)
	setString(&c.RedisTLS.KeyFile, envRedisKey)
	setString(&c.NatsURL, envNATSURL)
	setString(&c.AuthMode, envAuthMode)
	setString(&c.UploadTempDir, envUploadTempDir)
	if v, ok := lookup(envRedisInsecure); ok {
		c.RedisTLS.Insecure = parseBool(v)
	}
	if v, ok := lookup(envNATSJetStream); ok {
		c.NatsJetStream = parseBool(v)
	}
	if v, ok := lookup(envAPIKeys); ok {
		c.APIKeys = splitList(v)
	}
	if v, ok := lookup(envAllowedOrigins); ok {
		c.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup(envMaxUpload); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envMaxUpload, err)
		}
		c.MaxUploadBytes = n
	}
	if v, ok := lookup(envMaxAttempts); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envMaxAttempts, err)
		}
		c.UpdateAttempts = n
	}
	if v, ok := lookup(envUpdateBackoff); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envUpdateBackoff, err)
		}
		c.UpdateBackoff = d
	}
	if v, ok := lookup(envRateLimitRPS); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envRateLimitRPS, err)
		}
		c.RateLimitRPS = f
	}
	if v, ok := lookup(envRateLimitBurst); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envRateLimitBurst, err)
		}
		c.RateLimitBurst = n
	}
	return nil
}

// Validate rejects unknown backends and modes and non-positive limits.
func (c *Config) Validate() error {
	switch c.CatalogBackend {
	case BackendMemory, BackendRedis:
	case BackendBadger:
		if strings.TrimSpace(c.BadgerPath) == "" {
			return fmt.Errorf("badger_path required for badger backend")
		}
	default:
		return fmt.Errorf("unknown catalog_backend %q", c.CatalogBackend)
	}
	switch c.BlobBackend {
	case BlobMemory, BlobRedis:
	case BlobFS:
		if strings.TrimSpace(c.BlobDir) == "" {
			return fmt.Errorf("blob_dir required for fs blob backend")
		}
	case BlobGCS:
		if strings.TrimSpace(c.GCSBucket) == "" {
			return fmt.Errorf("gcs_bucket required for gcs blob backend")
		}
	default:
		return fmt.Errorf("unknown blob_backend %q", c.BlobBackend)
	}
	switch c.AuthMode {
	case AuthPublic:
	case AuthAuthenticated:
		if len(c.APIKeys) == 0 {
			return fmt.Errorf("api_keys required in authenticated mode")
		}
	default:
		return fmt.Errorf("unknown auth_mode %q", c.AuthMode)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.UpdateAttempts <= 0 {
		return fmt.Errorf("update_max_attempts must be positive")
	}
	if c.UpdateBackoff <= 0 {
		return fmt.Errorf("update_backoff must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}
	return nil
}

// UsesRedis reports whether any configured backend needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.CatalogBackend == BackendRedis || c.BlobBackend == BlobRedis
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
