package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds application configuration. Values are read from an optional
// TOML file and then overridden by environment variables, so a containerised
// deployment can ship a base file and tweak individual settings per instance.
type Config struct {
	// Core
	ServerName string `toml:"name"`
	PublicURL  string `toml:"public_url"`
	Port       int    `toml:"port"`
	Environment string `toml:"environment"` // "development" or "production"

	MongoDB  MongoConfig    `toml:"mongodb"`
	S3       S3Config       `toml:"s3"`
	Redis    RedisConfig    `toml:"redis"`
	Session  SessionConfig  `toml:"session"`
	SMTP     SMTPConfig     `toml:"smtp"`
	CORS     CORSConfig     `toml:"cors"`
	Security SecurityConfig `toml:"security"`
	Network  NetworkConfig  `toml:"network"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Limits   LimitConfig    `toml:"limits"`
}

// MongoConfig configures the document store connection.
type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// S3Config configures the blob store. Endpoint may point at any
// S3-compatible service (MinIO in development).
type S3Config struct {
	Endpoint string `toml:"endpoint"`
	Region   string `toml:"region"`
	Bucket   string `toml:"bucket"`
	Key      string `toml:"key"`
	Secret   string `toml:"secret"`
}

// RedisConfig configures the Redis instance used for request throttles.
type RedisConfig struct {
	URL string `toml:"url"`
}

// SessionConfig configures signed session cookies.
type SessionConfig struct {
	Secret string        `toml:"secret"`
	MaxAge time.Duration `toml:"max_age"`
}

// SMTPConfig configures outbound email.
type SMTPConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	User string `toml:"user"`
	Pass string `toml:"pass"`
	From string `toml:"from"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	Origins []string `toml:"origins"`
}

// SecurityConfig configures abuse countermeasures.
type SecurityConfig struct {
	TorBlock      bool     `toml:"tor_block"`
	AllowTorExits []string `toml:"allow_tor_exits"`
}

// NetworkConfig configures the realtime overlay.
type NetworkConfig struct {
	InactivityTimeout time.Duration `toml:"inactivity_timeout"`
	RoleFetchTimeout  time.Duration `toml:"role_fetch_timeout"`
	OutboundQueue     int           `toml:"outbound_queue"`
	AddressCacheSize  int           `toml:"address_cache_size"`
	MetadataCacheSize int           `toml:"metadata_cache_size"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Bind string `toml:"bind"`
}

// LimitConfig configures API rate limiting.
type LimitConfig struct {
	APIRequests       int `toml:"api_requests"`
	APIWindowSeconds  int `toml:"api_window_seconds"`
	AuthCount         int `toml:"auth_count"`
	AuthWindowSeconds int `toml:"auth_window_seconds"`
}

// Load reads the TOML file at path (skipped when path is empty or the file
// does not exist), applies environment overrides, and validates the result.
// All parse and validation failures are reported together.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Environment-only configuration is fine.
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := toml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	p := &parser{}
	cfg.applyEnv(p)
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerName:  "NetsBlox Cloud",
		PublicURL:   "http://localhost:7777",
		Port:        7777,
		Environment: "production",
		MongoDB: MongoConfig{
			URI:      "mongodb://127.0.0.1:27017",
			Database: "netsblox",
		},
		S3: S3Config{
			Endpoint: "http://127.0.0.1:9000",
			Region:   "us-east-1",
			Bucket:   "netsblox",
			Key:      "KEYID",
			Secret:   "SECRET",
		},
		Redis: RedisConfig{URL: "redis://127.0.0.1:6379/0"},
		Session: SessionConfig{
			MaxAge: 14 * 24 * time.Hour,
		},
		SMTP: SMTPConfig{
			Port: 587,
			From: "noreply@netsblox.org",
		},
		CORS: CORSConfig{Origins: []string{"*"}},
		Network: NetworkConfig{
			InactivityTimeout: 15 * time.Minute,
			RoleFetchTimeout:  5 * time.Second,
			OutboundQueue:     256,
			AddressCacheSize:  500,
			MetadataCacheSize: 500,
		},
		Metrics: MetricsConfig{Bind: ""},
		Limits: LimitConfig{
			APIRequests:       600,
			APIWindowSeconds:  60,
			AuthCount:         10,
			AuthWindowSeconds: 300,
		},
	}
}

// applyEnv overrides file values from the environment. Variable names mirror
// the TOML sections (NETSBLOX_MONGODB_URI overrides [mongodb] uri, etc).
func (c *Config) applyEnv(p *parser) {
	c.ServerName = p.str("NETSBLOX_NAME", c.ServerName)
	c.PublicURL = p.str("NETSBLOX_PUBLIC_URL", c.PublicURL)
	c.Port = p.int("NETSBLOX_PORT", c.Port)
	c.Environment = p.str("NETSBLOX_ENVIRONMENT", c.Environment)

	c.MongoDB.URI = p.str("NETSBLOX_MONGODB_URI", c.MongoDB.URI)
	c.MongoDB.Database = p.str("NETSBLOX_MONGODB_DATABASE", c.MongoDB.Database)

	c.S3.Endpoint = p.str("NETSBLOX_S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Region = p.str("NETSBLOX_S3_REGION", c.S3.Region)
	c.S3.Bucket = p.str("NETSBLOX_S3_BUCKET", c.S3.Bucket)
	c.S3.Key = p.str("NETSBLOX_S3_KEY", c.S3.Key)
	c.S3.Secret = p.str("NETSBLOX_S3_SECRET", c.S3.Secret)

	c.Redis.URL = p.str("NETSBLOX_REDIS_URL", c.Redis.URL)

	c.Session.Secret = p.str("NETSBLOX_SESSION_SECRET", c.Session.Secret)
	c.Session.MaxAge = p.duration("NETSBLOX_SESSION_MAX_AGE", c.Session.MaxAge)

	c.SMTP.Host = p.str("NETSBLOX_SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = p.int("NETSBLOX_SMTP_PORT", c.SMTP.Port)
	c.SMTP.User = p.str("NETSBLOX_SMTP_USER", c.SMTP.User)
	c.SMTP.Pass = p.str("NETSBLOX_SMTP_PASS", c.SMTP.Pass)
	c.SMTP.From = p.str("NETSBLOX_SMTP_FROM", c.SMTP.From)

	c.CORS.Origins = p.strs("NETSBLOX_CORS_ORIGINS", c.CORS.Origins)

	c.Security.TorBlock = p.bool("NETSBLOX_SECURITY_TOR_BLOCK", c.Security.TorBlock)
	c.Security.AllowTorExits = p.strs("NETSBLOX_SECURITY_ALLOW_TOR_EXITS", c.Security.AllowTorExits)

	c.Network.InactivityTimeout = p.duration("NETSBLOX_NETWORK_INACTIVITY_TIMEOUT", c.Network.InactivityTimeout)
	c.Network.RoleFetchTimeout = p.duration("NETSBLOX_NETWORK_ROLE_FETCH_TIMEOUT", c.Network.RoleFetchTimeout)
	c.Network.OutboundQueue = p.int("NETSBLOX_NETWORK_OUTBOUND_QUEUE", c.Network.OutboundQueue)

	c.Metrics.Bind = p.str("NETSBLOX_METRICS_BIND", c.Metrics.Bind)
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// SMTPConfigured returns true when an SMTP host is set, indicating that the
// server should attempt to send emails.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

func (c *Config) validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535"))
	}
	if c.MongoDB.URI == "" {
		errs = append(errs, fmt.Errorf("mongodb.uri is required"))
	}
	if c.MongoDB.Database == "" {
		errs = append(errs, fmt.Errorf("mongodb.database is required"))
	}
	if c.S3.Bucket == "" {
		errs = append(errs, fmt.Errorf("s3.bucket is required"))
	}
	if c.Session.Secret == "" {
		errs = append(errs, fmt.Errorf("session.secret is required"))
	} else if len(c.Session.Secret) < 32 {
		errs = append(errs, fmt.Errorf("session.secret must be at least 32 characters"))
	}
	if c.Session.MaxAge < time.Minute {
		errs = append(errs, fmt.Errorf("session.max_age must be at least 1m"))
	}
	if c.Network.InactivityTimeout < time.Second {
		errs = append(errs, fmt.Errorf("network.inactivity_timeout must be at least 1s"))
	}
	if c.Network.RoleFetchTimeout < time.Second {
		errs = append(errs, fmt.Errorf("network.role_fetch_timeout must be at least 1s"))
	}
	if c.Network.OutboundQueue < 1 {
		errs = append(errs, fmt.Errorf("network.outbound_queue must be at least 1"))
	}
	if c.Network.AddressCacheSize < 1 {
		errs = append(errs, fmt.Errorf("network.address_cache_size must be at least 1"))
	}
	if c.Network.MetadataCacheSize < 1 {
		errs = append(errs, fmt.Errorf("network.metadata_cache_size must be at least 1"))
	}
	if c.Limits.APIRequests < 1 || c.Limits.APIWindowSeconds < 1 {
		errs = append(errs, fmt.Errorf("limits.api_requests and limits.api_window_seconds must be at least 1"))
	}
	if c.Limits.AuthCount < 1 || c.Limits.AuthWindowSeconds < 1 {
		errs = append(errs, fmt.Errorf("limits.auth_count and limits.auth_window_seconds must be at least 1"))
	}
	if c.SMTP.Host != "" {
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("smtp.port must be between 1 and 65535"))
		}
		if _, err := mail.ParseAddress(c.SMTP.From); err != nil {
			errs = append(errs, fmt.Errorf("smtp.from is not a valid email address: %q", c.SMTP.From))
		}
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) str(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (p *parser) strs(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected boolean)", key, v))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"15m\" or \"5s\")", key, v))
		return fallback
	}
	return d
}
