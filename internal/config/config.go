package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/layer-3/keyward/core"
	"gopkg.in/yaml.v3"
)

// Config holds the service configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Custodian CustodianConfig `yaml:"custodian"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
}

// HTTPConfig holds listener settings
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// TrustedProxies are the proxy IPs or CIDRs allowed to set
	// X-Forwarded-For. None by default.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// RedisConfig holds the Redis connection. An empty URL keeps challenges and
// the logout deny-list in process memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds session and challenge settings
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`
}

// CustodianConfig selects the master key source. KMSKeyBlob wins over
// Secret when both are set.
type CustodianConfig struct {
	Secret     string `yaml:"secret"`
	KMSKeyBlob string `yaml:"kms_key_blob"`
	KMSRegion  string `yaml:"kms_region"`
}

// RateLimitConfig bounds challenge requests per client
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// EventsConfig holds audit event settings
type EventsConfig struct {
	TopicPrefix string `yaml:"topic_prefix"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// LoadConfig loads configuration from a YAML file, then applies environment
// overrides. A missing file means defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv(os.LookupEnv)

	return cfg, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "keyward.db",
		},
		Auth: AuthConfig{
			SessionTTL:   core.SessionTTL,
			ChallengeTTL: core.ChallengeTTL,
		},
		RateLimit: RateLimitConfig{
			RPS:   1,
			Burst: 10,
		},
		Events: EventsConfig{
			TopicPrefix: "keyward",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		c.HTTP.Addr = ":" + port
	}
	set(&c.HTTP.Addr, "KEYWARD_HTTP_ADDR")
	if v, ok := lookup("KEYWARD_TRUSTED_PROXIES"); ok {
		c.HTTP.TrustedProxies = splitList(v)
	}
	set(&c.Redis.URL, "REDIS_URL")
	set(&c.Database.Path, "KEYWARD_DATABASE_PATH")
	set(&c.Auth.JWTSecret, "API_JWT_SECRET")
	set(&c.Custodian.Secret, "ARTICLE_KEY_ENCRYPTION_SECRET")
	set(&c.Custodian.KMSKeyBlob, "KEYWARD_KMS_KEY_BLOB")
	set(&c.Custodian.KMSRegion, "AWS_REGION")
	set(&c.Log.Level, "KEYWARD_LOG_LEVEL")
}

// Validate checks that every secret the service needs is present
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("API_JWT_SECRET is not set: %w", core.ErrMisconfigured)
	}
	if c.Custodian.Secret == "" && c.Custodian.KMSKeyBlob == "" {
		return fmt.Errorf("neither ARTICLE_KEY_ENCRYPTION_SECRET nor KEYWARD_KMS_KEY_BLOB is set: %w", core.ErrMisconfigured)
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.ChallengeTTL <= 0 {
		return fmt.Errorf("session and challenge TTLs must be positive: %w", core.ErrMisconfigured)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http address is empty: %w", core.ErrMisconfigured)
	}
	for _, proxy := range c.HTTP.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("trusted proxy %q is not an IP or CIDR: %w", proxy, core.ErrMisconfigured)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func validProxy(proxy string) bool {
	if strings.Contains(proxy, "/") {
		_, _, err := net.ParseCIDR(proxy)
		return err == nil
	}
	return net.ParseIP(proxy) != nil
}
