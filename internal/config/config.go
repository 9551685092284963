// Package config loads runtime configuration for the VAP backend.
// Secrets and deployment switches come from the environment (a local
// .env is honored in development); operational tunables may also be
// supplied through an optional YAML file.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the full runtime configuration.
type Config struct {
	Env       string // development | production
	Port      string
	PublicURL string

	// Session cookies
	CookieSecret []byte // HMAC key, >= 32 bytes

	// Chain node
	RPCHost    string
	RPCUser    string
	RPCPass    string
	ChainName  string
	SigningID  string
	FeeAddress string

	// SafeChat
	SafeChatAPIURL        string
	SafeChatAPIKey        string
	SafeChatEncryptionKey []byte // 32 bytes or nil
	SafeChatPath          string

	// Webhooks
	WebhookEncryptionKey []byte // 32 bytes; required in production

	// CORS
	CORSOrigins []string

	// Optional Redis fast path for nonce claims
	RedisURL string

	// Database
	DatabaseURL string

	// Filesystem storage root
	DataDir string

	// SSRF escape hatches; never honored in production
	SSRFAllowLocalhost bool
	SSRFAllowTestPorts bool

	Tuning Tuning
}

// Tuning holds operational knobs with sane defaults, optionally
// overridden by a YAML file (VAP_CONFIG_FILE).
type Tuning struct {
	IndexerPollSeconds   int `yaml:"indexer_poll_seconds"`
	IndexerReorgMargin   int `yaml:"indexer_reorg_margin"`
	WebhookWorkers       int `yaml:"webhook_workers"`
	EndpointProbeSeconds int `yaml:"endpoint_probe_seconds"`
}

func defaultTuning() Tuning {
	return Tuning{
		IndexerPollSeconds:   20,
		IndexerReorgMargin:   3,
		WebhookWorkers:       4,
		EndpointProbeSeconds: 30,
	}
}

// Load reads configuration from the environment, validates required
// keys, and applies production guards. It returns an error rather than
// booting with an unsafe configuration.
func Load() (*Config, error) {
	// .env is a development convenience; a missing file is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		Env:        envOr("ENV", "development"),
		Port:       envOr("PORT", "8080"),
		PublicURL:  os.Getenv("PUBLIC_URL"),
		RPCHost:    envOr("VERUS_RPC_HOST", "http://127.0.0.1:27486"),
		RPCUser:    os.Getenv("VERUS_RPC_USER"),
		RPCPass:    os.Getenv("VERUS_RPC_PASS"),
		ChainName:  envOr("PLATFORM_CHAIN", "VRSCTEST"),
		SigningID:  os.Getenv("PLATFORM_SIGNING_ID"),
		FeeAddress: os.Getenv("SAFECHAT_FEE_ADDRESS"),

		SafeChatAPIURL: os.Getenv("SAFECHAT_API_URL"),
		SafeChatAPIKey: os.Getenv("SAFECHAT_API_KEY"),
		SafeChatPath:   os.Getenv("SAFECHAT_PATH"),

		RedisURL:    os.Getenv("REDIS_URL"),
		DatabaseURL: envOr("DATABASE_URL", "postgres://localhost/vap?sslmode=disable"),
		DataDir:     envOr("DATA_DIR", "data"),

		SSRFAllowLocalhost: boolEnv("SSRF_ALLOW_LOCALHOST"),
		SSRFAllowTestPorts: boolEnv("SSRF_ALLOW_TEST_PORTS"),

		Tuning: defaultTuning(),
	}

	if raw := os.Getenv("CORS_ORIGIN"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	secret := os.Getenv("COOKIE_SECRET")
	if len(secret) < 32 {
		return nil, fmt.Errorf("COOKIE_SECRET must be at least 32 bytes, got %d", len(secret))
	}
	cfg.CookieSecret = []byte(secret)

	if cfg.RPCUser == "" || cfg.RPCPass == "" {
		return nil, fmt.Errorf("VERUS_RPC_USER and VERUS_RPC_PASS are required")
	}

	var err error
	if cfg.SafeChatEncryptionKey, err = keyEnv("SAFECHAT_ENCRYPTION_KEY"); err != nil {
		return nil, err
	}
	if cfg.WebhookEncryptionKey, err = keyEnv("WEBHOOK_ENCRYPTION_KEY"); err != nil {
		return nil, err
	}

	if path := os.Getenv("VAP_CONFIG_FILE"); path != "" {
		if err := loadTuning(path, &cfg.Tuning); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if cfg.Production() {
		if cfg.SSRFAllowLocalhost || cfg.SSRFAllowTestPorts {
			return nil, fmt.Errorf("SSRF_ALLOW_LOCALHOST/SSRF_ALLOW_TEST_PORTS must not be set in production")
		}
		if cfg.WebhookEncryptionKey == nil {
			return nil, fmt.Errorf("WEBHOOK_ENCRYPTION_KEY is required in production")
		}
	}

	return cfg, nil
}

// Production reports whether the server runs with production guards.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func loadTuning(path string, t *Tuning) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewDecoder(f).Decode(t)
}

// keyEnv decodes a base64 env var into a 32-byte key, nil if unset.
func keyEnv(name string) ([]byte, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: not valid base64: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s: want 32 bytes, got %d", name, len(key))
	}
	return key, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func boolEnv(name string) bool {
	v, _ := strconv.ParseBool(os.Getenv(name))
	return v
}
