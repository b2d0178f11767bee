// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Draft     DraftConfig     `yaml:"draft"`
	Estimator EstimatorConfig `yaml:"estimator"`
}

type ServerConfig struct {
	Transport string `yaml:"transport"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // sqlite | postgres
	DBPath      string `yaml:"dbPath"`
	PostgresDsn string `yaml:"postgresDsn"`
}

type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type DraftConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type EstimatorConfig struct {
	ProxyURL string        `yaml:"proxyUrl"`
	APIKey   string        `yaml:"apiKey"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Transport: "http",
			Host:      "0.0.0.0",
			Port:      8011,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DBPath: "/data/macro-log.db",
		},
		Auth: AuthConfig{
			Issuer: "macro-log",
		},
		Draft: DraftConfig{
			TTL: 2 * time.Hour,
		},
		Estimator: EstimatorConfig{
			ProxyURL: "http://mcp-compose-http-proxy:9876",
			Model:    "anthropic/claude-3.5-sonnet",
			Timeout:  60 * time.Second,
		},
	}
}

// Load builds the config from defaults, an optional YAML file, a .env file
// in the working directory, MACROLOG_* environment variables and finally
// the given overrides (command-line flags), in that order of precedence.
// The result is validated once every layer is applied.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Host, "MACROLOG_HOST")
	setString(&c.Storage.Driver, "MACROLOG_STORAGE_DRIVER")
	setString(&c.Storage.DBPath, "MACROLOG_DB_PATH")
	setString(&c.Storage.PostgresDsn, "MACROLOG_POSTGRES_DSN")
	setString(&c.Auth.Secret, "MACROLOG_TOKEN_SECRET")
	setString(&c.Auth.Issuer, "MACROLOG_TOKEN_ISSUER")
	setString(&c.Estimator.ProxyURL, "MCP_PROXY_URL")
	setString(&c.Estimator.APIKey, "MCP_PROXY_API_KEY")
	setString(&c.Estimator.Model, "OPENROUTER_MODEL")

	if v := os.Getenv("MACROLOG_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MACROLOG_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("MACROLOG_DRAFT_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MACROLOG_DRAFT_TTL %q: %w", v, err)
		}
		c.Draft.TTL = ttl
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.dbPath is required for sqlite")
		}
	case "postgres":
		if c.Storage.PostgresDsn == "" {
			return fmt.Errorf("storage.postgresDsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
