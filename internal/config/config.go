package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/amar74/opportunity-scout/internal/ingest"
	"gopkg.in/yaml.v3"
)

// Config carries everything the server and sweeper need. Values come from an
// optional YAML file with environment variables layered on top; env wins.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	AdminSecret string `yaml:"admin_secret"`

	Ollama struct {
		Host       string `yaml:"host"`
		GenModel   string `yaml:"gen_model"`
		EmbedModel string `yaml:"embed_model"`
	} `yaml:"ollama"`

	Fetch    ingest.FetchConfig `yaml:"fetch"`
	UseColly bool               `yaml:"use_colly"`

	LeaseMinutes    int `yaml:"lease_minutes"`
	StaleAfterHours int `yaml:"stale_after_hours"`
}

func (c *Config) Lease() time.Duration {
	return time.Duration(c.LeaseMinutes) * time.Minute
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}

// Load reads the config file at path when it exists, then applies env
// overrides. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:            "8080",
		LeaseMinutes:    30,
		StaleAfterHours: 2,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			// Expand ${VAR} references inside the YAML before parsing.
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg.Port, "PORT")
	applyEnv(&cfg.DatabaseURL, "DATABASE_URL")
	applyEnv(&cfg.AdminSecret, "ADMIN_SECRET")
	applyEnv(&cfg.Ollama.Host, "OLLAMA_HOST")
	applyEnv(&cfg.Ollama.GenModel, "OLLAMA_GEN_MODEL")
	applyEnv(&cfg.Ollama.EmbedModel, "OLLAMA_EMBED_MODEL")
	applyEnvBool(&cfg.UseColly, "SCRAPER_USE_COLLY")
	applyEnvInt(&cfg.LeaseMinutes, "SCRAPER_LEASE_MINUTES")
	applyEnvInt(&cfg.StaleAfterHours, "SCRAPER_STALE_AFTER_HOURS")

	return cfg, nil
}

func applyEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyEnvBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func applyEnvInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}
