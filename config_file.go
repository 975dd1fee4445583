package goRenew

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables applied on top of the YAML file by [LoadConfigFile].
const (
	EnvSecret       = "GORENEW_SECRET"
	EnvAuthorityURL = "GORENEW_AUTHORITY_URL"
	EnvRedisAddr    = "GORENEW_REDIS_ADDR"
	EnvProduction   = "GORENEW_PRODUCTION"
)

// LoadConfigFile loads .env into the process environment when present, reads
// the YAML file at path over [DefaultConfig], then applies environment
// overrides. A missing file is not an error; the result is not validated.
func LoadConfigFile(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config yaml: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	if val := os.Getenv(EnvSecret); val != "" {
		cfg.Session.Secret = val
	}
	if val := os.Getenv(EnvAuthorityURL); val != "" {
		cfg.Authority.BaseURL = val
	}
	if val := os.Getenv(EnvRedisAddr); val != "" {
		cfg.Session.RedisAddr = val
	}
	if val := os.Getenv(EnvProduction); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.ProductionMode = b
		}
	}
	return cfg
}
