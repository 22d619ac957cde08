package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "MEMFLOW"

// Load builds a Config from defaults, the optional YAML file at path, and
// environment overrides, then validates the result. An empty path skips
// the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields commonly set per deployment. Anything not
// listed here is file-only.
func applyEnv(cfg *Config) error {
	var err error

	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Mongo.URI, "MONGO_URI")
	setString(&cfg.Mongo.Database, "MONGO_DATABASE")
	setString(&cfg.Embedding.BaseURL, "EMBEDDING_BASE_URL")
	setString(&cfg.Embedding.APIKey, "EMBEDDING_API_KEY")
	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setString(&cfg.Inference.BaseURL, "INFERENCE_BASE_URL")
	setString(&cfg.Inference.APIKey, "INFERENCE_API_KEY")
	setString(&cfg.Inference.Model, "INFERENCE_MODEL")
	setString(&cfg.Bus.Stream, "BUS_STREAM")
	setString(&cfg.Bus.Consumer, "BUS_CONSUMER")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTLP_ENDPOINT")

	if err = setInt(&cfg.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if err = setInt(&cfg.Memory.WindowSize, "MEMORY_WINDOW_SIZE"); err != nil {
		return err
	}
	if err = setInt(&cfg.Memory.TokenBudget, "MEMORY_TOKEN_BUDGET"); err != nil {
		return err
	}
	if err = setInt(&cfg.Embedding.Dimension, "EMBEDDING_DIMENSION"); err != nil {
		return err
	}
	if err = setInt(&cfg.Consolidation.Workers, "CONSOLIDATION_WORKERS"); err != nil {
		return err
	}
	if err = setFloat(&cfg.Consolidation.ImportanceThreshold, "CONSOLIDATION_THRESHOLD"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Memory.WindowTTL, "MEMORY_WINDOW_TTL"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Inference.Timeout, "INFERENCE_TIMEOUT"); err != nil {
		return err
	}
	if err = setBool(&cfg.Telemetry.Enabled, "TELEMETRY_ENABLED"); err != nil {
		return err
	}
	return nil
}

func envKey(name string) string { return EnvPrefix + "_" + name }

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(envKey(name)); ok {
		*dst = v
	}
}

func setInt(dst *int, name string) error {
	v, ok := os.LookupEnv(envKey(name))
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", envKey(name), err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, name string) error {
	v, ok := os.LookupEnv(envKey(name))
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", envKey(name), err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, name string) error {
	v, ok := os.LookupEnv(envKey(name))
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", envKey(name), err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v, ok := os.LookupEnv(envKey(name))
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", envKey(name), err)
	}
	*dst = d
	return nil
}
