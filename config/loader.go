package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SCHOLARS_"

// Load builds a Config by layering, lowest precedence first, the defaults, the
// YAML file named by SCHOLARS_CONFIG and SCHOLARS_* env vars. A local .env is
// read first unless running on Render.
func Load(ctx context.Context) (*Config, error) {
	cfg, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%w: jwt_secret must be set", ErrInvalidConfig)
	}
	return cfg, nil
}

// LoadTool loads configuration for command line tools, which never issue or
// verify tokens and so run without jwt_secret.
func LoadTool(ctx context.Context) (*Config, error) {
	return load(ctx)
}

func load(_ context.Context) (*Config, error) {
	if os.Getenv("RENDER") == "" {
		_ = godotenv.Load()
	}

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// SCHOLARS_NOTIFY_WORKERS -> notify_workers
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.NotifyWorkers <= 0:
		return fmt.Errorf("%w: notify_workers must be positive", ErrInvalidConfig)
	case c.NotifyQueueSize <= 0:
		return fmt.Errorf("%w: notify_queue_size must be positive", ErrInvalidConfig)
	case c.PublishMaxAttempts <= 0:
		return fmt.Errorf("%w: publish_max_attempts must be positive", ErrInvalidConfig)
	case c.CertificatePercentile < 0 || c.CertificatePercentile > 100:
		return fmt.Errorf("%w: certificate_percentile must be within 0-100", ErrInvalidConfig)
	case c.LockTTL <= 0:
		return fmt.Errorf("%w: lock_ttl must be positive", ErrInvalidConfig)
	}
	return nil
}
