package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Pool.Size <= 0 {
		errs = append(errs, fmt.Errorf("pool.size must be > 0, got %d", c.Pool.Size))
	}
	if c.Pool.RecycleThreshold <= 0 {
		errs = append(errs, fmt.Errorf("pool.recycle_threshold must be > 0, got %d", c.Pool.RecycleThreshold))
	}
	if c.Pool.WorkerPath == "" {
		errs = append(errs, fmt.Errorf("pool.worker_path is required"))
	}
	switch c.Pool.TransferForm {
	case "inline", "bundle":
		// valid
	default:
		errs = append(errs, fmt.Errorf("pool.transfer_form must be \"inline\" or \"bundle\", got %q", c.Pool.TransferForm))
	}

	if c.Health.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("health.failure_threshold must be > 0, got %d", c.Health.FailureThreshold))
	}

	switch c.Storage.Type {
	case "memory", "redis", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"redis\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.Type == "redis" && c.Storage.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("storage.redis.addr is required when storage.type is \"redis\""))
	}
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}
	if c.Auth.Type == "apikey" && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
	}
	if c.Auth.Type == "jwt" && c.Auth.JWT.JWKSURL == "" {
		errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
	}

	return errors.Join(errs...)
}
