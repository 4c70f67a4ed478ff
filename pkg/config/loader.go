package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, RUNBOX_CONFIG env, ./config.yaml, /etc/runbox/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. RUNBOX_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/runbox/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("RUNBOX_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/runbox/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps RUNBOX_* environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RUNBOX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RUNBOX_POOL_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Size = size
		}
	}
	if v := os.Getenv("RUNBOX_WORKER_PATH"); v != "" {
		cfg.Pool.WorkerPath = v
	}
	if v := os.Getenv("RUNBOX_RECYCLE_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pool.RecycleThreshold = n
		}
	}
	if v := os.Getenv("RUNBOX_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pool.RequestTimeout = d
		}
	}
	if v := os.Getenv("RUNBOX_DISPATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pool.DispatchTimeout = d
		}
	}
	if v := os.Getenv("RUNBOX_WAIT_FOR_READY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Pool.WaitForReady = b
		}
	}
	if v := os.Getenv("RUNBOX_TRANSFER_FORM"); v != "" {
		cfg.Pool.TransferForm = v
	}
	if v := os.Getenv("RUNBOX_HEALTH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Health.Interval = d
		}
	}
	if v := os.Getenv("RUNBOX_NETWORK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sandbox.NetworkEnabled = b
		}
	}
	if v := os.Getenv("RUNBOX_WORK_DIR"); v != "" {
		cfg.Sandbox.WorkDir = v
	}
	if v := os.Getenv("RUNBOX_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("RUNBOX_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("RUNBOX_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("RUNBOX_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}

	// RUNBOX_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("RUNBOX_API_KEYS"); v != "" {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
