// Package config provides unified configuration for the runbox daemon.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (RUNBOX_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the runbox daemon.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Pool          PoolConfig          `yaml:"pool"`
	Health        HealthConfig        `yaml:"health"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 120s
}

// PoolConfig holds worker pool settings.
type PoolConfig struct {
	Size             int           `yaml:"size"`              // default: 4
	WorkerPath       string        `yaml:"worker_path"`       // default: "runbox-worker"
	RecycleThreshold int64         `yaml:"recycle_threshold"` // default: 100
	DispatchTimeout  time.Duration `yaml:"dispatch_timeout"`  // default: 5s
	RequestTimeout   time.Duration `yaml:"request_timeout"`   // default: 30s
	StartTimeout     time.Duration `yaml:"start_timeout"`     // default: 30s
	WaitForReady     bool          `yaml:"wait_for_ready"`    // default: true
	ShutdownGrace    time.Duration `yaml:"shutdown_grace"`    // default: 5s
	TransferForm     string        `yaml:"transfer_form"`     // "inline" or "bundle", default: "inline"
}

// HealthConfig holds worker health monitor settings.
type HealthConfig struct {
	Interval         time.Duration `yaml:"interval"`          // default: 30s
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`     // default: 5s
	FailureThreshold int           `yaml:"failure_threshold"` // default: 3
}

// SandboxConfig holds settings passed through to the worker interpreter.
type SandboxConfig struct {
	WorkDir        string   `yaml:"work_dir"`        // default: "/workspace"
	WatchedRoots   []string `yaml:"watched_roots"`   // default: [work_dir]
	SystemPaths    []string `yaml:"system_paths"`    // extra excluded paths
	NetworkEnabled bool     `yaml:"network_enabled"` // passed to the sandbox, not interpreted here
}

// StorageConfig holds persisted virtual-filesystem settings.
type StorageConfig struct {
	Type        string         `yaml:"type"`          // "memory", "redis" or "postgres", default: "memory"
	MaxFileSize int64          `yaml:"max_file_size"` // per-file byte limit, 0 = backend default
	Memory      MemoryConfig   `yaml:"memory"`
	Redis       RedisConfig    `yaml:"redis"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// MemoryConfig holds in-memory store settings.
type MemoryConfig struct {
	MaxFiles int `yaml:"max_files"` // per session, 0 = unlimited
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr string        `yaml:"addr"` // host:port
	TTL  time.Duration `yaml:"ttl"`  // per-session expiry, 0 = none
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`      // settings for type=jwt
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key     string `yaml:"key"`
	KeyFile string `yaml:"key_file"` // _file variant for key
	Subject string `yaml:"subject"`
}

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSURL  string `yaml:"jwks_url"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Pool: PoolConfig{
			Size:             4,
			WorkerPath:       "runbox-worker",
			RecycleThreshold: 100,
			DispatchTimeout:  5 * time.Second,
			RequestTimeout:   30 * time.Second,
			StartTimeout:     30 * time.Second,
			WaitForReady:     true,
			ShutdownGrace:    5 * time.Second,
			TransferForm:     "inline",
		},
		Health: HealthConfig{
			Interval:         30 * time.Second,
			ProbeTimeout:     5 * time.Second,
			FailureThreshold: 3,
		},
		Sandbox: SandboxConfig{
			WorkDir: "/workspace",
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
