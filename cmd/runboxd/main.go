// Command runboxd runs the runbox execution daemon: a pool of sandboxed
// worker processes behind an HTTP API.
//
// Configuration is layered: built-in defaults, then a YAML config file
// (--config flag, RUNBOX_CONFIG, ./config.yaml, /etc/runbox/config.yaml),
// then RUNBOX_* environment overrides. See pkg/config for the full set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jkoenig/runbox/pkg/auth"
	"github.com/jkoenig/runbox/pkg/auth/apikey"
	"github.com/jkoenig/runbox/pkg/auth/jwt"
	"github.com/jkoenig/runbox/pkg/auth/noop"
	"github.com/jkoenig/runbox/pkg/config"
	"github.com/jkoenig/runbox/pkg/engine"
	"github.com/jkoenig/runbox/pkg/pool"
	"github.com/jkoenig/runbox/pkg/storage"
	"github.com/jkoenig/runbox/pkg/storage/memory"
	"github.com/jkoenig/runbox/pkg/storage/postgres"
	"github.com/jkoenig/runbox/pkg/storage/redis"
	"github.com/jkoenig/runbox/pkg/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("runboxd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Storage backend.
	store, err := buildStore(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	// Worker pool. Sandbox settings travel to workers via environment.
	spawner := &pool.CommandSpawner{
		Path: cfg.Pool.WorkerPath,
		Env:  workerEnv(cfg),
	}
	mgr := pool.NewManager(pool.Config{
		Size:             cfg.Pool.Size,
		RecycleThreshold: cfg.Pool.RecycleThreshold,
		DispatchTimeout:  cfg.Pool.DispatchTimeout,
		RequestTimeout:   cfg.Pool.RequestTimeout,
		StartTimeout:     cfg.Pool.StartTimeout,
		WaitForReady:     cfg.Pool.WaitForReady,
		ShutdownGrace:    cfg.Pool.ShutdownGrace,
		TransferForm:     cfg.Pool.TransferForm,
	}, spawner)

	initCtx, cancelInit := context.WithTimeout(context.Background(), cfg.Pool.StartTimeout+5*time.Second)
	defer cancelInit()
	if err := mgr.Initialize(initCtx); err != nil {
		return fmt.Errorf("initializing pool: %w", err)
	}
	slog.Info("worker pool started",
		"size", cfg.Pool.Size,
		"worker", cfg.Pool.WorkerPath,
		"transfer_form", cfg.Pool.TransferForm)

	monitor := pool.NewMonitor(mgr, pool.MonitorConfig{
		Interval:         cfg.Health.Interval,
		ProbeTimeout:     cfg.Health.ProbeTimeout,
		FailureThreshold: cfg.Health.FailureThreshold,
	})
	monitor.Start()
	defer monitor.Stop()

	// Engine.
	eng := engine.New(mgr, store, engine.Options{
		DefaultTimeout: cfg.Pool.RequestTimeout,
	})

	// HTTP surface.
	adapterCfg := transport.DefaultConfig()
	adapterCfg.MetricsEnabled = cfg.Observability.Metrics.Enabled
	adapterCfg.MetricsPath = cfg.Observability.Metrics.Path
	adapter := transport.NewAdapter(eng, mgr, adapterCfg)

	handler, err := wrapAuth(cfg, adapter.Handler())
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	srv := transport.NewServer(handler, transport.ServerConfig{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	err = srv.ListenAndServe()

	// Drain workers after the HTTP server stopped accepting requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pool.ShutdownGrace+5*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)

	return err
}

// buildStore creates the configured storage backend, or nil when
// persistence is disabled.
func buildStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		var opts []memory.Option
		if cfg.Storage.MaxFileSize > 0 {
			opts = append(opts, memory.WithMaxFileSize(cfg.Storage.MaxFileSize))
		}
		if cfg.Storage.Memory.MaxFiles > 0 {
			opts = append(opts, memory.WithMaxFiles(cfg.Storage.Memory.MaxFiles))
		}
		slog.Info("storage enabled", "type", "memory")
		return memory.New(opts...), nil

	case "redis":
		var opts []redis.Option
		if cfg.Storage.MaxFileSize > 0 {
			opts = append(opts, redis.WithMaxFileSize(cfg.Storage.MaxFileSize))
		}
		if cfg.Storage.Redis.TTL > 0 {
			opts = append(opts, redis.WithTTL(cfg.Storage.Redis.TTL))
		}
		slog.Info("storage enabled", "type", "redis", "addr", cfg.Storage.Redis.Addr)
		return redis.New(ctx, cfg.Storage.Redis.Addr, opts...)

	case "postgres":
		slog.Info("storage enabled", "type", "postgres")
		return postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MaxFileSize:    cfg.Storage.MaxFileSize,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// workerEnv builds the sandbox environment passed to every worker process.
func workerEnv(cfg *config.Config) []string {
	env := []string{
		"RUNBOX_WORK_DIR=" + cfg.Sandbox.WorkDir,
		fmt.Sprintf("RUNBOX_NETWORK_ENABLED=%t", cfg.Sandbox.NetworkEnabled),
	}
	if len(cfg.Sandbox.WatchedRoots) > 0 {
		env = append(env, "RUNBOX_WATCHED_ROOTS="+strings.Join(cfg.Sandbox.WatchedRoots, ","))
	}
	if len(cfg.Sandbox.SystemPaths) > 0 {
		env = append(env, "RUNBOX_SYSTEM_PATHS="+strings.Join(cfg.Sandbox.SystemPaths, ","))
	}
	return env
}

// wrapAuth layers the configured authenticator chain around the handler.
func wrapAuth(cfg *config.Config, next http.Handler) (http.Handler, error) {
	var chain *auth.AuthChain

	switch cfg.Auth.Type {
	case "none":
		chain = auth.NewChain(noop.New())

	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key:     k.Key,
				Subject: k.Subject,
			})
		}
		a, err := apikey.New(entries)
		if err != nil {
			return nil, err
		}
		chain = auth.NewChain(a)

	case "jwt":
		chain = auth.NewChain(jwt.New(jwt.Config{
			Issuer:   cfg.Auth.JWT.Issuer,
			Audience: cfg.Auth.JWT.Audience,
			JWKSURL:  cfg.Auth.JWT.JWKSURL,
		}))

	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Auth.Type)
	}

	slog.Info("auth configured", "type", cfg.Auth.Type)
	return auth.Middleware(auth.MiddlewareConfig{Chain: chain}, next), nil
}
