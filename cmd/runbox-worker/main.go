// Command runbox-worker is the per-process execution sandbox. It is spawned
// by runboxd, speaks the newline-delimited JSON protocol on stdin/stdout,
// and keeps one warm interpreter for its whole lifetime.
//
// Sandbox settings arrive via environment:
//
//	RUNBOX_WORK_DIR        - workspace directory (default: /workspace)
//	RUNBOX_NETWORK_ENABLED - "true" exposes the network flag to user code
//	RUNBOX_WATCHED_ROOTS   - comma-separated snapshot roots (default: work dir)
//	RUNBOX_SYSTEM_PATHS    - comma-separated extra excluded paths
//	RUNBOX_FS              - "memory" (default) or "os" workspace backing
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/jkoenig/runbox/pkg/interp"
	"github.com/jkoenig/runbox/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	opts := worker.Options{
		Interp: interp.Options{
			Workspace:      workspaceFs(),
			WorkDir:        os.Getenv("RUNBOX_WORK_DIR"),
			NetworkEnabled: os.Getenv("RUNBOX_NETWORK_ENABLED") == "true",
		},
		WatchedRoots: splitList(os.Getenv("RUNBOX_WATCHED_ROOTS")),
		SystemPaths:  splitList(os.Getenv("RUNBOX_SYSTEM_PATHS")),
	}

	w, err := worker.New(opts)
	if err != nil {
		return err
	}

	// stdout carries the protocol; diagnostics go to stderr only.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	return w.Serve(os.Stdin, os.Stdout)
}

// workspaceFs picks the filesystem backing the sandbox workspace. The
// in-memory default keeps user code off the host filesystem entirely; "os"
// is for containerized deployments that mount a scratch volume.
func workspaceFs() afero.Fs {
	if os.Getenv("RUNBOX_FS") == "os" {
		return afero.NewOsFs()
	}
	return afero.NewMemMapFs()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
