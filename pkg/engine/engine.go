// Package engine is the caller-facing orchestration layer: it validates
// requests, dispatches them to the worker pool, runs the storage-level
// change-detection fallback, and persists changed files.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/jkoenig/runbox/pkg/api"
	"github.com/jkoenig/runbox/pkg/debug"
	"github.com/jkoenig/runbox/pkg/storage"
	"github.com/jkoenig/runbox/pkg/tracking"
)

// Dispatcher routes an execution request to a worker. *pool.Manager is the
// production implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error)
}

// Options configures an Engine.
type Options struct {
	// DefaultTimeout applies when a request carries none.
	DefaultTimeout time.Duration

	// MaxCodeBytes bounds the program text (default: 1 MiB).
	MaxCodeBytes int
}

// Engine coordinates one execution end to end. It holds no per-session
// locks: callers must not issue concurrent requests for the same session ID.
type Engine struct {
	pool  Dispatcher
	store storage.Store // nil disables persistence and the storage fallback
	opts  Options
}

// New creates an Engine. store may be nil when no persisted virtual
// filesystem is configured.
func New(pool Dispatcher, store storage.Store, opts Options) *Engine {
	if opts.MaxCodeBytes == 0 {
		opts.MaxCodeBytes = 1 << 20
	}
	return &Engine{pool: pool, store: store, opts: opts}
}

// Execute runs one request: storage pre-listing, dispatch, storage-fallback
// change detection, persistence of changed files. The result of a failed
// execution is returned as-is, with no files reported or persisted.
func (e *Engine) Execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}
	if req.Timeout <= 0 {
		req.Timeout = e.opts.DefaultTimeout
	}

	before, err := e.listStorage(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	result, err := e.pool.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}

	// Storage-level fallback: when neither the hook nor the snapshot diff
	// saw anything, code may still have written through a path that only
	// persisted storage observed (native extensions bypassing both).
	if len(result.ChangedFiles) == 0 && e.store != nil {
		fallback, err := e.storageFallback(ctx, req.SessionID, before)
		if err != nil {
			return nil, err
		}
		result.ChangedFiles = fallback
	}

	if err := e.persist(ctx, req.SessionID, result.ChangedFiles); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) validate(req *api.ExecutionRequest) error {
	if req.Code == "" {
		return api.NewError(api.KindProtocol, "code must not be empty")
	}
	if len(req.Code) > e.opts.MaxCodeBytes {
		return api.NewError(api.KindProtocol, "code exceeds %d bytes", e.opts.MaxCodeBytes)
	}
	if req.SessionID == "" {
		return api.NewError(api.KindProtocol, "session_id must not be empty")
	}
	for path := range req.InputFiles {
		if err := storage.ValidatePath(path); err != nil {
			return api.WrapError(api.KindProtocol, err, "input file %q", path)
		}
	}
	return nil
}

// listStorage returns the session's persisted paths, or nil without a store.
func (e *Engine) listStorage(ctx context.Context, sessionID string) ([]string, error) {
	if e.store == nil {
		return nil, nil
	}
	paths, err := e.store.List(ctx, sessionID, "")
	if err != nil {
		return nil, api.WrapError(api.KindStorage, err, "listing session %s", sessionID)
	}
	return paths, nil
}

// storageFallback reports paths newly present in persisted storage as
// created files, fetching their content. A path that vanished between the
// diff and the read is skipped rather than failing the request.
func (e *Engine) storageFallback(ctx context.Context, sessionID string, before []string) ([]api.ChangedFile, error) {
	after, err := e.listStorage(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var changed []api.ChangedFile
	for _, path := range tracking.DiffListings(before, after) {
		content, err := e.store.Read(ctx, sessionID, path)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, api.WrapError(api.KindStorage, err, "reading %s", path)
		}
		changed = append(changed, api.ChangedFile{Path: path, Content: content})
	}
	if len(changed) > 0 {
		debug.Log("engine", "storage fallback detected changes",
			"session", sessionID, "files", len(changed))
	}
	return changed, nil
}

// persist writes each changed file to the session's persisted storage.
func (e *Engine) persist(ctx context.Context, sessionID string, files []api.ChangedFile) error {
	if e.store == nil {
		return nil
	}
	for _, f := range files {
		if err := e.store.Write(ctx, sessionID, f.Path, f.Content); err != nil {
			return api.WrapError(api.KindStorage, err, "persisting %s for session %s", f.Path, sessionID)
		}
	}
	return nil
}
