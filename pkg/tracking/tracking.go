package tracking

import (
	"fmt"
	"sort"

	"github.com/spf13/afero"

	"github.com/jkoenig/runbox/pkg/api"
	"github.com/jkoenig/runbox/pkg/debug"
)

// DefaultSystemPaths are never reported as changed and never walked.
var DefaultSystemPaths = []string{"/proc", "/sys", "/dev", "/lib/runbox"}

// Engine combines the worker-side detectors: the hook recorder and the
// before/after snapshot diff. The storage-level fallback runs on the host,
// which merges its result using DiffListings.
type Engine struct {
	// Roots are the watched directories, walked recursively per snapshot.
	Roots []string

	// SystemPaths are excluded from walks and dropped from results.
	SystemPaths []string
}

// NewEngine creates an Engine watching the given roots with the default
// system-path exclusions.
func NewEngine(roots []string) *Engine {
	return &Engine{Roots: roots, SystemPaths: DefaultSystemPaths}
}

// Before captures the pre-execution snapshot.
func (e *Engine) Before(fs afero.Fs) (Snapshot, error) {
	return TakeSnapshot(fs, e.Roots, e.SystemPaths)
}

// Collect computes the worker-side TrackedFileSet after a successful
// execution: the union of hook-observed and snapshot-detected paths, system
// paths dropped, materialized with full current content. Callers must skip
// this entirely for failed executions.
func (e *Engine) Collect(fs afero.Fs, rec *Recorder, before Snapshot) ([]api.ChangedFile, error) {
	after, err := TakeSnapshot(fs, e.Roots, e.SystemPaths)
	if err != nil {
		return nil, fmt.Errorf("tracking: after snapshot: %w", err)
	}

	paths := make(map[string]bool)
	for _, p := range rec.Paths() {
		paths[p] = true
	}
	for _, p := range before.Diff(after) {
		paths[p] = true
	}

	var files []api.ChangedFile
	for _, p := range sortedKeys(paths) {
		// A detector may flag a system path (the hook sees every write);
		// drop it here regardless.
		if isExcluded(p, e.SystemPaths) {
			continue
		}
		content, err := afero.ReadFile(fs, p)
		if err != nil {
			// Created then deleted within the run; nothing to persist.
			debug.Log("tracking", "skipping unreadable changed path", "path", p, "error", err)
			continue
		}
		files = append(files, api.ChangedFile{Path: p, Content: content})
	}

	debug.Log("tracking", "collected changed files",
		"hook", len(rec.Paths()), "total", len(files))
	return files, nil
}

// DiffListings returns the paths present in after but not in before, sorted.
// The host uses this for the storage-level fallback detector.
func DiffListings(before, after []string) []string {
	seen := make(map[string]bool, len(before))
	for _, p := range before {
		seen[p] = true
	}
	var created []string
	for _, p := range after {
		if !seen[p] {
			created = append(created, p)
		}
	}
	sort.Strings(created)
	return created
}
