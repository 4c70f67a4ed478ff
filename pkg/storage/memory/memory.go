// Package memory provides an in-memory implementation of storage.Store for
// testing and lightweight deployments. Files are lost when the process
// restarts. An optional per-session file-count bound limits memory usage.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jkoenig/runbox/pkg/storage"
)

// Store is an in-memory session-scoped file store.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]map[string][]byte
	maxFileSize int64
	maxFiles    int // per session, 0 = unlimited
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithMaxFileSize overrides the per-file size limit.
func WithMaxFileSize(n int64) Option {
	return func(s *Store) { s.maxFileSize = n }
}

// WithMaxFiles bounds the number of files per session.
func WithMaxFiles(n int) Option {
	return func(s *Store) { s.maxFiles = n }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]map[string][]byte),
		maxFileSize: storage.DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns the content of path under the session.
func (s *Store) Read(_ context.Context, sessionID, path string) ([]byte, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	files, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	content, ok := files[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

// Write stores content at path under the session.
func (s *Store) Write(_ context.Context, sessionID, path string, content []byte) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	if int64(len(content)) > s.maxFileSize {
		return storage.ErrTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.sessions[sessionID]
	if !ok {
		files = make(map[string][]byte)
		s.sessions[sessionID] = files
	}

	if s.maxFiles > 0 {
		if _, exists := files[path]; !exists && len(files) >= s.maxFiles {
			return storage.ErrTooLarge
		}
	}

	stored := make([]byte, len(content))
	copy(stored, content)
	files[path] = stored
	return nil
}

// List returns the session's paths matching the prefix, sorted.
func (s *Store) List(_ context.Context, sessionID, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	var paths []string
	for p := range files {
		if prefix == "" || strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Delete removes path under the session.
func (s *Store) Delete(_ context.Context, sessionID, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := files[path]; !ok {
		return storage.ErrNotFound
	}
	delete(files, path)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
