// Package storage defines the persisted virtual-filesystem boundary:
// session-scoped file storage used to persist execution side effects and to
// feed the storage-level change detector. Backends live in subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a path does not exist under the session.
	ErrNotFound = errors.New("file not found")

	// ErrTooLarge is returned when a write exceeds the per-file size limit.
	ErrTooLarge = errors.New("file exceeds size limit")
)

// DefaultMaxFileSize is the per-file size limit applied by backends when no
// explicit limit is configured.
const DefaultMaxFileSize = 32 * 1024 * 1024

// Store is the session-scoped file store. Different sessions may be
// accessed concurrently by different workers without cross-worker locking;
// callers must not issue concurrent operations for the same session.
type Store interface {
	// Read returns the content of path, or ErrNotFound.
	Read(ctx context.Context, sessionID, path string) ([]byte, error)

	// Write stores content at path, enforcing the per-file size limit.
	Write(ctx context.Context, sessionID, path string, content []byte) error

	// List returns the paths under the session matching the prefix, sorted.
	// An empty prefix lists everything.
	List(ctx context.Context, sessionID, prefix string) ([]string, error)

	// Delete removes path, or returns ErrNotFound.
	Delete(ctx context.Context, sessionID, path string) error

	// Close releases backend resources.
	Close() error
}

// ValidatePath checks that a path is absolute and free of traversal
// sequences. Every path crossing the storage boundary must pass.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("storage: empty path")
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("storage: path %q is not absolute", path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("storage: path %q contains traversal sequence", path)
		}
	}
	if strings.Contains(path, "//") {
		return fmt.Errorf("storage: path %q contains empty segment", path)
	}
	return nil
}
