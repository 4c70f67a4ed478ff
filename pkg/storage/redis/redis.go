// Package redis provides a Redis-backed implementation of storage.Store.
// Each session maps to one hash keyed by file path, so listing and
// per-session expiry are single commands.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jkoenig/runbox/pkg/debug"
	"github.com/jkoenig/runbox/pkg/storage"
)

const keyPrefix = "runbox:files:"

// Store persists session files in Redis hashes.
type Store struct {
	client      *goredis.Client
	maxFileSize int64
	ttl         time.Duration
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithMaxFileSize overrides the per-file size limit.
func WithMaxFileSize(n int64) Option {
	return func(s *Store) { s.maxFileSize = n }
}

// WithTTL sets an expiry refreshed on every write. Zero means no expiry.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// New connects to the Redis instance at addr and verifies the connection.
func New(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	s := &Store{
		client:      client,
		maxFileSize: storage.DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	debug.Log("storage", "redis store connected", "addr", addr, "ttl", s.ttl)
	return s, nil
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

// Read returns the content of path under the session.
func (s *Store) Read(ctx context.Context, sessionID, path string) ([]byte, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	content, err := s.client.HGet(ctx, sessionKey(sessionID), path).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return content, nil
}

// Write stores content at path under the session and refreshes the
// session TTL when one is configured.
func (s *Store) Write(ctx context.Context, sessionID, path string, content []byte) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	if int64(len(content)) > s.maxFileSize {
		return storage.ErrTooLarge
	}
	key := sessionKey(sessionID)
	if err := s.client.HSet(ctx, key, path, content).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("refreshing ttl for %s: %w", sessionID, err)
		}
	}
	return nil
}

// List returns the session's paths matching the prefix, sorted.
func (s *Store) List(ctx context.Context, sessionID, prefix string) ([]string, error) {
	all, err := s.client.HKeys(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing session %s: %w", sessionID, err)
	}
	var paths []string
	for _, p := range all {
		if prefix == "" || strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Delete removes path under the session.
func (s *Store) Delete(ctx context.Context, sessionID, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	removed, err := s.client.HDel(ctx, sessionKey(sessionID), path).Result()
	if err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Close releases the client connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
