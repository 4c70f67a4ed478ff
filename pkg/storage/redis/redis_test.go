package redis

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/jkoenig/runbox/pkg/storage"
)

// newTestStore connects to the instance named by RUNBOX_TEST_REDIS_ADDR.
// Tests are skipped when the variable is unset so the suite stays green
// without a running Redis.
func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	addr := os.Getenv("RUNBOX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RUNBOX_TEST_REDIS_ADDR not set, skipping Redis integration tests")
	}

	s, err := New(context.Background(), addr, opts...)
	if err != nil {
		t.Fatalf("connecting to redis: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testSession returns a fresh session ID and removes its hash on cleanup.
func testSession(t *testing.T, s *Store) string {
	t.Helper()
	sessionID := "sess_" + uuid.New().String()
	t.Cleanup(func() {
		s.client.Del(context.Background(), sessionKey(sessionID))
	})
	return sessionID
}

func TestWriteReadDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessionID := testSession(t, s)

	if err := s.Write(ctx, sessionID, "/out.txt", []byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := s.Read(ctx, sessionID, "/out.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content = %q", got)
	}

	if err := s.Delete(ctx, sessionID, "/out.txt"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Read(ctx, sessionID, "/out.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, sessionID, "/out.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestReadNotFound(t *testing.T) {
	s := newTestStore(t)
	sessionID := testSession(t, s)

	_, err := s.Read(context.Background(), sessionID, "/missing.txt")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListWithPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessionID := testSession(t, s)

	s.Write(ctx, sessionID, "/data/a.csv", []byte("1"))
	s.Write(ctx, sessionID, "/data/b.csv", []byte("2"))
	s.Write(ctx, sessionID, "/other/c.txt", []byte("3"))

	got, err := s.List(ctx, sessionID, "/data/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if want := []string{"/data/a.csv", "/data/b.csv"}; !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}
}

func TestSessionIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessA := testSession(t, s)
	sessB := testSession(t, s)

	s.Write(ctx, sessA, "/shared-name.txt", []byte("a"))
	s.Write(ctx, sessB, "/shared-name.txt", []byte("b"))

	got, err := s.Read(ctx, sessA, "/shared-name.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "a" {
		t.Errorf("session a content = %q", got)
	}
}

func TestSizeLimit(t *testing.T) {
	s := newTestStore(t, WithMaxFileSize(4))
	sessionID := testSession(t, s)

	err := s.Write(context.Background(), sessionID, "/big.txt", []byte("abcde"))
	if !errors.Is(err, storage.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestPathValidation(t *testing.T) {
	s := newTestStore(t)
	sessionID := testSession(t, s)

	for _, bad := range []string{"relative.txt", "/a/../b", ""} {
		if err := s.Write(context.Background(), sessionID, bad, []byte("x")); err == nil {
			t.Errorf("Write(%q) should fail validation", bad)
		}
	}
}
