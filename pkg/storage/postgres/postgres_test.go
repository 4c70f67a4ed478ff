package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jkoenig/runbox/pkg/storage"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped if no container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	if _, err := exec.LookPath("podman"); err != nil {
		t.Skip("podman not found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("runbox_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container (is podman running?): %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func testSessionID(prefix string) string {
	return fmt.Sprintf("sess_%s_%d", prefix, time.Now().UnixNano())
}

func TestPostgres_WriteAndRead(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	sessionID := testSessionID("rw")

	if err := store.Write(ctx, sessionID, "/out.txt", []byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := store.Read(ctx, sessionID, "/out.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content = %q, want %q", got, "hello")
	}
}

func TestPostgres_Overwrite(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	sessionID := testSessionID("ow")

	store.Write(ctx, sessionID, "/f.txt", []byte("v1"))
	if err := store.Write(ctx, sessionID, "/f.txt", []byte("v2")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	got, _ := store.Read(ctx, sessionID, "/f.txt")
	if string(got) != "v2" {
		t.Errorf("content after overwrite = %q, want %q", got, "v2")
	}
}

func TestPostgres_ReadNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.Read(context.Background(), testSessionID("nf"), "/missing.txt")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_ListWithPrefix(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	sessionID := testSessionID("ls")

	store.Write(ctx, sessionID, "/data/a.csv", []byte("1"))
	store.Write(ctx, sessionID, "/data/b.csv", []byte("2"))
	store.Write(ctx, sessionID, "/other/c.txt", []byte("3"))
	// Underscore must match literally, not as a wildcard.
	store.Write(ctx, sessionID, "/data_bak/d.csv", []byte("4"))

	got, err := store.List(ctx, sessionID, "/data/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if want := []string{"/data/a.csv", "/data/b.csv"}; !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}

	all, err := store.List(ctx, sessionID, "")
	if err != nil {
		t.Fatalf("List all failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("full listing = %v, want 4 entries", all)
	}
}

func TestPostgres_Delete(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	sessionID := testSessionID("del")

	store.Write(ctx, sessionID, "/f.txt", []byte("x"))
	if err := store.Delete(ctx, sessionID, "/f.txt"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Read(ctx, sessionID, "/f.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, sessionID, "/f.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestPostgres_SessionIsolation(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	sessA := testSessionID("iso_a")
	sessB := testSessionID("iso_b")

	store.Write(ctx, sessA, "/shared-name.txt", []byte("a"))
	store.Write(ctx, sessB, "/shared-name.txt", []byte("b"))

	got, err := store.Read(ctx, sessA, "/shared-name.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "a" {
		t.Errorf("session a content = %q", got)
	}
}

func TestPostgres_SizeLimit(t *testing.T) {
	store := setupTestDB(t)
	store.maxFileSize = 4

	err := store.Write(context.Background(), testSessionID("sz"), "/big.txt", []byte("abcde"))
	if !errors.Is(err, storage.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestPostgres_MigrationsIdempotent(t *testing.T) {
	store := setupTestDB(t)
	if err := store.migrate(context.Background()); err != nil {
		t.Errorf("second migrate run failed: %v", err)
	}
}
