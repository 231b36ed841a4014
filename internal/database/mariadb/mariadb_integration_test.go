//go:build integration

package mariadb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/photo-finder/internal/config"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/database/storetest"
)

func setupTestContainer(t *testing.T) (*config.DatabaseConfig, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mariadb:11",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_USER":          "test",
			"MARIADB_PASSWORD":      "test",
			"MARIADB_DATABASE":      "testdb",
			"MARIADB_ROOT_PASSWORD": "root",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("mariadb://test:test@%s:%s/testdb", host, port.Port()),
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}
	return cfg, func() { container.Terminate(ctx) }
}

// openWithRetry waits out the window where the port listens but the
// entrypoint is still creating the database.
func openWithRetry(t *testing.T, cfg *config.DatabaseConfig, opts ...database.Option) database.Store {
	t.Helper()
	var lastErr error
	for range 30 {
		store, err := Open(context.Background(), cfg, opts...)
		if err == nil {
			return store
		}
		lastErr = err
		time.Sleep(time.Second)
	}
	t.Fatalf("Failed to open store: %v", lastErr)
	return nil
}

func TestStoreConformance(t *testing.T) {
	cfg, cleanup := setupTestContainer(t)
	if cfg == nil {
		return
	}
	defer cleanup()

	storetest.Run(t, func(t *testing.T, opts ...database.Option) database.Store {
		ctx := context.Background()
		store := openWithRetry(t, cfg, opts...)
		s := store.(*Store)
		for _, table := range []string{"images", "fingerprint_buckets", "users", "store_meta"} {
			if _, err := s.pool.db.ExecContext(ctx, "TRUNCATE TABLE "+table); err != nil {
				t.Fatalf("Failed to truncate %s: %v", table, err)
			}
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}
