package sqlstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nimburion/mqttpersist/pkg/persistence"
	"github.com/nimburion/mqttpersist/pkg/persistence/contract"
	"github.com/nimburion/mqttpersist/pkg/testutil"
)

// TestAdapter_PostgresIntegration runs the persistence contract against a real
// PostgreSQL started with testcontainers.
func TestAdapter_PostgresIntegration(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	cfg := Config{
		Driver:       DriverPostgres,
		URL:          connStr,
		AutoMigrate:  true,
		MaxOpenConns: 4,
	}

	t.Run("Contract", func(t *testing.T) {
		contract.TestPersistenceContract(t, func(t *testing.T) persistence.Persistence {
			adapter, err := NewAdapter(cfg, nil)
			if err != nil {
				t.Fatalf("Failed to create adapter: %v", err)
			}
			return adapter
		})
	})

	t.Run("RowLayout", func(t *testing.T) {
		adapter, err := NewAdapter(cfg, nil)
		if err != nil {
			t.Fatalf("Failed to create adapter: %v", err)
		}
		if err := adapter.Open("dev1", "tcp://host:1883"); err != nil {
			t.Fatalf("open: %v", err)
		}
		defer adapter.Close()
		defer adapter.Clear()

		if err := adapter.Put("m1", []byte{0x00, 0xff}, []byte("CD")); err != nil {
			t.Fatalf("put: %v", err)
		}

		db, err := sql.Open("postgres", connStr)
		if err != nil {
			t.Fatalf("sql open: %v", err)
		}
		defer db.Close()

		var value []byte
		err = db.QueryRowContext(ctx,
			"SELECT record_value FROM mqtt_persistence WHERE partition_key = $1 AND record_key = $2",
			"dev1:tcp://host:1883", "m1").Scan(&value)
		if err != nil {
			t.Fatalf("expected a row for the record: %v", err)
		}
		if string(value) != "\x00\xffCD" {
			t.Fatalf("unexpected stored bytes %q", value)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		adapter, err := NewAdapter(cfg, nil)
		if err != nil {
			t.Fatalf("Failed to create adapter: %v", err)
		}
		if err := adapter.Open("health", "tcp://host:1883"); err != nil {
			t.Fatalf("open: %v", err)
		}
		defer adapter.Close()
		if err := adapter.HealthCheck(ctx); err != nil {
			t.Errorf("Health check failed: %v", err)
		}
	})
}
