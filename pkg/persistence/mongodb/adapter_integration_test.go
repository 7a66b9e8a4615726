package mongodb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nimburion/mqttpersist/pkg/persistence"
	"github.com/nimburion/mqttpersist/pkg/persistence/contract"
	"github.com/nimburion/mqttpersist/pkg/testutil"
)

// TestAdapter_Integration runs the persistence contract against a real
// MongoDB started with testcontainers.
func TestAdapter_Integration(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start MongoDB container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "27017/tcp")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	cfg := Config{
		URL:       fmt.Sprintf("mongodb://%s:%s", host, port.Port()),
		Database:  "mqtt_it",
		Prefix:    "it",
		AutoIndex: true,
	}

	contract.TestPersistenceContract(t, func(t *testing.T) persistence.Persistence {
		adapter, err := NewAdapter(cfg, nil)
		if err != nil {
			t.Fatalf("Failed to create adapter: %v", err)
		}
		return adapter
	})
}
