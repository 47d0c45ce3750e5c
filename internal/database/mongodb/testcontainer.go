package mongodb

import (
	"context"
	"log/slog"
	"testing"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// TestImage is the MongoDB image used by integration tests. Pre-images on
// change streams need 6.0 or newer.
const TestImage = "mongo:7.0"

// SetupTestClient starts a single-node replica set container and returns a
// connected client. Both are torn down by t.Cleanup.
func SetupTestClient(t *testing.T, database string) *Client {
	t.Helper()

	ctx := context.Background()

	container, err := mongodb.Run(ctx, TestImage, mongodb.WithReplicaSet("rs0"))
	if err != nil {
		t.Fatalf("failed to start MongoDB container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("warning: failed to terminate container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	cfg := DefaultConfig()
	cfg.URI = uri
	cfg.Database = database

	client, err := New(ctx, cfg, slog.Default())
	if err != nil {
		t.Fatalf("failed to create MongoDB client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close(context.Background())
	})

	return client
}
