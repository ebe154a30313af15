// Package testenv starts throwaway backing services for integration tests.
// Every helper skips the calling test unless NUKA_INTEGRATION=1.
package testenv

import (
	"context"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresImage ships the pgvector extension the migrations require.
const PostgresImage = "pgvector/pgvector:pg16"

// Require skips t unless integration tests are enabled.
func Require(t *testing.T) {
	t.Helper()
	if os.Getenv("NUKA_INTEGRATION") != "1" {
		t.Skip("integration tests disabled (set NUKA_INTEGRATION=1)")
	}
}

// Postgres starts a PostgreSQL container and returns its DSN.
func Postgres(t *testing.T) string {
	t.Helper()
	Require(t)
	ctx := context.Background()
	container, err := tcpg.Run(ctx, PostgresImage,
		tcpg.WithDatabase("nuka_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}
	return dsn
}

// Redis starts a Redis container and returns its URL.
func Redis(t *testing.T) string {
	t.Helper()
	Require(t)
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return "redis://" + endpoint
}

// Neo4j starts an unauthenticated Neo4j container and returns its bolt URI.
func Neo4j(t *testing.T) string {
	t.Helper()
	Require(t)
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("neo4j bolt url: %v", err)
	}
	return uri
}

// Qdrant starts a Qdrant container and returns its gRPC host and port.
func Qdrant(t *testing.T) (string, int) {
	t.Helper()
	Require(t)
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.12.4",
			ExposedPorts: []string{"6334/tcp"},
			WaitingFor:   wait.ForListeningPort("6334/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start qdrant: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("qdrant host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6334/tcp")
	if err != nil {
		t.Fatalf("qdrant port: %v", err)
	}
	return host, port.Int()
}
