//go:build integration

package database

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a throwaway postgres container and applies the schema.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	testcontainers.Logger = log.New(io.Discard, "", 0)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "tablegen",
				"POSTGRES_PASSWORD": "tablegen",
				"POSTGRES_DB":       "tablegen",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := New(ctx, Config{
		Host:     host,
		Port:     port.Int(),
		User:     "tablegen",
		Password: "tablegen",
		Database: "tablegen",
		MaxConns: 4,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	return db
}
