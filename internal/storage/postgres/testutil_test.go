package postgres

import (
	"context"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// schemaDir holds the SQL applied by migrations.RunPostgresMigrations.
// The migrations package imports this one, so tests read the files directly.
const schemaDir = "../migrations/postgres"

// setupTestDB starts a throwaway PostgreSQL with the harvester schema.
// The returned func stops the container.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test requires docker")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("harvester"),
		postgres.WithUsername("harvester"),
		postgres.WithPassword("harvester"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)

	schema := os.DirFS(schemaDir)
	files, err := fs.Glob(schema, "*.sql") // lexical order
	require.NoError(t, err)
	require.NotEmpty(t, files, "no schema files under %s", schemaDir)
	for _, name := range files {
		body, err := fs.ReadFile(schema, name)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(body))
		require.NoError(t, err, "apply %s", name)
	}

	return pool, func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	}
}
