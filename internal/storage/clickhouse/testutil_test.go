package clickhouse

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schemaDir holds the SQL applied by migrations.RunClickhouseMigrations.
const schemaDir = "../migrations/clickhouse"

// setupTestDB starts a throwaway ClickHouse with the training_rows schema.
// The returned func stops the container.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("clickhouse integration test requires docker")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_DB": "harvester"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(time.Minute),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://%s/harvester", endpoint))
	require.NoError(t, err)

	schema := os.DirFS(schemaDir)
	files, err := fs.Glob(schema, "*.sql")
	require.NoError(t, err)
	for _, name := range files {
		body, err := fs.ReadFile(schema, name)
		require.NoError(t, err)
		// One statement per Exec; the driver rejects batches.
		for _, stmt := range strings.Split(string(body), ";") {
			if !hasSQL(stmt) {
				continue
			}
			require.NoError(t, conn.Exec(ctx, stmt), "apply %s", name)
		}
	}

	return conn, func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}
}

// hasSQL reports whether stmt contains anything besides blanks and -- comments.
func hasSQL(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}
