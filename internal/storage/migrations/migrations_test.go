package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsPresent(t *testing.T) {
	pg, err := migrationFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"001_watch_list.sql",
		"002_token_snapshots.sql",
		"003_feature_distributions.sql",
		"004_reports.sql",
	}, pg)

	ch, err := migrationFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_training_rows.sql"}, ch)
}

func TestClickhouseMigrationsSplitCleanly(t *testing.T) {
	files, err := migrationFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	for _, f := range files {
		data, err := ClickhouseFS.ReadFile("clickhouse/" + f)
		require.NoError(t, err)
		assert.NoError(t, validateNoSemicolonInStrings(string(data)), f)
		assert.NotEmpty(t, splitStatements(string(data)), f)
	}
}

func TestApply_LexicalOrderSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_b.sql":  {Data: []byte("SELECT 2")},
		"m/001_a.sql":  {Data: []byte("SELECT 1")},
		"m/003_c.sql":  {Data: []byte("   \n")},
		"m/readme.txt": {Data: []byte("ignored")},
	}
	var seen []string
	applied, err := apply(fsys, "m", func(file, sql string) error {
		seen = append(seen, sql)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, applied)
	assert.Equal(t, []string{"SELECT 1", "SELECT 2"}, seen)
}

func TestSplitStatements(t *testing.T) {
	sql := "-- comment\nCREATE TABLE a (x Int8);\n\nCREATE TABLE b (y Int8);\n"
	assert.Equal(t, []string{"CREATE TABLE a (x Int8)", "CREATE TABLE b (y Int8)"}, splitStatements(sql))
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'it''s'; SELECT 1;"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b'"))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://u:p@localhost:9000/harvester")
	require.NoError(t, err)
	assert.Equal(t, "harvester", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
