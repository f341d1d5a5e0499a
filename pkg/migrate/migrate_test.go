package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreatedMigrationValidates(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	path, err := createSQLMigration(dir, "  Add Order Notes! ", now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "20260304050607_add_order_notes.sql"), path)
	require.NoError(t, ValidateDir(dir))

	_, err = createSQLMigration(dir, "add order notes", now)
	require.ErrorContains(t, err, "already exists")

	_, err = createSQLMigration(dir, "!!!", now)
	require.Error(t, err)
}

func TestValidateRejectsBadMigrations(t *testing.T) {
	valid := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose StatementEnd\n-- +goose Down\nSELECT 1;\n"
	tests := []struct {
		name  string
		files fstest.MapFS
		err   string
	}{
		{
			name:  "bad filename",
			files: fstest.MapFS{"m/1_orders.sql": {Data: []byte(valid)}},
			err:   "invalid migration filename",
		},
		{
			name: "duplicate version",
			files: fstest.MapFS{
				"m/20260101000000_a.sql": {Data: []byte(valid)},
				"m/20260101000000_b.sql": {Data: []byte(valid)},
			},
			err: "duplicate migration version",
		},
		{
			name:  "down before up",
			files: fstest.MapFS{"m/20260101000000_a.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")}},
			err:   "appears before",
		},
		{
			name:  "unbalanced block",
			files: fstest.MapFS{"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n")}},
			err:   "unbalanced statement blocks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorContains(t, validateFS(tt.files, "m"), tt.err)
		})
	}

	require.NoError(t, validateFS(fstest.MapFS{
		"m/20260101000000_a.sql": {Data: []byte(valid)},
		"m/README.md":            {Data: []byte("notes")},
	}, "m"))
}

func TestSourceUsesEmbeddedMigrations(t *testing.T) {
	fsys, root, err := source(DefaultDir)
	require.NoError(t, err)
	require.Equal(t, embeddedDir, root)
	require.NoError(t, validateFS(fsys, root))

	entries, err := embedded.ReadDir(embeddedDir)
	require.NoError(t, err)
	onDisk, err := os.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, len(onDisk))

	_, _, err = source(" ")
	require.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion(" 20260105090300 ")
	require.NoError(t, err)
	require.Equal(t, int64(20260105090300), v)

	for _, bad := range []string{"", "2026", "2026010509030x"} {
		_, err := parseVersion(bad)
		require.Error(t, err, bad)
	}
}
