package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesSortedAndFiltered(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"002_memories.sql", "001_profiles.sql", "notes.md", "010_knowledge.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.sql"), 0o755))

	names, err := migrationFiles(dir)

	require.NoError(t, err)
	assert.Equal(t, []string{"001_profiles.sql", "002_memories.sql", "010_knowledge.sql"}, names)
}

func TestMigrationFilesMissingDir(t *testing.T) {
	t.Parallel()

	_, err := migrationFiles(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestPendingPreservesOrder(t *testing.T) {
	t.Parallel()

	versions := []string{"001_profiles.sql", "002_memories.sql", "003_knowledge.sql"}
	applied := map[string]bool{"002_memories.sql": true}

	assert.Equal(t, []string{"001_profiles.sql", "003_knowledge.sql"}, pending(versions, applied))
	assert.Nil(t, pending(versions, map[string]bool{
		"001_profiles.sql": true, "002_memories.sql": true, "003_knowledge.sql": true,
	}))
}
