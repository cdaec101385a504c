package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000001_init.up.sql", "000001_init.down.sql",
		"000003_link_version.up.sql", "000003_link_version.down.sql",
		"000002_golden_eids.up.sql", "README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	latest, err := latestVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, latest)

	_, err = latestVersion(t.TempDir())
	assert.Error(t, err)
}

func TestMigrationService_Folder(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	ms := NewMigrationService(logger, &MigrationConfig{})
	assert.Equal(t, DefaultMigrationFolder, ms.config.MigrationFolderPath)

	dir := t.TempDir()
	folder, err := NewMigrationService(logger, &MigrationConfig{MigrationFolderPath: dir}).folder()
	require.NoError(t, err)
	assert.Equal(t, dir, folder)

	_, err = NewMigrationService(logger, &MigrationConfig{MigrationFolderPath: filepath.Join(dir, "missing")}).folder()
	assert.ErrorContains(t, err, "does not exist")
}
