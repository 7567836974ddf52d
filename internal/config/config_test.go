package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "filecache.json", filepath.Base(cfg.CachePath))
	assert.Equal(t, "kitovu.yml", filepath.Base(cfg.SettingsPath))
	assert.Equal(t, 1, cfg.Workers)
	assert.True(t, cfg.UseKeyring)
}

func TestValidate(t *testing.T) {
	t.Run("relative paths become absolute", func(t *testing.T) {
		cfg := Default()
		cfg.CachePath = "cache.json"
		require.NoError(t, cfg.Validate())
		assert.True(t, filepath.IsAbs(cfg.CachePath))
	})

	t.Run("workers", func(t *testing.T) {
		cfg := Default()
		cfg.Workers = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidWorkers)
	})

	t.Run("empty settings path", func(t *testing.T) {
		cfg := Default()
		cfg.SettingsPath = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "settings path")
	})

	t.Run("history can be disabled", func(t *testing.T) {
		cfg := Default()
		cfg.HistoryPath = ""
		require.NoError(t, cfg.Validate())
		assert.Empty(t, cfg.HistoryPath)
	})
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Path = filepath.Join(dir, "nested", ConfigFileName)
	cfg.CachePath = filepath.Join(dir, "cache.json")
	cfg.Workers = 4
	cfg.UseKeyring = false
	require.NoError(t, cfg.Save())

	loaded, err := LoadFromFile(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFromFile_Partial(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"workers": 3}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, DefaultCachePath, cfg.CachePath)
	assert.True(t, cfg.UseKeyring)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}
