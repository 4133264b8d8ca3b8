package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unset clears key for the duration of the test.
func unset(t *testing.T, key string) {
	t.Helper()

	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"MODELS_DIR", "FOLDER_PATHS", "HTTP_CONNECT_TIMEOUT", "PROGRESS_INTERVAL", "WEB_BIND_ADDRESS", "HISTORY_ENABLED"} {
		unset(t, key)
	}

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "models", cfg.ModelsDir)
	assert.Empty(t, cfg.FolderPaths)
	assert.Equal(t, 30*time.Second, cfg.HTTPConnectTimeout)
	assert.Equal(t, time.Duration(0), cfg.HTTPResponseHeaderTimeout)
	assert.Equal(t, int64(100_000_000), cfg.ProgressBytes())
	assert.Equal(t, "0.0.0.0:8189", cfg.Web.BindAddress)
	assert.True(t, cfg.HistoryEnabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("MODELS_DIR", "/srv/comfy/models")
	t.Setenv("FOLDER_PATHS", "diffusion_models:/a/unet:/b/diffusion_models,loras:/c/loras")
	t.Setenv("PROGRESS_INTERVAL", "8MiB")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:9000")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "/srv/comfy/models", cfg.ModelsDir)
	assert.Equal(t, FolderPaths{
		"diffusion_models": "/a/unet:/b/diffusion_models",
		"loras":            "/c/loras",
	}, cfg.FolderPaths)
	assert.Equal(t, int64(8<<20), cfg.ProgressBytes())
	assert.Equal(t, "127.0.0.1:9000", cfg.Web.BindAddress)
}

func TestFolderPaths_Decode(t *testing.T) {
	var f FolderPaths

	require.NoError(t, f.Decode(`checkpoints:C:\models\ckpt, vae:/v ,`))
	assert.Equal(t, FolderPaths{
		"checkpoints": `C:\models\ckpt`,
		"vae":         "/v",
	}, f)

	require.NoError(t, f.Decode(""))
	assert.Empty(t, f)

	assert.Error(t, f.Decode("loras"))
	assert.Error(t, f.Decode(":/only/path"))
	assert.Error(t, f.Decode("loras:"))
}

func TestLoadConfig_InvalidFolderPaths(t *testing.T) {
	t.Setenv("FOLDER_PATHS", "loras")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "FOLDER_PATHS")
}

func TestLoadConfig_DotEnv(t *testing.T) {
	unset(t, "DB_PATH")
	t.Setenv("MODELS_DIR", "/from/environment")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DB_PATH=/from/dotenv.db\nMODELS_DIR=/from/dotenv\n"), 0o600))

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, "/from/dotenv.db", cfg.DBPath)
	assert.Equal(t, "/from/environment", cfg.ModelsDir, "environment wins over .env")
}

func TestLoadConfig_InvalidProgressInterval(t *testing.T) {
	t.Setenv("PROGRESS_INTERVAL", "lots")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "PROGRESS_INTERVAL")
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		c := &Config{LogLevel: in}
		assert.Equal(t, want, c.SlogLevel(), in)
	}
}
