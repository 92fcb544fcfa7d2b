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

// chdirTemp runs the test from an empty directory so a developer's .env does
// not leak into it.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.PushTimeout)
	assert.Equal(t, 4, cfg.NotifyWorkers)
	assert.Equal(t, 256, cfg.NotifyQueueSize)
	assert.Equal(t, 1.0, cfg.UnlockRatePerSecond)
	assert.Equal(t, 5, cfg.UnlockBurst)
	assert.Equal(t, 30*24*time.Hour, cfg.DeviceRetention)
	assert.Equal(t, 5.0, cfg.NearbyDefaultRadiusKm)
	assert.Empty(t, cfg.PushEndpoint)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("PORT", "8081")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:drops.db")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("PUSH_TIMEOUT", "2s")
	t.Setenv("UNLOCK_RATE_PER_SECOND", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "file:drops.db", cfg.DatabaseURL)
	assert.Equal(t, 2*time.Second, cfg.PushTimeout)
	assert.Equal(t, 0.5, cfg.UnlockRatePerSecond)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=from-file\nNOTIFY_WORKERS=9\n"), 0o600))
	t.Setenv("NOTIFY_WORKERS", "2")
	t.Cleanup(func() { os.Unsetenv("JWT_SECRET") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 2, cfg.NotifyWorkers)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{}},
		{name: "bad port", env: map[string]string{"JWT_SECRET": "x", "PORT": "abc"}},
		{name: "port out of range", env: map[string]string{"JWT_SECRET": "x", "PORT": "70000"}},
		{name: "unknown driver", env: map[string]string{"JWT_SECRET": "x", "DATABASE_DRIVER": "mysql"}},
		{name: "zero burst", env: map[string]string{"JWT_SECRET": "x", "UNLOCK_BURST": "0"}},
		{name: "zero radius", env: map[string]string{"JWT_SECRET": "x", "NEARBY_DEFAULT_RADIUS_KM": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv("JWT_SECRET", "")
			os.Unsetenv("JWT_SECRET")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
