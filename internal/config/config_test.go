package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.HTTP.Port)
	assert.Equal(t, ":8000", cfg.HTTP.Addr())
	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, "embedded", cfg.Rates.Source)
	assert.Equal(t, "3600", cfg.Rates.RefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.Rates.Timeout)
	assert.Equal(t, 20000.0, cfg.Solver.UpperBoundKWh)
	assert.Equal(t, 100, cfg.Solver.MaxIterations)
	assert.Equal(t, 0.01, cfg.Solver.Tolerance)
	assert.Equal(t, 366, cfg.Solver.MaxPeriodDays)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1, cfg.Alert.MinFailures)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ERATEESTIMATOR_DB_DRIVER", "sqlite")
	t.Setenv("ERATEESTIMATOR_DB_DSN", "/tmp/x.db")
	t.Setenv("ERATEESTIMATOR_SOLVER_UPPER_BOUND_KWH", "50000")
	t.Setenv("ERATEESTIMATOR_RATES_SOURCE", "http")
	t.Setenv("ERATEESTIMATOR_RATES_URL", "https://rates.example.org/taipower.json")
	t.Setenv("PORT", "9090")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.DB.DSN)
	assert.Equal(t, 50000.0, cfg.Solver.UpperBoundKWh)
	assert.Equal(t, "http", cfg.Rates.Source)
	assert.Equal(t, "9090", cfg.HTTP.Port)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "erateestimator.yaml")
	body := "rates:\n  source: file\n  file: /data/rates\nwater:\n  m3_per_kwh: 12.5\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Rates.Source)
	assert.Equal(t, "/data/rates", cfg.Rates.File)
	assert.Equal(t, 12.5, cfg.Water.M3PerKWh)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("ERATEESTIMATOR_DB_DRIVER", "oracle")
	t.Setenv("ERATEESTIMATOR_RATES_SOURCE", "file")
	t.Setenv("ERATEESTIMATOR_SOLVER_MAX_ITERATIONS", "0")

	_, err := Load(NewViper(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.driver")
	assert.Contains(t, err.Error(), "rates.file")
	assert.Contains(t, err.Error(), "solver.max_iterations")
}

func TestLoad_EmailAndAuth(t *testing.T) {
	t.Setenv("ERATEESTIMATOR_EMAIL_PROVIDER", "SendGrid")
	t.Setenv("ERATEESTIMATOR_EMAIL_API_KEY", "SG.key")
	t.Setenv("ERATEESTIMATOR_EMAIL_FROM_ADDRESS", "alerts@example.com")
	t.Setenv("ERATEESTIMATOR_EMAIL_TO", "ops@example.com, oncall@example.com")
	t.Setenv("ERATEESTIMATOR_DB_DRIVER", "sqlite")
	t.Setenv("ERATEESTIMATOR_AUTH_ENABLED", "true")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "sendgrid", cfg.Email.Provider)
	assert.Equal(t, "SG.key", cfg.Email.APIKey)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, cfg.Email.To)
	assert.Equal(t, 587, cfg.Email.Port)
	assert.True(t, cfg.Auth.Enabled)
}

func TestLoad_AuthOnMemoryNeedsBootstrapToken(t *testing.T) {
	t.Setenv("ERATEESTIMATOR_AUTH_ENABLED", "true")
	_, err := Load(NewViper(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.admin_token_hash")
}
