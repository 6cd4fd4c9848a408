package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStorage runs the behaviour every backend must share.
func exerciseStorage(t *testing.T, st Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("snapshots", func(t *testing.T) {
		snap, err := st.GetRatesSnapshot(ctx, "rates:remote")
		require.NoError(t, err)
		assert.Nil(t, snap)

		base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
		for i, body := range []string{`[1]`, `[2]`, `[3]`} {
			require.NoError(t, st.SaveRatesSnapshot(ctx, RatesSnapshot{
				Source:    "rates:remote",
				Payload:   []byte(body),
				Versions:  i + 1,
				FetchedAt: base.Add(time.Duration(i) * time.Hour),
			}))
		}
		require.NoError(t, st.SaveRatesSnapshot(ctx, RatesSnapshot{Source: "other", Payload: []byte(`[]`)}))

		snap, err = st.GetRatesSnapshot(ctx, "rates:remote")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, `[3]`, string(snap.Payload))
		assert.Equal(t, 3, snap.Versions)
		assert.NotEmpty(t, snap.ID)

		list, err := st.ListRatesSnapshots(ctx, "rates:remote", 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, `[3]`, string(list[0].Payload))
		assert.Equal(t, `[2]`, string(list[1].Payload))

		all, err := st.ListRatesSnapshots(ctx, "rates:remote", 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("settings", func(t *testing.T) {
		v, err := st.GetSetting(ctx, "refresh_interval_seconds")
		require.NoError(t, err)
		assert.Equal(t, "", v)

		require.NoError(t, st.SetSetting(ctx, "refresh_interval_seconds", "600"))
		require.NoError(t, st.SetSetting(ctx, "refresh_interval_seconds", "900"))
		v, err = st.GetSetting(ctx, "refresh_interval_seconds")
		require.NoError(t, err)
		assert.Equal(t, "900", v)
	})

	t.Run("scheduled jobs", func(t *testing.T) {
		job, err := st.GetScheduledJob(ctx, "reload_rates")
		require.NoError(t, err)
		assert.Nil(t, job)

		started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		require.NoError(t, st.UpdateScheduledJob(ctx, "reload_rates", started, 1500*time.Millisecond, false, "boom"))
		require.NoError(t, st.UpdateScheduledJob(ctx, "reload_rates", started.Add(time.Hour), 250*time.Millisecond, true, ""))

		job, err = st.GetScheduledJob(ctx, "reload_rates")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.True(t, job.Succeeded())
		assert.Equal(t, int64(250), job.LastDurationMs)
		assert.Empty(t, job.LastError)
		assert.True(t, job.LastRunAt.Equal(started.Add(time.Hour)))
	})

	t.Run("api tokens", func(t *testing.T) {
		tok, err := st.GetAPITokenByHash(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, tok)

		exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, st.CreateAPIToken(ctx, APIToken{Name: "ci", TokenHash: "h1", Role: "operator", ExpiresAt: &exp}))
		require.NoError(t, st.CreateAPIToken(ctx, APIToken{Name: "dash", TokenHash: "h2", Role: "viewer",
			CreatedAt: time.Now().Add(time.Minute)}))
		assert.Error(t, st.CreateAPIToken(ctx, APIToken{Name: "dup", TokenHash: "h1", Role: "viewer"}))

		tok, err = st.GetAPITokenByHash(ctx, "h1")
		require.NoError(t, err)
		require.NotNil(t, tok)
		assert.Equal(t, "ci", tok.Name)
		assert.Equal(t, "operator", tok.Role)
		require.NotNil(t, tok.ExpiresAt)
		assert.True(t, tok.ExpiresAt.Equal(exp))
		assert.Nil(t, tok.LastUsedAt)

		used := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, st.TouchAPIToken(ctx, tok.ID, used))
		tok, err = st.GetAPITokenByHash(ctx, "h1")
		require.NoError(t, err)
		require.NotNil(t, tok.LastUsedAt)
		assert.True(t, tok.LastUsedAt.Equal(used))

		list, err := st.ListAPITokens(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "ci", list[0].Name)

		require.NoError(t, st.DeleteAPIToken(ctx, tok.ID))
		tok, err = st.GetAPITokenByHash(ctx, "h1")
		require.NoError(t, err)
		assert.Nil(t, tok)
	})

	require.NoError(t, st.Ping(ctx))
}

func TestMemoryStorage(t *testing.T) {
	st := NewMemory()
	defer st.Close()
	exerciseStorage(t, st)
}

func TestGormStorage_SQLite(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "store.db"),
		AutoMigrate: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	exerciseStorage(t, st)

	locker, ok := st.(Locker)
	require.True(t, ok)
	got, err := locker.AcquireAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.True(t, got)
	_, err = locker.ReleaseAdvisoryLock(ctx, 42)
	require.NoError(t, err)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestMemoryStorage_PayloadIsCopied(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	payload := []byte(`{"versions":[]}`)
	require.NoError(t, st.SaveRatesSnapshot(ctx, RatesSnapshot{Source: "s", Payload: payload}))
	payload[0] = 'X'

	snap, err := st.GetRatesSnapshot(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, byte('{'), snap.Payload[0])
}
