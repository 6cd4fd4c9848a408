package ratesource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/erateestimator/internal/storage"
	"github.com/bher20/erateestimator/internal/tariff"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// flakyServer serves sampleVersion until failing is set.
func flakyServer(t *testing.T) (*httptest.Server, *atomic.Bool, *atomic.Int32) {
	t.Helper()
	var failing atomic.Bool
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleVersion))
	}))
	t.Cleanup(srv.Close)
	return srv, &failing, &hits
}

type staticSource struct {
	versions []tariff.RateVersion
	err      error
}

func (s staticSource) LoadAll(ctx context.Context) ([]tariff.RateVersion, error) {
	return s.versions, s.err
}

func TestFile_SingleFileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	single := writeFile(t, dir, "all.json", "["+olderVersion+","+sampleVersion+"]")

	versions, err := File{Path: single, Log: zerolog.Nop()}.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	perVersion := t.TempDir()
	writeFile(t, perVersion, "2023-04.json", olderVersion)
	writeFile(t, perVersion, "2024-04.json", sampleVersion)
	writeFile(t, perVersion, "broken.json", "{")
	writeFile(t, perVersion, "README.md", "not a rate file")

	versions, err = File{Path: perVersion, Log: zerolog.Nop()}.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "2023-04", versions[0].VersionID)
	assert.Equal(t, "2024-04", versions[1].VersionID)
}

func TestFile_Errors(t *testing.T) {
	_, err := File{Path: filepath.Join(t.TempDir(), "missing.json")}.LoadAll(context.Background())
	assert.Error(t, err)

	_, err = File{Path: t.TempDir()}.LoadAll(context.Background())
	assert.ErrorIs(t, err, ErrNoVersions)
}

func TestHTTP_LoadAll(t *testing.T) {
	srv, failing, _ := flakyServer(t)
	src := HTTP{URL: srv.URL, Client: srv.Client(), Log: zerolog.Nop()}

	versions, err := src.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "2024-04", versions[0].VersionID)

	failing.Store(true)
	_, err = src.LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCached_PersistsAndFallsBackToSnapshot(t *testing.T) {
	ctx := context.Background()
	srv, failing, _ := flakyServer(t)
	store := storage.NewMemory()
	src := Cached{
		Primary: HTTP{URL: srv.URL, Client: srv.Client(), Log: zerolog.Nop()},
		Store:   store,
		Key:     "rates:remote",
		Log:     zerolog.Nop(),
	}

	_, err := src.LoadAll(ctx)
	require.NoError(t, err)

	snap, err := store.GetRatesSnapshot(ctx, "rates:remote")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Versions)
	assert.JSONEq(t, sampleVersion, string(snap.Payload))

	failing.Store(true)
	versions, err := src.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "2024-04", versions[0].VersionID)

	list, err := store.ListRatesSnapshots(ctx, "rates:remote", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1, "failed fetches must not add snapshots")
}

func TestCached_NoSnapshot(t *testing.T) {
	srv, failing, _ := flakyServer(t)
	failing.Store(true)
	src := Cached{
		Primary: HTTP{URL: srv.URL, Client: srv.Client()},
		Store:   storage.NewMemory(),
		Key:     "rates:remote",
		Log:     zerolog.Nop(),
	}
	_, err := src.LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrNoSnapshot.Error())
}

func TestFallback(t *testing.T) {
	good, err := DecodeBytes([]byte(sampleVersion), zerolog.Nop())
	require.NoError(t, err)

	src := Fallback{
		Sources: []tariff.RateDataSource{
			staticSource{err: errors.New("remote down")},
			staticSource{},
			staticSource{versions: good},
		},
		Log: zerolog.Nop(),
	}
	versions, err := src.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, good, versions)

	all := Fallback{Sources: []tariff.RateDataSource{staticSource{err: errors.New("a")}}, Log: zerolog.Nop()}
	_, err = all.LoadAll(context.Background())
	assert.Error(t, err)

	_, err = Fallback{}.LoadAll(context.Background())
	assert.Error(t, err)
}

func TestFallback_SkipsSourceThatCannotBuildRegistry(t *testing.T) {
	good, err := DecodeBytes([]byte(sampleVersion), zerolog.Nop())
	require.NoError(t, err)
	clash := good[0]
	clash.VersionID = "2024-04-dup"

	src := Fallback{
		Sources: []tariff.RateDataSource{
			staticSource{versions: []tariff.RateVersion{good[0], clash}},
			Embedded{},
		},
		Log: zerolog.Nop(),
	}
	versions, err := src.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 4)

	only := Fallback{Sources: src.Sources[:1], Log: zerolog.Nop()}
	_, err = only.LoadAll(context.Background())
	assert.ErrorIs(t, err, tariff.ErrOverlappingVersions)
}

// lockingStore reports the snapshot lock as held by someone else until
// free is set.
type lockingStore struct {
	*storage.MemoryStorage
	free     bool
	acquired int
	released int
}

func (s *lockingStore) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if !s.free {
		return false, nil
	}
	s.acquired++
	return true, nil
}

func (s *lockingStore) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	s.released++
	return true, nil
}

func TestCached_SnapshotWriteNeedsLock(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := flakyServer(t)
	store := &lockingStore{MemoryStorage: storage.NewMemory()}
	src := Cached{
		Primary: HTTP{URL: srv.URL, Client: srv.Client(), Log: zerolog.Nop()},
		Store:   store,
		Key:     "rates:remote",
		Log:     zerolog.Nop(),
	}

	versions, err := src.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 1, "a held lock must not block the local load")
	snap, err := store.GetRatesSnapshot(ctx, "rates:remote")
	require.NoError(t, err)
	assert.Nil(t, snap)

	store.free = true
	_, err = src.LoadAll(ctx)
	require.NoError(t, err)
	snap, err = store.GetRatesSnapshot(ctx, "rates:remote")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, store.acquired)
	assert.Equal(t, 1, store.released)
}

func TestBuild(t *testing.T) {
	store := storage.NewMemory()

	src, err := Build(Options{}, store, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, Embedded{}, src)

	_, err = Build(Options{Source: "file"}, store, zerolog.Nop())
	assert.Error(t, err)

	_, err = Build(Options{Source: "ftp"}, store, zerolog.Nop())
	assert.Error(t, err)

	srv, failing, hits := flakyServer(t)
	failing.Store(true)
	src, err = Build(Options{Source: "http", URL: srv.URL, Client: srv.Client()}, store, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "cached(http:"+srv.URL+") -> embedded", src.(Fallback).String())

	// Remote down and nothing stored: the embedded tables take over.
	versions, err := src.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 4)
	assert.Equal(t, int32(1), hits.Load())
}

func TestExport_LoadsBack(t *testing.T) {
	versions, err := Embedded{}.LoadAll(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "rates.json")
	require.NoError(t, Export(path, versions))

	back, err := File{Path: path, Log: zerolog.Nop()}.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, versions, back)
}
