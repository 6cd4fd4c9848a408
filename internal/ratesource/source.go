package ratesource

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bher20/erateestimator/internal/storage"
	"github.com/bher20/erateestimator/internal/tariff"
)

//go:embed data/rates.json
var embeddedRates []byte

// ErrNoSnapshot is returned by Snapshot when nothing has been stored yet.
var ErrNoSnapshot = errors.New("no stored rates snapshot")

// SnapshotLockKey is the advisory lock taken around snapshot writes when the
// store can coordinate replicas.
const SnapshotLockKey int64 = 0x72617465 // "rate"

// Fetcher returns a raw rate document.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FetchSource is a data source whose raw payload can be cached.
type FetchSource interface {
	Fetcher
	tariff.RateDataSource
}

// Embedded serves the rate tables compiled into the binary.
type Embedded struct {
	Log zerolog.Logger
}

func (Embedded) String() string { return "embedded" }

func (Embedded) Fetch(ctx context.Context) ([]byte, error) {
	return append([]byte(nil), embeddedRates...), nil
}

func (e Embedded) LoadAll(ctx context.Context) ([]tariff.RateVersion, error) {
	return DecodeBytes(embeddedRates, e.Log)
}

// File reads a rate document from a file, or from every *.json file of a
// directory in name order (one version or document per file).
type File struct {
	Path string
	Log  zerolog.Logger
}

func (f File) String() string { return "file:" + f.Path }

func (f File) LoadAll(ctx context.Context) ([]tariff.RateVersion, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, fmt.Errorf("stat rates path: %w", err)
	}
	if !info.IsDir() {
		return f.loadFile(f.Path)
	}

	matches, err := filepath.Glob(filepath.Join(f.Path, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var out []tariff.RateVersion
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		versions, err := f.loadFile(path)
		if err != nil {
			f.Log.Warn().Err(err).Str("file", path).Msg("skipping rate file")
			continue
		}
		out = append(out, versions...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", f.Path, ErrNoVersions)
	}
	return out, nil
}

func (f File) loadFile(path string) ([]tariff.RateVersion, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	versions, err := Decode(fh, f.Log.With().Str("file", filepath.Base(path)).Logger())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return versions, nil
}

// Snapshot serves the newest stored payload under Key.
type Snapshot struct {
	Store storage.Storage
	Key   string
	Log   zerolog.Logger
}

func (s Snapshot) String() string { return "snapshot:" + s.Key }

func (s Snapshot) Fetch(ctx context.Context) ([]byte, error) {
	snap, err := s.Store.GetRatesSnapshot(ctx, s.Key)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", s.Key, err)
	}
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap.Payload, nil
}

func (s Snapshot) LoadAll(ctx context.Context) ([]tariff.RateVersion, error) {
	payload, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(payload, s.Log)
}

// Cached wraps a remote source. Every good payload is persisted as a
// snapshot; when the primary fails the newest snapshot is served instead.
type Cached struct {
	Primary FetchSource
	Store   storage.Storage
	Key     string
	Log     zerolog.Logger
}

func (c Cached) String() string { return fmt.Sprintf("cached(%s)", describe(c.Primary)) }

func (c Cached) LoadAll(ctx context.Context) ([]tariff.RateVersion, error) {
	versions, err := c.loadPrimary(ctx)
	if err == nil {
		return versions, nil
	}
	c.Log.Warn().Err(err).Str("source", describe(c.Primary)).Msg("primary rate source failed, using stored snapshot")

	cached, snapErr := Snapshot{Store: c.Store, Key: c.Key, Log: c.Log}.LoadAll(ctx)
	if snapErr != nil {
		return nil, fmt.Errorf("%w (snapshot: %v)", err, snapErr)
	}
	return cached, nil
}

func (c Cached) loadPrimary(ctx context.Context) ([]tariff.RateVersion, error) {
	payload, err := c.Primary.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := DecodeBytes(payload, c.Log)
	if err != nil {
		return nil, err
	}
	// Only keep payloads that would build a registry.
	if _, err := tariff.NewRegistry(versions); err != nil {
		return nil, err
	}

	c.saveSnapshot(ctx, storage.RatesSnapshot{Source: c.Key, Payload: payload, Versions: len(versions)})
	return versions, nil
}

// saveSnapshot persists snap. With a Locker store only the replica holding
// the lock writes; the others already have the same payload in hand.
func (c Cached) saveSnapshot(ctx context.Context, snap storage.RatesSnapshot) {
	if locker, ok := c.Store.(storage.Locker); ok {
		got, err := locker.AcquireAdvisoryLock(ctx, SnapshotLockKey)
		if err != nil {
			c.Log.Warn().Err(err).Msg("acquire snapshot lock failed")
			return
		}
		if !got {
			c.Log.Debug().Str("key", c.Key).Msg("snapshot lock held by another replica, skipping write")
			return
		}
		defer func() {
			if _, err := locker.ReleaseAdvisoryLock(context.WithoutCancel(ctx), SnapshotLockKey); err != nil {
				c.Log.Warn().Err(err).Msg("release snapshot lock failed")
			}
		}()
	}
	if err := c.Store.SaveRatesSnapshot(ctx, snap); err != nil {
		c.Log.Warn().Err(err).Str("key", c.Key).Msg("failed to save rates snapshot")
	}
}

// Fallback tries each source in order and returns the first non-empty
// result.
type Fallback struct {
	Sources []tariff.RateDataSource
	Log     zerolog.Logger
}

func (f Fallback) String() string {
	names := make([]string, len(f.Sources))
	for i, s := range f.Sources {
		names[i] = describe(s)
	}
	return strings.Join(names, " -> ")
}

func (f Fallback) LoadAll(ctx context.Context) ([]tariff.RateVersion, error) {
	var errs []error
	for i, src := range f.Sources {
		versions, err := loadValid(ctx, src)
		if err == nil {
			if i > 0 {
				f.Log.Warn().Str("source", describe(src)).Msg("serving rates from fallback source")
			}
			return versions, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.Log.Warn().Err(err).Str("source", describe(src)).Msg("rate source failed")
		errs = append(errs, fmt.Errorf("%s: %w", describe(src), err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no rate sources configured")
	}
	return nil, errors.Join(errs...)
}

// loadValid loads src and requires the result to build a registry, so that a
// source with overlapping or duplicate versions does not shadow the next one.
func loadValid(ctx context.Context, src tariff.RateDataSource) ([]tariff.RateVersion, error) {
	versions, err := src.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNoVersions
	}
	if _, err := tariff.NewRegistry(versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func describe(src any) string {
	if s, ok := src.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", src)
}
