package ratesource

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bher20/erateestimator/internal/metrics"
	"github.com/bher20/erateestimator/internal/storage"
	"github.com/bher20/erateestimator/internal/tariff"
)

// Options selects and parameterizes the rate source chain.
type Options struct {
	Source      string // embedded, file, http
	File        string
	URL         string
	SnapshotKey string
	Timeout     time.Duration
	Client      *http.Client
}

// Build assembles the source chain for opts. Remote documents are cached in
// store and every chain ends with the embedded tables.
func Build(opts Options, store storage.Storage, log zerolog.Logger) (tariff.RateDataSource, error) {
	log = log.With().Str("component", "ratesource").Logger()
	embedded := Embedded{Log: log}

	switch opts.Source {
	case "", "embedded":
		return embedded, nil

	case "file":
		if opts.File == "" {
			return nil, fmt.Errorf("rates source file: no path configured")
		}
		return Fallback{
			Sources: []tariff.RateDataSource{File{Path: opts.File, Log: log}, embedded},
			Log:     log,
		}, nil

	case "http":
		if opts.URL == "" {
			return nil, fmt.Errorf("rates source http: no url configured")
		}
		client := opts.Client
		if client == nil {
			timeout := opts.Timeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			client = NewHTTPClient(timeout, false)
		}
		fetcher := HTTP{URL: opts.URL, Client: client, Log: log}
		var remote tariff.RateDataSource = fetcher
		if store != nil {
			key := opts.SnapshotKey
			if key == "" {
				key = "rates:remote"
			}
			remote = Cached{Primary: fetcher, Store: store, Key: key, Log: log}
		}
		chain := []tariff.RateDataSource{remote}
		if opts.File != "" {
			chain = append(chain, File{Path: opts.File, Log: log})
		}
		chain = append(chain, embedded)
		return Fallback{Sources: chain, Log: log}, nil

	default:
		return nil, fmt.Errorf("unsupported rates source %q", opts.Source)
	}
}

// Status describes the outcome of the latest reload.
type Status struct {
	Source     string    `json:"source"`
	Versions   int       `json:"versions"`
	Generation uint64    `json:"generation"`
	LastReload time.Time `json:"last_reload,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Loader rebuilds the registry from a source and publishes it through a
// Holder. A failed reload leaves the previous registry in place.
type Loader struct {
	source tariff.RateDataSource
	holder *tariff.Holder
	log    zerolog.Logger

	reloadMu sync.Mutex

	mu     sync.Mutex
	status Status
}

func NewLoader(source tariff.RateDataSource, holder *tariff.Holder, log zerolog.Logger) *Loader {
	return &Loader{
		source: source,
		holder: holder,
		log:    log.With().Str("component", "loader").Logger(),
		status: Status{Source: describe(source)},
	}
}

// Holder returns the holder the loader publishes into.
func (l *Loader) Holder() *tariff.Holder { return l.holder }

// Reload loads all versions, validates them into a new registry and swaps
// it in. Concurrent calls are serialized.
func (l *Loader) Reload(ctx context.Context) (*tariff.Registry, error) {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	start := time.Now()
	reg, err := l.build(ctx)
	metrics.ObserveReload(regLen(reg), err)
	if err != nil {
		l.mu.Lock()
		l.status.LastError = err.Error()
		l.mu.Unlock()
		l.log.Error().Err(err).Str("source", describe(l.source)).Msg("rate reload failed")
		return nil, err
	}

	l.holder.Swap(reg)
	l.mu.Lock()
	l.status.Versions = reg.Len()
	l.status.Generation = l.holder.Generation()
	l.status.LastReload = time.Now().UTC()
	l.status.LastError = ""
	l.mu.Unlock()

	minEff, maxEff := reg.Coverage()
	l.log.Info().
		Int("versions", reg.Len()).
		Str("coverage_from", tariff.FormatDate(minEff)).
		Str("coverage_to", tariff.FormatDate(maxEff)).
		Dur("took", time.Since(start)).
		Msg("rate registry loaded")
	return reg, nil
}

func (l *Loader) build(ctx context.Context) (*tariff.Registry, error) {
	versions, err := l.source.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rates: %w", err)
	}
	reg, err := tariff.NewRegistry(versions)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	return reg, nil
}

// Status returns a copy of the latest reload outcome.
func (l *Loader) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func regLen(reg *tariff.Registry) int {
	if reg == nil {
		return 0
	}
	return reg.Len()
}
