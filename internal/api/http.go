package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bher20/erateestimator/internal/auth"
	"github.com/bher20/erateestimator/internal/estimate"
	"github.com/bher20/erateestimator/internal/metrics"
	"github.com/bher20/erateestimator/internal/ratesource"
	"github.com/bher20/erateestimator/internal/storage"
	"github.com/bher20/erateestimator/internal/tariff"
)

// Deps are the collaborators the HTTP surface needs. Store may be nil. A
// nil Auth leaves the admin endpoints open.
type Deps struct {
	Service *estimate.Service
	Loader  *ratesource.Loader
	Store   storage.Storage
	Auth    *auth.Service
	Log     zerolog.Logger
}

type server struct {
	Deps
	log zerolog.Logger
}

// NewMux constructs the HTTP mux, wiring in the estimate service, metrics,
// and health endpoints.
func NewMux(deps Deps) *http.ServeMux {
	s := &server{Deps: deps, log: deps.Log.With().Str("component", "api").Logger()}

	mux := http.NewServeMux()

	// Metrics endpoint.
	mux.Handle("/metrics", promhttp.Handler())

	// Health / readiness / liveness.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("live"))
	})

	mux.Handle("/api/v1/estimate", s.instrument("estimate", http.MethodPost, s.handleEstimate))
	mux.Handle("/api/v1/bill", s.instrument("bill", http.MethodPost, s.handleBill))
	mux.Handle("/api/v1/season", s.instrument("season", http.MethodGet, s.handleSeason))
	mux.Handle("/api/v1/rate-versions", s.instrument("rate_versions", http.MethodGet, s.handleRateVersions))
	mux.Handle("/api/v1/rate-versions/reload", s.instrument("reload", http.MethodPost,
		s.authorize("rates", "write", s.handleReload)))
	mux.Handle("/api/v1/settings/refresh-interval", s.instrument("refresh_interval", "", s.handleRefreshInterval))
	mux.Handle("/api/v1/tokens", s.instrument("tokens", "", s.handleTokens))
	mux.Handle("/api/v1/tokens/", s.instrument("tokens", http.MethodDelete,
		s.authorize("tokens", "write", s.handleRevokeToken)))

	return mux
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Store != nil {
		if err := s.Store.Ping(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("readyz: db ping failed")
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if s.Loader == nil || s.Loader.Holder().Load() == nil {
		http.Error(w, "rates not loaded", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// apiError is the JSON body of every error response.
type apiError struct {
	Error        string `json:"error"`
	QueriedDate  string `json:"queried_date,omitempty"`
	MinEffective string `json:"min_effective,omitempty"`
	MaxEffective string `json:"max_effective,omitempty"`
}

// handlerFunc returns the status code it wrote so instrument can count
// errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) int

// instrument records request metrics for endpoint and rejects methods other
// than method. An empty method accepts anything.
func (s *server) instrument(endpoint, method string, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			metrics.RequestDurationSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}()
		metrics.RequestsTotal.WithLabelValues(endpoint).Inc()

		var code int
		if method != "" && r.Method != method {
			w.Header().Set("Allow", method)
			code = s.writeError(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		} else {
			code = h(w, r)
		}
		if code >= 400 {
			metrics.RequestErrorsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
		}
	})
}

func (s *server) writeJSON(w http.ResponseWriter, code int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response failed")
	}
	return code
}

func (s *server) writeError(w http.ResponseWriter, code int, body apiError) int {
	return s.writeJSON(w, code, body)
}

// fail maps an engine or service error to a status code and writes it.
func (s *server) fail(w http.ResponseWriter, err error) int {
	var nav *tariff.NoApplicableVersionError
	switch {
	case errors.As(err, &nav):
		body := apiError{Error: err.Error(), QueriedDate: tariff.FormatDate(nav.QueriedDate)}
		if !nav.MinEffective.IsZero() {
			body.MinEffective = tariff.FormatDate(nav.MinEffective)
			body.MaxEffective = tariff.FormatDate(nav.MaxEffective)
		}
		return s.writeError(w, http.StatusUnprocessableEntity, body)
	case errors.Is(err, tariff.ErrNoApplicableVersion):
		return s.writeError(w, http.StatusUnprocessableEntity, apiError{Error: err.Error()})
	case errors.Is(err, tariff.ErrEndBeforeStart), errors.Is(err, estimate.ErrInvalidRequest):
		return s.writeError(w, http.StatusBadRequest, apiError{Error: err.Error()})
	case errors.Is(err, estimate.ErrRegistryNotLoaded):
		return s.writeError(w, http.StatusServiceUnavailable, apiError{Error: err.Error()})
	default:
		s.log.Error().Err(err).Msg("request failed")
		return s.writeError(w, http.StatusInternalServerError, apiError{Error: "internal error"})
	}
}

// authorize guards h with the token policy when auth is configured.
func (s *server) authorize(obj, act string, h handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) int {
		if s.Auth == nil {
			return h(w, r)
		}
		p, code, err := s.Auth.Check(r, obj, act)
		if err != nil {
			if code == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Bearer realm="erateestimator"`)
			}
			msg := http.StatusText(code)
			if code != http.StatusInternalServerError {
				msg = err.Error()
			}
			return s.writeError(w, code, apiError{Error: msg})
		}
		return h(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	}
}

func (s *server) badRequest(w http.ResponseWriter, msg string) int {
	return s.writeError(w, http.StatusBadRequest, apiError{Error: msg})
}
