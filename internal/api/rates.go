package api

import (
	"net/http"
	"strings"

	"github.com/bher20/erateestimator/internal/auth"
	"github.com/bher20/erateestimator/internal/cron"
	"github.com/bher20/erateestimator/internal/estimate"
	"github.com/bher20/erateestimator/internal/ratesource"
	"github.com/bher20/erateestimator/internal/storage"
	"github.com/bher20/erateestimator/internal/tariff"
)

// RateVersionsResponse lists the loaded registry.
type RateVersionsResponse struct {
	Versions     []ratesource.WireVersion `json:"versions"`
	MinEffective string                   `json:"min_effective,omitempty"`
	MaxEffective string                   `json:"max_effective,omitempty"`
	Status       ratesource.Status        `json:"status"`
	Job          *storage.ScheduledJob    `json:"job,omitempty"`
}

// ReloadResponse is the response structure for reload requests.
type ReloadResponse struct {
	Status   string            `json:"status"`
	Versions int               `json:"versions"`
	Error    string            `json:"error,omitempty"`
	Loader   ratesource.Status `json:"loader"`
}

// RefreshIntervalRequest sets the reload schedule: integer seconds or a
// cron expression.
type RefreshIntervalRequest struct {
	Interval string `json:"interval"`
}

func (s *server) handleRateVersions(w http.ResponseWriter, r *http.Request) int {
	if s.Loader == nil {
		return s.fail(w, estimate.ErrRegistryNotLoaded)
	}
	reg := s.Loader.Holder().Load()
	if reg == nil {
		return s.fail(w, estimate.ErrRegistryNotLoaded)
	}

	resp := RateVersionsResponse{
		Versions: ratesource.ToWire(reg.Versions()).Versions,
		Status:   s.Loader.Status(),
	}
	if reg.Len() > 0 {
		minEff, maxEff := reg.Coverage()
		resp.MinEffective = tariff.FormatDate(minEff)
		resp.MaxEffective = tariff.FormatDate(maxEff)
	}
	if s.Store != nil {
		job, err := s.Store.GetScheduledJob(r.Context(), cron.JobName)
		if err != nil {
			s.log.Warn().Err(err).Msg("read scheduled job failed")
		}
		resp.Job = job
	}
	return s.writeJSON(w, http.StatusOK, resp)
}

// handleReload rebuilds the registry from the configured source. A failed
// reload keeps serving the previous registry and answers 502.
func (s *server) handleReload(w http.ResponseWriter, r *http.Request) int {
	if s.Loader == nil {
		return s.fail(w, estimate.ErrRegistryNotLoaded)
	}
	reg, err := s.Loader.Reload(r.Context())
	if err != nil {
		return s.writeJSON(w, http.StatusBadGateway, ReloadResponse{
			Status: "error",
			Error:  err.Error(),
			Loader: s.Loader.Status(),
		})
	}
	return s.writeJSON(w, http.StatusOK, ReloadResponse{
		Status:   "ok",
		Versions: reg.Len(),
		Loader:   s.Loader.Status(),
	})
}

// handleRefreshInterval reads (GET) or stores (PUT) the reload schedule
// override picked up by the cron worker.
func (s *server) handleRefreshInterval(w http.ResponseWriter, r *http.Request) int {
	if s.Store == nil {
		return s.writeError(w, http.StatusNotImplemented, apiError{Error: "no storage configured"})
	}
	switch r.Method {
	case http.MethodGet:
		return s.authorize("settings", "read", s.getRefreshInterval)(w, r)
	case http.MethodPut:
		return s.authorize("settings", "write", s.putRefreshInterval)(w, r)
	default:
		w.Header().Set("Allow", "GET, PUT")
		return s.writeError(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
	}
}

func (s *server) getRefreshInterval(w http.ResponseWriter, r *http.Request) int {
	val, err := s.Store.GetSetting(r.Context(), cron.SettingRefreshInterval)
	if err != nil {
		return s.fail(w, err)
	}
	return s.writeJSON(w, http.StatusOK, RefreshIntervalRequest{Interval: val})
}

func (s *server) putRefreshInterval(w http.ResponseWriter, r *http.Request) int {
	var req RefreshIntervalRequest
	if err := decodeBody(r, &req); err != nil {
		return s.badRequest(w, err.Error())
	}
	req.Interval = strings.TrimSpace(req.Interval)
	if err := cron.ValidateSchedule(req.Interval); err != nil {
		return s.badRequest(w, err.Error())
	}
	if err := s.Store.SetSetting(r.Context(), cron.SettingRefreshInterval, req.Interval); err != nil {
		return s.fail(w, err)
	}
	ev := s.log.Info().Str("interval", req.Interval)
	if p, ok := auth.FromContext(r.Context()); ok {
		ev = ev.Str("by", p.Name)
	}
	ev.Msg("refresh interval updated")
	return s.writeJSON(w, http.StatusOK, req)
}
