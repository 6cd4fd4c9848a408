package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bher20/erateestimator/internal/estimate"
	"github.com/bher20/erateestimator/internal/tariff"
)

const maxBodyBytes = 1 << 20

// EstimateRequest is the body of POST /api/v1/estimate.
type EstimateRequest struct {
	BillAmount *float64 `json:"bill_amount"`
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
}

// BillRequest is the body of POST /api/v1/bill.
type BillRequest struct {
	KWh       *float64 `json:"kwh"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func parsePeriod(start, end string) (time.Time, time.Time, error) {
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start and end dates are required")
	}
	s, err := tariff.ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: expected YYYY-MM-DD", start)
	}
	e, err := tariff.ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: expected YYYY-MM-DD", end)
	}
	return s, e, nil
}

// handleEstimate solves for the usage behind a paid bill.
func (s *server) handleEstimate(w http.ResponseWriter, r *http.Request) int {
	var req EstimateRequest
	if err := decodeBody(r, &req); err != nil {
		return s.badRequest(w, err.Error())
	}
	if req.BillAmount == nil {
		return s.badRequest(w, "bill_amount is required")
	}
	start, end, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		return s.badRequest(w, err.Error())
	}

	est, err := s.Service.Estimate(r.Context(), estimate.Request{
		BillAmount: *req.BillAmount,
		Start:      start,
		End:        end,
	})
	if err != nil {
		return s.fail(w, err)
	}
	s.log.Debug().
		Str("request_id", est.RequestID).
		Float64("bill_amount", est.BillAmount).
		Float64("kwh", est.KWh).
		Bool("cached", est.Cached).
		Msg("estimate served")
	return s.writeJSON(w, http.StatusOK, est)
}

// handleBill runs the forward calculation.
func (s *server) handleBill(w http.ResponseWriter, r *http.Request) int {
	var req BillRequest
	if err := decodeBody(r, &req); err != nil {
		return s.badRequest(w, err.Error())
	}
	if req.KWh == nil {
		return s.badRequest(w, "kwh is required")
	}
	start, end, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		return s.badRequest(w, err.Error())
	}
	res, err := s.Service.Bill(r.Context(), *req.KWh, start, end)
	if err != nil {
		return s.fail(w, err)
	}
	return s.writeJSON(w, http.StatusOK, res)
}

// handleSeason reports the seasonal split for ?start=&end=.
func (s *server) handleSeason(w http.ResponseWriter, r *http.Request) int {
	q := r.URL.Query()
	start, end, err := parsePeriod(q.Get("start"), q.Get("end"))
	if err != nil {
		return s.badRequest(w, err.Error())
	}
	info, err := s.Service.Season(start, end)
	if err != nil {
		return s.fail(w, err)
	}
	return s.writeJSON(w, http.StatusOK, info)
}
