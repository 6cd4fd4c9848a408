package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/bher20/erateestimator/internal/metrics"
	"github.com/bher20/erateestimator/internal/tariff"
)

var (
	// ErrInvalidRequest marks caller input errors.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRegistryNotLoaded is returned before the first successful reload.
	ErrRegistryNotLoaded = errors.New("rate registry not loaded")
)

// Request asks for the usage behind a paid bill.
type Request struct {
	BillAmount float64
	Start      time.Time
	End        time.Time
}

// Estimate is the presentation-ready answer to a Request.
type Estimate struct {
	RequestID       string                           `json:"request_id"`
	BillAmount      float64                          `json:"bill_amount"`
	StartDate       string                           `json:"start_date"`
	EndDate         string                           `json:"end_date"`
	KWh             float64                          `json:"kwh"`
	RawKWh          float64                          `json:"raw_kwh"`
	WaterM3         float64                          `json:"water_m3"`
	ComputedBill    float64                          `json:"computed_bill"`
	VersionID       string                           `json:"version_id"`
	Split           tariff.SeasonalSplit             `json:"split"`
	Season          tariff.Season                    `json:"season"`
	CrossesBoundary bool                             `json:"crosses_boundary"`
	Converged       bool                             `json:"converged"`
	Iterations      int                              `json:"iterations"`
	Warnings        []string                         `json:"warnings,omitempty"`
	Breakdown       *tariff.BillingCalculationResult `json:"breakdown"`
	Cached          bool                             `json:"cached"`
}

// SeasonInfo describes how a period divides across seasons.
type SeasonInfo struct {
	StartDate       string               `json:"start_date"`
	EndDate         string               `json:"end_date"`
	Split           tariff.SeasonalSplit `json:"split"`
	Season          tariff.Season        `json:"season"`
	CrossesBoundary bool                 `json:"crosses_boundary"`
}

// DefaultMaxPeriodDays bounds a billing period when Config leaves it unset.
const DefaultMaxPeriodDays = 366

// Config parameterizes a Service.
type Config struct {
	Solver   tariff.SolverConfig
	Water    WaterProfile
	CacheTTL time.Duration
	// MaxPeriodDays caps the inclusive length of a requested period.
	MaxPeriodDays int
}

// Service wraps the billing engine for the API and CLI: it validates input,
// reads the current registry snapshot, rounds results and memoizes
// estimates.
type Service struct {
	holder   *tariff.Holder
	solver   tariff.SolverConfig
	water    float64
	cache     Cache
	cacheTTL  time.Duration
	maxPeriod int
	group     singleflight.Group
	log       zerolog.Logger
}

// NewService returns a Service reading rates from holder. cache may be nil.
func NewService(holder *tariff.Holder, cfg Config, cache Cache, log zerolog.Logger) (*Service, error) {
	coef, err := cfg.Water.Coefficient()
	if err != nil {
		return nil, fmt.Errorf("water profile: %w", err)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	maxPeriod := cfg.MaxPeriodDays
	if maxPeriod <= 0 {
		maxPeriod = DefaultMaxPeriodDays
	}
	return &Service{
		holder:    holder,
		solver:    cfg.Solver,
		water:     coef,
		cache:     cache,
		cacheTTL:  ttl,
		maxPeriod: maxPeriod,
		log:       log.With().Str("component", "estimate").Logger(),
	}, nil
}

// WaterCoefficient returns the m³ per kWh in use.
func (s *Service) WaterCoefficient() float64 { return s.water }

// registry returns the registry in force right now. One calculation never
// sees two registries.
func (s *Service) registry() (*tariff.Registry, error) {
	reg := s.holder.Load()
	if reg == nil {
		return nil, ErrRegistryNotLoaded
	}
	return reg, nil
}

// validPeriod rejects missing dates and periods longer than the configured
// cap. End-before-start is left to the engine's InvalidRangeError.
func (s *Service) validPeriod(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidRequest)
	}
	start, end = tariff.DateOf(start), tariff.DateOf(end)
	if end.After(start) {
		if days := int(end.Sub(start).Hours()/24) + 1; days > s.maxPeriod {
			return fmt.Errorf("%w: period of %d days exceeds the %d day limit", ErrInvalidRequest, days, s.maxPeriod)
		}
	}
	return nil
}

func validAmount(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number", ErrInvalidRequest, name)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidRequest, name)
	}
	return nil
}

// Estimate solves for the usage behind req.BillAmount.
func (s *Service) Estimate(ctx context.Context, req Request) (*Estimate, error) {
	if err := validAmount("bill_amount", req.BillAmount); err != nil {
		return nil, err
	}
	if err := s.validPeriod(req.Start, req.End); err != nil {
		return nil, err
	}
	start, end := tariff.DateOf(req.Start), tariff.DateOf(req.End)
	reg, err := s.registry()
	if err != nil {
		return nil, err
	}

	// The cache may be shared by replicas, so the key names the registry by
	// content rather than by the local generation.
	key := fmt.Sprintf("estimate:%s:%s:%s:%s", reg.Fingerprint(),
		strconv.FormatFloat(req.BillAmount, 'f', -1, 64), tariff.FormatDate(start), tariff.FormatDate(end))

	if est, ok := s.cached(ctx, key); ok {
		return est, nil
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		est, err := s.solve(reg, req.BillAmount, start, end)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, est)
		return est, nil
	})
	if err != nil {
		return nil, err
	}

	out := *v.(*Estimate)
	if shared {
		out.Warnings = append([]string(nil), out.Warnings...)
	}
	out.RequestID = uuid.NewString()
	return &out, nil
}

func (s *Service) solve(reg *tariff.Registry, bill float64, start, end time.Time) (*Estimate, error) {
	calc := tariff.NewCalculator(reg, s.solver)
	sol, err := calc.SolveDetailed(bill, start, end)
	if err != nil {
		return nil, err
	}
	metrics.ObserveSolve(sol.Iterations, sol.Converged)

	season := tariff.MajoritySeason(sol.Result.Split, end)
	crosses := tariff.CrossesBoundary(start, end)

	est := &Estimate{
		BillAmount:      bill,
		StartDate:       tariff.FormatDate(start),
		EndDate:         tariff.FormatDate(end),
		RawKWh:          sol.KWh,
		KWh:             round(sol.KWh, 1),
		WaterM3:         round(sol.KWh*s.water, 1),
		ComputedBill:    round(sol.Result.Bill, 2),
		VersionID:       sol.Result.VersionID,
		Split:           sol.Result.Split,
		Season:          season,
		CrossesBoundary: crosses,
		Converged:       sol.Converged,
		Iterations:      sol.Iterations,
		Breakdown:       sol.Result,
	}

	if crosses {
		est.Warnings = append(est.Warnings, fmt.Sprintf(
			"billing period spans both seasons (%d summer and %d non-summer days); the bill is blended by day count",
			sol.Result.Split.SummerDays, sol.Result.Split.NonSummerDays))
	}
	if !sol.Converged {
		bound := calc.SolverConfig().UpperBoundKWh
		msg := fmt.Sprintf("solver did not converge within %d iterations; the estimate is best effort", sol.Iterations)
		if sol.KWh >= bound-1 {
			msg = fmt.Sprintf("bill exceeds the cost of %s kWh, the search limit; the estimate is capped",
				strconv.FormatFloat(bound, 'f', -1, 64))
		}
		est.Warnings = append(est.Warnings, msg)
		s.log.Warn().
			Float64("bill_amount", bill).
			Str("start", est.StartDate).
			Str("end", est.EndDate).
			Float64("kwh", sol.KWh).
			Msg("solver did not converge")
	}
	return est, nil
}

func (s *Service) cached(ctx context.Context, key string) (*Estimate, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.EstimateCacheTotal.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).Msg("estimate cache get failed")
		return nil, false
	}
	if !ok {
		metrics.EstimateCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	var est Estimate
	if err := json.Unmarshal(raw, &est); err != nil {
		metrics.EstimateCacheTotal.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).Msg("discarding undecodable cached estimate")
		return nil, false
	}
	metrics.EstimateCacheTotal.WithLabelValues("hit").Inc()
	est.RequestID = uuid.NewString()
	est.Cached = true
	return &est, true
}

func (s *Service) store(ctx context.Context, key string, est *Estimate) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(est)
	if err != nil {
		s.log.Warn().Err(err).Msg("encode estimate for cache")
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("estimate cache set failed")
	}
}

// Bill runs the forward calculation for kwh over the period.
func (s *Service) Bill(ctx context.Context, kwh float64, start, end time.Time) (*tariff.BillingCalculationResult, error) {
	if err := validAmount("kwh", kwh); err != nil {
		return nil, err
	}
	if err := s.validPeriod(start, end); err != nil {
		return nil, err
	}
	reg, err := s.registry()
	if err != nil {
		return nil, err
	}
	res, err := tariff.NewCalculator(reg, s.solver).Compute(kwh, start, end)
	if err != nil {
		return nil, err
	}
	res.Bill = round(res.Bill, 2)
	return res, nil
}

// Season reports the seasonal split, majority season and boundary crossing
// for a period. It does not need a rate registry.
func (s *Service) Season(start, end time.Time) (*SeasonInfo, error) {
	if err := s.validPeriod(start, end); err != nil {
		return nil, err
	}
	start, end = tariff.DateOf(start), tariff.DateOf(end)
	split, err := tariff.Split(start, end)
	if err != nil {
		return nil, err
	}
	return &SeasonInfo{
		StartDate:       tariff.FormatDate(start),
		EndDate:         tariff.FormatDate(end),
		Split:           split,
		Season:          tariff.MajoritySeason(split, end),
		CrossesBoundary: tariff.CrossesBoundary(start, end),
	}, nil
}

// round rounds half away from zero at the given decimal places.
func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
