package tariff

import (
	"time"
)

// SolverConfig bounds the reverse search.
type SolverConfig struct {
	// UpperBoundKWh is the initial upper end of the search interval.
	UpperBoundKWh float64
	// MaxIterations caps the number of forward evaluations.
	MaxIterations int
	// Tolerance is the bill precision at which the search stops early.
	Tolerance float64
}

// DefaultSolverConfig returns the stock search parameters: 0..20000 kWh,
// 100 iterations, one-cent precision.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		UpperBoundKWh: 20000,
		MaxIterations: 100,
		Tolerance:     0.01,
	}
}

func (c SolverConfig) withDefaults() SolverConfig {
	d := DefaultSolverConfig()
	if c.UpperBoundKWh <= 0 {
		c.UpperBoundKWh = d.UpperBoundKWh
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	return c
}

// Calculator runs forward and reverse billing calculations against one
// resolver. It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	rates  Resolver
	solver SolverConfig
}

// NewCalculator returns a Calculator. Zero fields in cfg take the defaults.
func NewCalculator(rates Resolver, cfg SolverConfig) *Calculator {
	return &Calculator{rates: rates, solver: cfg.withDefaults()}
}

// SolverConfig returns the effective search parameters.
func (c *Calculator) SolverConfig() SolverConfig { return c.solver }

// period is a resolved billing period: the version in force at its end date
// and its seasonal split.
type period struct {
	version RateVersion
	split   SeasonalSplit
	summer  []BimonthlyTier
	other   []BimonthlyTier
}

func (c *Calculator) resolve(start, end time.Time) (period, error) {
	v, err := c.rates.Resolve(end)
	if err != nil {
		return period{}, err
	}
	split, err := Split(start, end)
	if err != nil {
		return period{}, err
	}
	return period{
		version: v,
		split:   split,
		summer:  ToBimonthly(v.Summer),
		other:   ToBimonthly(v.NonSummer),
	}, nil
}

// Compute returns the blended bill for totalKWh over the period. The full
// usage is priced against both seasonal ladders; only the resulting costs are
// weighted by day counts.
func (c *Calculator) Compute(totalKWh float64, start, end time.Time) (*BillingCalculationResult, error) {
	p, err := c.resolve(start, end)
	if err != nil {
		return nil, err
	}
	return p.compute(totalKWh), nil
}

func (p period) compute(totalKWh float64) *BillingCalculationResult {
	res := &BillingCalculationResult{
		VersionID: p.version.VersionID,
		TotalKWh:  totalKWh,
		Split:     p.split,
		Summer: SeasonBreakdown{
			Season:    SeasonSummer,
			Days:      p.split.SummerDays,
			TotalDays: p.split.TotalDays,
		},
		NonSummer: SeasonBreakdown{
			Season:    SeasonNonSummer,
			Days:      p.split.NonSummerDays,
			TotalDays: p.split.TotalDays,
		},
	}
	if totalKWh <= 0 {
		res.TotalKWh = 0
		return res
	}

	res.Summer.Tiers, res.Summer.Cost = chargeTiers(totalKWh, p.summer)
	res.NonSummer.Tiers, res.NonSummer.Cost = chargeTiers(totalKWh, p.other)
	res.Bill = res.Summer.WeightedCost() + res.NonSummer.WeightedCost()
	return res
}
