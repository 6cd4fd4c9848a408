package estimate

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/erateestimator/internal/tariff"
)

func kwh(v float64) *float64 { return &v }

func testRegistry(t *testing.T) *tariff.Registry {
	t.Helper()
	reg, err := tariff.NewRegistry([]tariff.RateVersion{{
		VersionID:     "2024-04",
		EffectiveFrom: tariff.Date(2024, 4, 1),
		EffectiveTo:   tariff.OpenEnded,
		Summer: tariff.SeasonTierTable{
			{UpperBoundKWh: kwh(120), UnitPrice: 2.10},
			{UpperBoundKWh: kwh(330), UnitPrice: 3.02},
			{UnitPrice: 4.39},
		},
		NonSummer: tariff.SeasonTierTable{
			{UpperBoundKWh: kwh(120), UnitPrice: 2.10},
			{UpperBoundKWh: kwh(330), UnitPrice: 2.68},
			{UnitPrice: 3.61},
		},
	}})
	require.NoError(t, err)
	return reg
}

func newTestService(t *testing.T, cache Cache) (*Service, *tariff.Holder) {
	t.Helper()
	holder := tariff.NewHolder(testRegistry(t))
	svc, err := NewService(holder, Config{
		Solver: tariff.DefaultSolverConfig(),
		Water:  WaterProfile{PumpHeadM: 20, PumpEfficiency: 0.6},
	}, cache, zerolog.Nop())
	require.NoError(t, err)
	return svc, holder
}

var (
	mayStart = tariff.Date(2024, 5, 15)
	junEnd   = tariff.Date(2024, 6, 14)
	julStart = tariff.Date(2024, 7, 1)
	augEnd   = tariff.Date(2024, 8, 31)
)

func TestEstimate_RoundTrip(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	for _, usage := range []float64{80, 500, 1234.5} {
		res, err := svc.Bill(ctx, usage, julStart, augEnd)
		require.NoError(t, err)

		est, err := svc.Estimate(ctx, Request{BillAmount: res.Bill, Start: julStart, End: augEnd})
		require.NoError(t, err)
		assert.InDelta(t, usage, est.KWh, 0.5)
		assert.True(t, est.Converged)
		assert.Equal(t, "2024-04", est.VersionID)
		assert.Equal(t, tariff.SeasonSummer, est.Season)
		assert.False(t, est.CrossesBoundary)
		assert.Empty(t, est.Warnings)
		assert.NotEmpty(t, est.RequestID)
		// Converged within the solver tolerance, then rounded to cents.
		assert.InDelta(t, res.Bill, est.Breakdown.Bill, tariff.DefaultSolverConfig().Tolerance)
		assert.InDelta(t, res.Bill, est.ComputedBill, tariff.DefaultSolverConfig().Tolerance+0.005)
	}
}

func TestEstimate_RoundingAndWater(t *testing.T) {
	svc, _ := newTestService(t, nil)
	est, err := svc.Estimate(context.Background(), Request{BillAmount: 1000, Start: julStart, End: augEnd})
	require.NoError(t, err)

	assert.InDelta(t, math.Round(est.KWh*10)/10, est.KWh, 1e-9)
	assert.InDelta(t, math.Round(est.WaterM3*10)/10, est.WaterM3, 1e-9)
	assert.InDelta(t, est.RawKWh, est.KWh, 0.05)
	assert.InDelta(t, est.RawKWh*svc.WaterCoefficient(), est.WaterM3, 0.05)
	assert.InDelta(t, 11.009, svc.WaterCoefficient(), 0.001)
}

func TestEstimate_CrossingPeriodWarns(t *testing.T) {
	svc, _ := newTestService(t, nil)
	est, err := svc.Estimate(context.Background(), Request{BillAmount: 800, Start: mayStart, End: junEnd})
	require.NoError(t, err)

	assert.Equal(t, tariff.SeasonNonSummer, est.Season)
	assert.True(t, est.CrossesBoundary)
	assert.Equal(t, tariff.SeasonalSplit{SummerDays: 14, NonSummerDays: 17, TotalDays: 31}, est.Split)
	require.Len(t, est.Warnings, 1)
	assert.Contains(t, est.Warnings[0], "14 summer and 17 non-summer days")
}

func TestEstimate_BeyondSearchLimit(t *testing.T) {
	svc, _ := newTestService(t, nil)
	est, err := svc.Estimate(context.Background(), Request{BillAmount: 10_000_000, Start: julStart, End: augEnd})
	require.NoError(t, err)

	assert.False(t, est.Converged)
	assert.Equal(t, 100, est.Iterations)
	assert.InDelta(t, 20000, est.KWh, 1)
	require.Len(t, est.Warnings, 1)
	assert.Contains(t, est.Warnings[0], "search limit")
}

func TestEstimate_Errors(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Estimate(ctx, Request{BillAmount: -1, Start: julStart, End: augEnd})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Estimate(ctx, Request{BillAmount: math.NaN(), Start: julStart, End: augEnd})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Estimate(ctx, Request{BillAmount: 100, End: augEnd})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Estimate(ctx, Request{BillAmount: 100, Start: augEnd, End: julStart})
	assert.ErrorIs(t, err, tariff.ErrEndBeforeStart)

	_, err = svc.Estimate(ctx, Request{BillAmount: 100, Start: tariff.Date(2023, 1, 1), End: tariff.Date(2023, 2, 28)})
	assert.ErrorIs(t, err, tariff.ErrNoApplicableVersion)
	var nav *tariff.NoApplicableVersionError
	require.ErrorAs(t, err, &nav)
	assert.Equal(t, tariff.Date(2023, 2, 28), nav.QueriedDate)

	empty, err := NewService(tariff.NewHolder(nil), Config{Water: WaterProfile{M3PerKWh: 10}}, nil, zerolog.Nop())
	require.NoError(t, err)
	_, err = empty.Estimate(ctx, Request{BillAmount: 100, Start: julStart, End: augEnd})
	assert.ErrorIs(t, err, ErrRegistryNotLoaded)
}

func flatRegistry(t *testing.T, price float64) *tariff.Registry {
	t.Helper()
	reg, err := tariff.NewRegistry([]tariff.RateVersion{{
		VersionID:     "flat",
		EffectiveFrom: tariff.Date(2024, 1, 1),
		EffectiveTo:   tariff.OpenEnded,
		Summer:        tariff.SeasonTierTable{{UnitPrice: price}},
		NonSummer:     tariff.SeasonTierTable{{UnitPrice: price}},
	}})
	require.NoError(t, err)
	return reg
}

func TestEstimate_CacheKeyedByRegistryContent(t *testing.T) {
	cache := NewMemoryCache(100, 0)
	defer cache.Close()
	svc, holder := newTestService(t, cache)
	ctx := context.Background()
	req := Request{BillAmount: 1500, Start: julStart, End: augEnd}

	first, err := svc.Estimate(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Estimate(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.KWh, second.KWh)
	assert.Equal(t, first.Breakdown.Bill, second.Breakdown.Bill)

	// Reloading identical tables keeps the cached answer.
	holder.Swap(testRegistry(t))
	third, err := svc.Estimate(ctx, req)
	require.NoError(t, err)
	assert.True(t, third.Cached)

	holder.Swap(flatRegistry(t, 5))
	fourth, err := svc.Estimate(ctx, req)
	require.NoError(t, err)
	assert.False(t, fourth.Cached)
	assert.Equal(t, "flat", fourth.VersionID)
	assert.InDelta(t, 300, fourth.KWh, 0.1)
	assert.Equal(t, 2, cache.Len())
}

func TestEstimate_SharedCacheAcrossRegistries(t *testing.T) {
	cache := NewMemoryCache(100, 0)
	defer cache.Close()
	ctx := context.Background()
	req := Request{BillAmount: 1000, Start: julStart, End: augEnd}

	// Both holders sit at generation 1, as two freshly started replicas would.
	a, holderA := newTestService(t, cache)
	b, err := NewService(tariff.NewHolder(flatRegistry(t, 5)), Config{
		Solver: tariff.DefaultSolverConfig(),
		Water:  WaterProfile{PumpHeadM: 20, PumpEfficiency: 0.6},
	}, cache, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, uint64(1), holderA.Generation())

	estA, err := a.Estimate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2024-04", estA.VersionID)

	estB, err := b.Estimate(ctx, req)
	require.NoError(t, err)
	assert.False(t, estB.Cached)
	assert.Equal(t, "flat", estB.VersionID)
	assert.InDelta(t, 200, estB.KWh, 0.1)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) Close() error { return nil }

func TestEstimate_CacheErrorsDegradeToMiss(t *testing.T) {
	svc, _ := newTestService(t, brokenCache{})
	est, err := svc.Estimate(context.Background(), Request{BillAmount: 500, Start: julStart, End: augEnd})
	require.NoError(t, err)
	assert.False(t, est.Cached)
	assert.Greater(t, est.KWh, 0.0)
}

func TestEstimate_Concurrent(t *testing.T) {
	cache := NewMemoryCache(100, 0)
	defer cache.Close()
	svc, _ := newTestService(t, cache)
	req := Request{BillAmount: 2500, Start: mayStart, End: junEnd}

	var wg sync.WaitGroup
	results := make([]*Estimate, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Estimate(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].KWh, results[i].KWh)
	}
}

func TestBill(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.Bill(ctx, 100, julStart, augEnd)
	require.NoError(t, err)
	assert.Equal(t, 210.0, res.Bill)
	assert.Equal(t, "2024-04", res.VersionID)

	res, err = svc.Bill(ctx, 0, julStart, augEnd)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Bill)

	_, err = svc.Bill(ctx, -5, julStart, augEnd)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSeason(t *testing.T) {
	svc, _ := newTestService(t, nil)

	info, err := svc.Season(mayStart, junEnd)
	require.NoError(t, err)
	assert.Equal(t, tariff.SeasonNonSummer, info.Season)
	assert.True(t, info.CrossesBoundary)
	assert.Equal(t, 31, info.Split.TotalDays)

	info, err = svc.Season(julStart, julStart)
	require.NoError(t, err)
	assert.Equal(t, tariff.SeasonalSplit{SummerDays: 1, TotalDays: 1}, info.Split)

	_, err = svc.Season(junEnd, mayStart)
	assert.ErrorIs(t, err, tariff.ErrEndBeforeStart)
}

func TestPeriodLengthLimit(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Season(tariff.Date(2024, 1, 1), tariff.Date(2024, 12, 31))
	require.NoError(t, err, "366 days is allowed")

	_, err = svc.Season(tariff.Date(1900, 1, 1), tariff.Date(9999, 12, 31))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Bill(ctx, 100, tariff.Date(2024, 4, 1), tariff.Date(2026, 4, 1))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Estimate(ctx, Request{BillAmount: 100, Start: tariff.Date(2024, 4, 1), End: tariff.Date(2026, 4, 1)})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	short, err := NewService(tariff.NewHolder(testRegistry(t)), Config{
		Water:         WaterProfile{M3PerKWh: 10},
		MaxPeriodDays: 62,
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	_, err = short.Season(julStart, augEnd)
	require.NoError(t, err)
	_, err = short.Season(julStart, tariff.Date(2024, 9, 1))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
