package tariff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolve_RoundTrip(t *testing.T) {
	calc := NewCalculator(exampleRegistry(t), SolverConfig{})
	periods := [][2]string{
		{"2024-07-01", "2024-08-31"},
		{"2024-05-15", "2024-06-14"},
		{"2024-11-01", "2024-12-31"},
		{"2024-06-01", "2024-06-01"},
	}
	usages := []float64{0, 0.4, 12, 100, 239.9, 240, 555.5, 1234, 4800, 19000}

	for _, p := range periods {
		start, err := ParseDate(p[0])
		require.NoError(t, err)
		end, err := ParseDate(p[1])
		require.NoError(t, err)

		for _, want := range usages {
			res, err := calc.Compute(want, start, end)
			require.NoError(t, err)

			got, err := calc.Solve(res.Bill, start, end)
			require.NoError(t, err)
			assert.InDelta(t, want, got, 0.5, "period %v usage %v", p, want)
		}
	}
}

func TestSolveDetailed_Converges(t *testing.T) {
	calc := NewCalculator(exampleRegistry(t), SolverConfig{})

	sol, err := calc.SolveDetailed(210, Date(2024, 7, 1), Date(2024, 7, 31))
	require.NoError(t, err)
	assert.True(t, sol.Converged)
	assert.LessOrEqual(t, sol.Iterations, 100)
	assert.InDelta(t, 100.0, sol.KWh, 0.01)
	require.NotNil(t, sol.Result)
	assert.InDelta(t, 210.0, sol.Result.Bill, 0.01)
}

func TestSolveDetailed_BestEffortBeyondBound(t *testing.T) {
	calc := NewCalculator(exampleRegistry(t), SolverConfig{UpperBoundKWh: 1000, MaxIterations: 30})

	// Far more than 1000 kWh could ever cost: the search pins to the bound.
	sol, err := calc.SolveDetailed(1e9, Date(2024, 7, 1), Date(2024, 7, 31))
	require.NoError(t, err)
	assert.False(t, sol.Converged)
	assert.Equal(t, 30, sol.Iterations)
	assert.InDelta(t, 1000.0, sol.KWh, 0.01)
}

func TestSolve_ResolutionErrorsSurfaceBeforeSearch(t *testing.T) {
	calc := NewCalculator(exampleRegistry(t), SolverConfig{})

	_, err := calc.Solve(500, Date(2019, 1, 1), Date(2019, 2, 28))
	assert.ErrorIs(t, err, ErrNoApplicableVersion)

	_, err = calc.Solve(500, Date(2024, 2, 1), Date(2024, 1, 1))
	assert.ErrorIs(t, err, ErrEndBeforeStart)
}

func TestNewCalculator_Defaults(t *testing.T) {
	calc := NewCalculator(exampleRegistry(t), SolverConfig{MaxIterations: 40})
	cfg := calc.SolverConfig()
	assert.Equal(t, 20000.0, cfg.UpperBoundKWh)
	assert.Equal(t, 40, cfg.MaxIterations)
	assert.Equal(t, 0.01, cfg.Tolerance)
}
