package tariff

import (
	"math"
	"time"
)

// Solution is the outcome of a reverse calculation.
type Solution struct {
	KWh        float64                   `json:"kwh"`
	Iterations int                       `json:"iterations"`
	Converged  bool                      `json:"converged"`
	Result     *BillingCalculationResult `json:"result"`
}

// Solve estimates the usage that produces targetBill over the period. The
// returned kWh is unrounded.
func (c *Calculator) Solve(targetBill float64, start, end time.Time) (float64, error) {
	sol, err := c.SolveDetailed(targetBill, start, end)
	if err != nil {
		return 0, err
	}
	return sol.KWh, nil
}

// SolveDetailed bisects the usage range, relying on the forward bill being
// non-decreasing in usage. The period is resolved once up front; that is the
// only failure mode. When the iteration cap is reached without meeting the
// tolerance the last midpoint is returned with Converged false.
func (c *Calculator) SolveDetailed(targetBill float64, start, end time.Time) (Solution, error) {
	p, err := c.resolve(start, end)
	if err != nil {
		return Solution{}, err
	}

	var (
		lo  = 0.0
		hi  = c.solver.UpperBoundKWh
		mid float64
		res *BillingCalculationResult
	)
	for i := 1; i <= c.solver.MaxIterations; i++ {
		mid = (lo + hi) / 2
		res = p.compute(mid)
		if math.Abs(res.Bill-targetBill) < c.solver.Tolerance {
			return Solution{KWh: mid, Iterations: i, Converged: true, Result: res}, nil
		}
		if res.Bill < targetBill {
			lo = mid
		} else {
			hi = mid
		}
	}
	return Solution{KWh: mid, Iterations: c.solver.MaxIterations, Converged: false, Result: res}, nil
}
