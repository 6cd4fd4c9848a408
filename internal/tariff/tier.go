package tariff

import "math"

// ToBimonthly converts a monthly tier table into bimonthly tiers. Billing
// periods are nominally two months, so every monthly increment is doubled.
// The open-ended tier gets an infinite width.
func ToBimonthly(monthly SeasonTierTable) []BimonthlyTier {
	out := make([]BimonthlyTier, 0, len(monthly))
	prev := 0.0
	for _, t := range monthly {
		if t.IsOpen() {
			out = append(out, BimonthlyTier{WidthKWh: math.Inf(1), UnitPrice: t.UnitPrice})
			continue
		}
		upper := *t.UpperBoundKWh
		out = append(out, BimonthlyTier{WidthKWh: (upper - prev) * 2, UnitPrice: t.UnitPrice})
		prev = upper
	}
	return out
}

// chargeTiers runs kwh greedily through tiers from the lowest upward.
func chargeTiers(kwh float64, tiers []BimonthlyTier) ([]TierCharge, float64) {
	var (
		charges   []TierCharge
		total     float64
		remaining = kwh
	)
	for i, t := range tiers {
		if remaining <= 0 {
			break
		}
		used := math.Min(remaining, t.WidthKWh)
		cost := used * t.UnitPrice
		charges = append(charges, TierCharge{
			Tier:      i + 1,
			KWh:       used,
			UnitPrice: t.UnitPrice,
			Cost:      cost,
		})
		total += cost
		remaining -= used
	}
	return charges, total
}
