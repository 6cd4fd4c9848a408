package tariff

import (
	"fmt"
)

// Validate checks the structural invariants of a tier table: bounds strictly
// increasing and positive, prices positive, exactly one open tier and it is
// the last one.
func (t SeasonTierTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("empty tier table")
	}
	prev := 0.0
	for i, tier := range t {
		if !(tier.UnitPrice > 0) {
			return fmt.Errorf("tier %d: unit price must be positive, got %v", i+1, tier.UnitPrice)
		}
		last := i == len(t)-1
		if tier.IsOpen() {
			if !last {
				return fmt.Errorf("tier %d: only the last tier may be open-ended", i+1)
			}
			continue
		}
		if last {
			return fmt.Errorf("tier %d: last tier must be open-ended", i+1)
		}
		if *tier.UpperBoundKWh <= prev {
			return fmt.Errorf("tier %d: upper bound %v not above previous bound %v", i+1, *tier.UpperBoundKWh, prev)
		}
		prev = *tier.UpperBoundKWh
	}
	return nil
}

// Validate checks a rate version's identity, date range and both season
// tables. The two tables are validated independently and may have a
// different number of tiers.
func (v RateVersion) Validate() error {
	if v.VersionID == "" {
		return fmt.Errorf("%w: missing version id", ErrInvalidRateVersion)
	}
	if v.EffectiveFrom.IsZero() || v.EffectiveTo.IsZero() {
		return fmt.Errorf("%w: %s: missing effective dates", ErrInvalidRateVersion, v.VersionID)
	}
	if v.EffectiveTo.Before(v.EffectiveFrom) {
		return fmt.Errorf("%w: %s: effective_to %s before effective_from %s", ErrInvalidRateVersion,
			v.VersionID, FormatDate(v.EffectiveTo), FormatDate(v.EffectiveFrom))
	}
	if err := v.Summer.Validate(); err != nil {
		return fmt.Errorf("%w: %s: summer: %v", ErrInvalidRateVersion, v.VersionID, err)
	}
	if err := v.NonSummer.Validate(); err != nil {
		return fmt.Errorf("%w: %s: non_summer: %v", ErrInvalidRateVersion, v.VersionID, err)
	}
	return nil
}
