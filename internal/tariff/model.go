package tariff

import (
	"time"
)

// Season is one of the two tariff seasons.
type Season string

const (
	SeasonSummer    Season = "summer"
	SeasonNonSummer Season = "non_summer"
)

// Tier is one progressive band of a monthly tariff table. A nil UpperBoundKWh
// marks the open-ended top tier.
type Tier struct {
	UpperBoundKWh *float64 `json:"upper_bound_kwh"`
	UnitPrice     float64  `json:"unit_price"`
}

// IsOpen reports whether the tier has no upper bound.
func (t Tier) IsOpen() bool { return t.UpperBoundKWh == nil }

// SeasonTierTable is an ascending list of monthly tiers for one season.
type SeasonTierTable []Tier

// RateVersion is one historical snapshot of the summer and non-summer tier
// tables. EffectiveFrom and EffectiveTo are both inclusive calendar dates.
type RateVersion struct {
	VersionID     string          `json:"version_id"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   time.Time       `json:"effective_to"`
	Summer        SeasonTierTable `json:"summer"`
	NonSummer     SeasonTierTable `json:"non_summer"`
}

// Contains reports whether d falls inside the version's effective range.
func (v RateVersion) Contains(d time.Time) bool {
	d = DateOf(d)
	return !d.Before(v.EffectiveFrom) && !d.After(v.EffectiveTo)
}

// Table returns the tier table for the given season.
func (v RateVersion) Table(s Season) SeasonTierTable {
	if s == SeasonSummer {
		return v.Summer
	}
	return v.NonSummer
}

// BimonthlyTier is a tier whose width was doubled from its monthly increment.
// The open-ended tier has an infinite width.
type BimonthlyTier struct {
	WidthKWh  float64 `json:"width_kwh"`
	UnitPrice float64 `json:"unit_price"`
}

// SeasonalSplit counts the summer and non-summer calendar days of a period.
type SeasonalSplit struct {
	SummerDays    int `json:"summer_days"`
	NonSummerDays int `json:"non_summer_days"`
	TotalDays     int `json:"total_days"`
}

// Days returns the day count for a season.
func (s SeasonalSplit) Days(season Season) int {
	if season == SeasonSummer {
		return s.SummerDays
	}
	return s.NonSummerDays
}

// Weight returns the fraction of the period that falls in the season.
func (s SeasonalSplit) Weight(season Season) float64 {
	if s.TotalDays == 0 {
		return 0
	}
	return float64(s.Days(season)) / float64(s.TotalDays)
}

// TierCharge is the consumption billed within one bimonthly tier.
type TierCharge struct {
	Tier      int     `json:"tier"`
	KWh       float64 `json:"kwh"`
	UnitPrice float64 `json:"unit_price"`
	Cost      float64 `json:"cost"`
}

// SeasonBreakdown is the full-usage cost under one season's tiers, before
// day weighting.
type SeasonBreakdown struct {
	Season    Season       `json:"season"`
	Tiers     []TierCharge `json:"tiers"`
	Cost      float64      `json:"cost"`
	Days      int          `json:"days"`
	TotalDays int          `json:"total_days"`
}

// WeightedCost is the season's contribution to the blended bill.
func (b SeasonBreakdown) WeightedCost() float64 {
	if b.TotalDays == 0 {
		return 0
	}
	return b.Cost * float64(b.Days) / float64(b.TotalDays)
}

// BillingCalculationResult is the output of a forward calculation.
type BillingCalculationResult struct {
	VersionID string          `json:"version_id"`
	TotalKWh  float64         `json:"total_kwh"`
	Bill      float64         `json:"bill"`
	Split     SeasonalSplit   `json:"split"`
	Summer    SeasonBreakdown `json:"summer"`
	NonSummer SeasonBreakdown `json:"non_summer"`
}
