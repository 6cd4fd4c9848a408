package tariff

import (
	"testing"
)

func kwh(v float64) *float64 { return &v }

// exampleSummer is the three-tier monthly summer table used across tests.
func exampleSummer() SeasonTierTable {
	return SeasonTierTable{
		{UpperBoundKWh: kwh(120), UnitPrice: 2.10},
		{UpperBoundKWh: kwh(330), UnitPrice: 3.02},
		{UpperBoundKWh: nil, UnitPrice: 4.39},
	}
}

func exampleNonSummer() SeasonTierTable {
	return SeasonTierTable{
		{UpperBoundKWh: kwh(120), UnitPrice: 2.10},
		{UpperBoundKWh: kwh(330), UnitPrice: 2.68},
		{UpperBoundKWh: nil, UnitPrice: 3.61},
	}
}

func exampleVersions() []RateVersion {
	return []RateVersion{
		{
			VersionID:     "2023-04",
			EffectiveFrom: Date(2023, 4, 1),
			EffectiveTo:   Date(2024, 3, 31),
			Summer: SeasonTierTable{
				{UpperBoundKWh: kwh(120), UnitPrice: 1.68},
				{UpperBoundKWh: nil, UnitPrice: 2.45},
			},
			NonSummer: SeasonTierTable{
				{UpperBoundKWh: kwh(120), UnitPrice: 1.68},
				{UpperBoundKWh: nil, UnitPrice: 2.16},
			},
		},
		{
			VersionID:     "2024-04",
			EffectiveFrom: Date(2024, 4, 1),
			EffectiveTo:   OpenEnded,
			Summer:        exampleSummer(),
			NonSummer:     exampleNonSummer(),
		},
	}
}

func exampleRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(exampleVersions())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return reg
}
