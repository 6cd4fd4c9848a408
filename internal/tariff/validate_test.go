package tariff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeasonTierTable_Validate(t *testing.T) {
	tests := []struct {
		name    string
		table   SeasonTierTable
		wantErr string
	}{
		{name: "valid", table: exampleSummer()},
		{name: "single open tier", table: SeasonTierTable{{UnitPrice: 3.2}}},
		{name: "empty", table: nil, wantErr: "empty tier table"},
		{
			name: "descending bounds",
			table: SeasonTierTable{
				{UpperBoundKWh: kwh(330), UnitPrice: 2.10},
				{UpperBoundKWh: kwh(120), UnitPrice: 3.02},
				{UnitPrice: 4.39},
			},
			wantErr: "not above previous bound",
		},
		{
			name: "zero price",
			table: SeasonTierTable{
				{UpperBoundKWh: kwh(120), UnitPrice: 0},
				{UnitPrice: 4.39},
			},
			wantErr: "unit price must be positive",
		},
		{
			name: "open tier in the middle",
			table: SeasonTierTable{
				{UnitPrice: 2.10},
				{UpperBoundKWh: kwh(330), UnitPrice: 3.02},
			},
			wantErr: "only the last tier may be open-ended",
		},
		{
			name: "no open tier",
			table: SeasonTierTable{
				{UpperBoundKWh: kwh(120), UnitPrice: 2.10},
				{UpperBoundKWh: kwh(330), UnitPrice: 3.02},
			},
			wantErr: "last tier must be open-ended",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRateVersion_Validate(t *testing.T) {
	base := exampleVersions()[1]
	assert.NoError(t, base.Validate())

	noID := base
	noID.VersionID = ""
	assert.ErrorIs(t, noID.Validate(), ErrInvalidRateVersion)

	inverted := base
	inverted.EffectiveFrom, inverted.EffectiveTo = Date(2025, 1, 1), Date(2024, 1, 1)
	assert.ErrorIs(t, inverted.Validate(), ErrInvalidRateVersion)

	// Season tables are validated independently and may differ in length.
	asymmetric := base
	asymmetric.NonSummer = SeasonTierTable{{UnitPrice: 2.5}}
	assert.NoError(t, asymmetric.Validate())
}
