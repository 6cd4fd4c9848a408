package estimate

import "fmt"

const (
	waterDensity = 1000.0 // kg/m³
	gravity      = 9.81   // m/s²
	joulesPerKWh = 3.6e6
)

// WaterProfile converts pump energy into lifted water volume.
type WaterProfile struct {
	// M3PerKWh overrides the pump model when positive.
	M3PerKWh       float64
	PumpHeadM      float64
	PumpEfficiency float64
}

// Coefficient returns cubic metres lifted per kWh. The pump model is
// m³/kWh = 3.6e6 × efficiency / (ρ × g × head).
func (w WaterProfile) Coefficient() (float64, error) {
	if w.M3PerKWh > 0 {
		return w.M3PerKWh, nil
	}
	if w.PumpHeadM <= 0 {
		return 0, fmt.Errorf("pump head must be positive, got %v", w.PumpHeadM)
	}
	if w.PumpEfficiency <= 0 || w.PumpEfficiency > 1 {
		return 0, fmt.Errorf("pump efficiency must be in (0, 1], got %v", w.PumpEfficiency)
	}
	return joulesPerKWh * w.PumpEfficiency / (waterDensity * gravity * w.PumpHeadM), nil
}
