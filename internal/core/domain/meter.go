package domain

import (
	"fmt"
	"time"
)

// MeterReading is a snapshot of the grid meter cumulative energy counters.
type MeterReading struct {
	Timestamp time.Time
	// Lifetime energy imported from the grid
	EnergyImportedWh float64
	// Lifetime energy exported to the grid
	EnergyExportedWh float64
	// Grid voltage, 0 if the meter does not report it
	VoltageV float64
}

func (r MeterReading) String() string {
	return fmt.Sprintf("{%s imp=%.1fWh exp=%.1fWh %.1fV}", r.Timestamp.Format(time.RFC3339),
		r.EnergyImportedWh, r.EnergyExportedWh, r.VoltageV)
}

// NetPowerSample is the average grid power between two readings.
// Positive = net export (surplus). Negative = net import.
type NetPowerSample struct {
	AverageWatts float64
	Interval     time.Duration
}

func (s NetPowerSample) IsExport() bool {
	return s.AverageWatts > 0
}
