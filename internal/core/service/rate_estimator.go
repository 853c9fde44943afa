package service

import (
	"fmt"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
)

const (
	DefaultMinSampleInterval = 10 * time.Second
	DefaultMaxSampleInterval = 5 * time.Minute
)

// RateEstimator turns two cumulative readings into an average net power.
type RateEstimator struct {
	MinInterval time.Duration
	MaxInterval time.Duration
}

func NewRateEstimator(minInterval, maxInterval time.Duration) RateEstimator {
	return RateEstimator{
		MinInterval: minInterval,
		MaxInterval: maxInterval,
	}
}

func (e RateEstimator) Compute(previous, current domain.MeterReading) (domain.NetPowerSample, error) {
	interval := current.Timestamp.Sub(previous.Timestamp)

	// same timestamp twice is a repeated reading, not a reset
	if interval == 0 {
		return domain.NetPowerSample{}, fmt.Errorf("%w: repeated timestamp %s",
			domain.ErrIntervalTooShort, current.Timestamp.Format(time.RFC3339))
	}

	if current.EnergyImportedWh < previous.EnergyImportedWh {
		return domain.NetPowerSample{}, fmt.Errorf("%w: imported %.1fWh -> %.1fWh",
			domain.ErrNonMonotonic, previous.EnergyImportedWh, current.EnergyImportedWh)
	}
	if current.EnergyExportedWh < previous.EnergyExportedWh {
		return domain.NetPowerSample{}, fmt.Errorf("%w: exported %.1fWh -> %.1fWh",
			domain.ErrNonMonotonic, previous.EnergyExportedWh, current.EnergyExportedWh)
	}
	if interval < 0 {
		return domain.NetPowerSample{}, fmt.Errorf("%w: timestamp went back %s",
			domain.ErrNonMonotonic, -interval)
	}
	if interval < e.MinInterval {
		return domain.NetPowerSample{}, fmt.Errorf("%w: %s < %s", domain.ErrIntervalTooShort, interval, e.MinInterval)
	}
	if e.MaxInterval > 0 && interval > e.MaxInterval {
		return domain.NetPowerSample{}, fmt.Errorf("%w: %s > %s", domain.ErrIntervalTooLong, interval, e.MaxInterval)
	}

	deltaImported := current.EnergyImportedWh - previous.EnergyImportedWh
	deltaExported := current.EnergyExportedWh - previous.EnergyExportedWh

	return domain.NetPowerSample{
		AverageWatts: (deltaExported - deltaImported) * 3600 / interval.Seconds(),
		Interval:     interval,
	}, nil
}
