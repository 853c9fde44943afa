package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsPublish(t *testing.T) {

	assert := assert.New(t)

	m := NewMetrics()
	m.Publish(domain.CycleReport{
		Outcome:  domain.CycleApplied,
		Reading:  &domain.MeterReading{EnergyImportedWh: 1000, EnergyExportedWh: 5100},
		Sample:   &domain.NetPowerSample{AverageWatts: 2400, Interval: time.Minute},
		Decision: &domain.ChargeDecision{Command: domain.EnableCommand(10), AvailableCurrentAmps: 10},
		State:    domain.ControllerState{State: domain.ChargeStateCharging, LastCommanded: domain.EnableCommand(10)},
		Duration: 200 * time.Millisecond,
	})
	m.Publish(domain.CycleReport{
		Outcome:                  domain.CycleApplyFailed,
		State:                    domain.ControllerState{State: domain.ChargeStateCharging, LastCommanded: domain.EnableCommand(10)},
		ConsecutiveApplyFailures: 1,
	})

	assert.Equal(1.0, testutil.ToFloat64(m.cycles.WithLabelValues("applied")))
	assert.Equal(1.0, testutil.ToFloat64(m.cycles.WithLabelValues("apply_failed")))
	assert.Equal(2400.0, testutil.ToFloat64(m.netPower), "kept from the last sample")
	assert.Equal(10.0, testutil.ToFloat64(m.commanded))
	assert.Equal(1.0, testutil.ToFloat64(m.charging))
	assert.Equal(5100.0, testutil.ToFloat64(m.energy.WithLabelValues("exported")))
	assert.Equal(1.0, testutil.ToFloat64(m.applyFailures))

	m.Publish(domain.CycleReport{Outcome: domain.CycleApplied, State: domain.ControllerState{State: domain.ChargeStateOff}})
	assert.Equal(0.0, testutil.ToFloat64(m.commanded))
	assert.Equal(0.0, testutil.ToFloat64(m.charging))
}

func TestMetricsHandler(t *testing.T) {

	require := require.New(t)

	m := NewMetrics()
	m.Publish(domain.CycleReport{Outcome: domain.CycleBaseline})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(err)
	require.Contains(string(body), `surplus2evse_cycles_total{outcome="baseline"} 1`)
	require.Contains(string(body), "go_goroutines")
}
