package metrics

import (
	"net/http"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/port"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "surplus2evse"

// Metrics exposes cycle reports as Prometheus series on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	netPower         prometheus.Gauge
	availableCurrent prometheus.Gauge
	commanded        prometheus.Gauge
	charging         prometheus.Gauge
	energy           *prometheus.GaugeVec
	applyFailures    prometheus.Gauge
}

var _ port.TelemetrySink = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Control cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a control cycle including retries.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		netPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grid_net_power_watts",
			Help:      "Average grid power over the last sample, positive = export.",
		}),
		availableCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available_current_amps",
			Help:      "Surplus current available for charging.",
		}),
		commanded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "commanded_current_amps",
			Help:      "Charge current last applied to the EVSE, 0 when disabled.",
		}),
		charging: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "charging",
			Help:      "1 when the controller is in the charging state.",
		}),
		energy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "meter_energy_wh",
			Help:      "Lifetime meter energy counters.",
		}, []string{"direction"}),
		applyFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_apply_failures",
			Help:      "Cycles in a row the EVSE command could not be applied.",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.netPower,
		m.availableCurrent,
		m.commanded,
		m.charging,
		m.energy,
		m.applyFailures,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Publish(report domain.CycleReport) {
	m.cycles.WithLabelValues(string(report.Outcome)).Inc()
	m.cycleDuration.Observe(report.Duration.Seconds())
	m.applyFailures.Set(float64(report.ConsecutiveApplyFailures))

	if r := report.Reading; r != nil {
		m.energy.WithLabelValues("imported").Set(r.EnergyImportedWh)
		m.energy.WithLabelValues("exported").Set(r.EnergyExportedWh)
	}
	if s := report.Sample; s != nil {
		m.netPower.Set(s.AverageWatts)
	}
	if d := report.Decision; d != nil {
		m.availableCurrent.Set(d.AvailableCurrentAmps)
	}

	if report.State.State == domain.ChargeStateCharging {
		m.charging.Set(1)
	} else {
		m.charging.Set(0)
	}
	if last := report.State.LastCommanded; last.Enabled {
		m.commanded.Set(last.ChargeCurrentAmps)
	} else {
		m.commanded.Set(0)
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
