package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/berfenger/surplus2evse/pkg/sunspec_modbus"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// fakemeter serves a SunSpec smart meter whose export counter grows at a
// fixed rate, to run the controller without a real installation.
func main() {
	var (
		listen   string
		export   float64
		voltage  float64
		interval time.Duration
	)
	flag.StringVar(&listen, "listen", "127.0.0.1:1502", "modbus tcp listen address")
	flag.Float64Var(&export, "export", 3000, "simulated net export in watts, negative to import")
	flag.Float64Var(&voltage, "voltage", 230, "simulated grid voltage")
	flag.DurationVar(&interval, "interval", 10*time.Second, "counter update interval")
	flag.Parse()

	logger := zap.Must(zap.NewDevelopment())
	defer logger.Sync()

	sim := sunspec_modbus.NewMeterSimulator(sunspec_modbus.ACMeterInfo{
		Manufacturer: "Fronius",
		Model:        "Smart Meter TS 65A-3",
		Version:      "1.2",
		Serial:       "00000001",
	})
	if err := sim.Listen(listen); err != nil {
		logger.Fatal("fakemeter: could not listen", zap.String("address", listen), zap.Error(err))
	}
	defer sim.Close()
	logger.Info("fakemeter: serving", zap.String("address", listen), zap.Float64("export_w", export))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCounters(ctx, sim, clock.New(), export, voltage, interval, logger)
}

func runCounters(ctx context.Context, sim *sunspec_modbus.MeterSimulator, clk clock.Clock,
	export, voltage float64, interval time.Duration, logger *zap.Logger) {
	var imported, exported float64
	sim.SetReading(imported, exported, voltage, -export)

	ticker := clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wh := export * interval.Hours()
			if wh >= 0 {
				exported += wh
			} else {
				imported -= wh
			}
			sim.SetReading(imported, exported, voltage, -export)
			logger.Debug("fakemeter: counters", zap.Float64("imported_wh", imported), zap.Float64("exported_wh", exported))
		}
	}
}
