package meter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/pkg/sunspec_modbus"

	"github.com/benbjohnson/clock"
	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSunSpecFetch(t *testing.T) {

	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	reader, err := sunspec_modbus.CreateTestACMeterModbusReader()
	require.NoError(err)
	fake := reader.(*sunspec_modbus.TestACMeterModbusReader)
	client := NewSunSpecMeterClient(fake, clk, zap.Must(zap.NewDevelopment()))

	r, err := client.Fetch(context.Background())
	require.NoError(err)
	require.True(fake.Opened)
	require.Equal(domain.MeterReading{
		Timestamp:        clk.Now(),
		EnergyImportedWh: 550220,
		EnergyExportedWh: 2770340,
		VoltageV:         234.2,
	}, r)

	clk.Add(time.Minute)
	fake.PowerFlow.TotalEnergyExportedWh += 100
	r, err = client.Fetch(context.Background())
	require.NoError(err)
	require.Equal(2770440.0, r.EnergyExportedWh)
	require.Equal(clk.Now(), r.Timestamp)

	require.NoError(client.Close())
	require.False(fake.Opened)
}

func TestSunSpecReopensAfterError(t *testing.T) {

	require := require.New(t)

	reader, _ := sunspec_modbus.CreateTestACMeterModbusReader()
	fake := reader.(*sunspec_modbus.TestACMeterModbusReader)
	client := NewSunSpecMeterClient(fake, clock.NewMock(), zap.NewNop())

	_, err := client.Fetch(context.Background())
	require.NoError(err)

	fake.Err = modbus.ErrRequestTimedOut
	_, err = client.Fetch(context.Background())
	var fetchErr *domain.FetchError
	require.True(errors.As(err, &fetchErr))
	require.Equal(domain.FetchTimeout, fetchErr.Kind)
	require.False(fake.Opened, "connection dropped")

	fake.Err = nil
	_, err = client.Fetch(context.Background())
	require.NoError(err)
	require.True(fake.Opened)
}

func TestSunSpecCancelledContext(t *testing.T) {

	reader, _ := sunspec_modbus.CreateTestACMeterModbusReader()
	client := NewSunSpecMeterClient(reader, clock.NewMock(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Fetch(ctx)
	var fetchErr *domain.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, domain.FetchUnreachable, fetchErr.Kind)
}

func TestSunSpecAgainstSimulator(t *testing.T) {

	require := require.New(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	sim := sunspec_modbus.NewMeterSimulator(sunspec_modbus.ACMeterInfo{Manufacturer: "Fronius", Model: "TS 65A-3"})
	require.NoError(sim.Listen(fmt.Sprintf("127.0.0.1:%d", port)))
	defer sim.Close()
	sim.SetReading(1200, 5000, 239.8, -3000)

	logger := zap.Must(zap.NewDevelopment())
	reader, err := sunspec_modbus.CreateACMeterIntSFModbusReader("127.0.0.1", uint(port), 200, time.Second, false, logger, nil)
	require.NoError(err)
	client := NewSunSpecMeterClient(reader, clock.New(), logger)
	defer client.Close()

	r, err := client.Fetch(context.Background())
	require.NoError(err)
	require.Equal(1200.0, r.EnergyImportedWh)
	require.Equal(5000.0, r.EnergyExportedWh)
	require.InDelta(239.8, r.VoltageV, 0.001)

	sim.SetReading(1200, 5100, 239.8, -3000)
	r, err = client.Fetch(context.Background())
	require.NoError(err)
	require.Equal(5100.0, r.EnergyExportedWh)
}
