package meter

import (
	"context"
	"errors"
	"sync"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/port"
	"github.com/berfenger/surplus2evse/pkg/sunspec_modbus"

	"github.com/benbjohnson/clock"
	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// SunSpecMeterClient reads a SunSpec int+SF smart meter over Modbus TCP.
// The meter has no clock of its own, readings are stamped on arrival.
type SunSpecMeterClient struct {
	reader sunspec_modbus.ACMeterModbusReader
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.Mutex
	opened bool
}

var _ port.MeterClient = (*SunSpecMeterClient)(nil)

func NewSunSpecMeterClient(reader sunspec_modbus.ACMeterModbusReader, clk clock.Clock, logger *zap.Logger) *SunSpecMeterClient {
	return &SunSpecMeterClient{
		reader: reader,
		clock:  clk,
		logger: logger,
	}
}

// Fetch opens the connection on demand and drops it after any error, so
// the next cycle starts with a fresh survey.
func (m *SunSpecMeterClient) Fetch(ctx context.Context) (domain.MeterReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.MeterReading{}, domain.NewFetchError(err)
	}
	if !m.opened {
		if err := m.open(); err != nil {
			return domain.MeterReading{}, classifyModbusError(err)
		}
	}

	flow, err := m.reader.GetPowerFlow()
	if err != nil {
		m.close()
		return domain.MeterReading{}, classifyModbusError(err)
	}
	if flow.TotalEnergyImportedWh < 0 || flow.TotalEnergyExportedWh < 0 {
		return domain.MeterReading{}, domain.MalformedResponse("negative energy counters %+v", *flow)
	}
	reading := domain.MeterReading{
		Timestamp:        m.clock.Now(),
		EnergyImportedWh: flow.TotalEnergyImportedWh,
		EnergyExportedWh: flow.TotalEnergyExportedWh,
		VoltageV:         flow.PhaseAVoltage,
	}
	m.logger.Debug("sunspec: reading", zap.Stringer("reading", reading), zap.Float64("watts", flow.CurrentPowerFlowWatt))
	return reading, nil
}

func (m *SunSpecMeterClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return nil
	}
	m.opened = false
	return m.reader.Close()
}

func (m *SunSpecMeterClient) open() error {
	if err := m.reader.Open(); err != nil {
		return err
	}
	if err := m.reader.Validate(); err != nil {
		m.reader.Close()
		return err
	}
	m.opened = true
	if info, err := m.reader.GetInfo(); err == nil {
		m.logger.Info("sunspec: meter connected",
			zap.String("manufacturer", info.Manufacturer),
			zap.String("model", info.Model),
			zap.String("version", info.Version),
			zap.String("serial", info.Serial))
	}
	return nil
}

func (m *SunSpecMeterClient) close() {
	if err := m.reader.Close(); err != nil {
		m.logger.Debug("sunspec: close failed", zap.Error(err))
	}
	m.opened = false
}

func classifyModbusError(err error) *domain.FetchError {
	switch {
	case errors.Is(err, modbus.ErrRequestTimedOut):
		return &domain.FetchError{Kind: domain.FetchTimeout, Err: err}
	case errors.Is(err, modbus.ErrProtocolError), errors.Is(err, modbus.ErrBadTransactionId),
		errors.Is(err, modbus.ErrUnexpectedParameters):
		return &domain.FetchError{Kind: domain.FetchMalformedResponse, Err: err}
	}
	return domain.NewFetchError(err)
}
