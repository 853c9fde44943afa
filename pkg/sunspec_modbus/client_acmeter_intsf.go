package sunspec_modbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// register offsets inside an int+SF meter block (201-204), counted from the
// block id register
const (
	meterPhaseAVoltage   = 8
	meterVoltageSF       = 15
	meterFrequency       = 16
	meterFrequencySF     = 17
	meterTotalRealPower  = 18
	meterRealPowerSF     = 22
	meterTotWhExported   = 38
	meterTotWhImported   = 46
	meterTotWhSF         = 54
	meterBlockDataOffset = 2
)

type acMeterIntSFModbusBlocks struct {
	common  uint16
	acMeter uint16
}

func (blk *acMeterIntSFModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.acMeter > 0
}

type ACMeterIntSFModbusReader struct {
	ModbusClient
	blocks        acMeterIntSFModbusBlocks
	ignoreFronius bool
}

func CreateACMeterIntSFModbusReader(ip string, port uint, acMeterAddress uint8, timeout time.Duration,
	ignoreFronius bool, logger *zap.Logger, instrumentation *ModbusInstrument) (ACMeterModbusReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	// instrumentation
	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "acMeter"), zap.Uint8("acMeter", acMeterAddress)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	// set ac meter address
	err = client.SetUnitId(acMeterAddress)
	if err != nil {
		return nil, err
	}
	return &ACMeterIntSFModbusReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		ignoreFronius: ignoreFronius,
	}, nil
}

func (reader *ACMeterIntSFModbusReader) Open() error {
	if err := reader.client.Open(); err != nil {
		return err
	}
	if err := reader.survey(); err != nil {
		reader.client.Close()
		return err
	}
	return nil
}

func (reader *ACMeterIntSFModbusReader) Close() error {
	return reader.client.Close()
}

func (reader *ACMeterIntSFModbusReader) Validate() error {
	str, err := reader.readString(SUNSPEC_BASE_ADDR, 4)
	if err != nil {
		return err
	}
	if str != sunspecMarker {
		return errors.New("could not find a SunSpec smart meter")
	}
	if reader.ignoreFronius {
		return nil
	}
	str, err = reader.readString(SUNSPEC_BASE_ADDR+4, 32)
	if err != nil {
		return err
	}
	if str != "Fronius" {
		return fmt.Errorf("could not find a Fronius smart meter, found %q", str)
	}
	return nil
}

func (reader *ACMeterIntSFModbusReader) GetInfo() (*ACMeterInfo, error) {
	manufacturer, err := reader.readString(reader.blocks.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := reader.readString(reader.blocks.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := reader.readString(reader.blocks.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := reader.readString(reader.blocks.common+50, 32)
	if err != nil {
		return nil, err
	}

	return &ACMeterInfo{
		Manufacturer: manufacturer,
		Model:        model,
		Version:      version,
		Serial:       serial,
	}, nil
}

// GetPowerFlow reads the meter block in a single request so energy counters
// and voltage belong to the same instant.
func (reader *ACMeterIntSFModbusReader) GetPowerFlow() (*ACMeterPowerFlow, error) {
	if reader.blocks.acMeter == 0 {
		return nil, errors.New("meter not surveyed, call Open first")
	}
	regs, err := reader.readRegisters(reader.blocks.acMeter+meterBlockDataOffset, SUNSPEC_METER_LENGTH, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	at := func(offset uint16) uint16 {
		return regs[offset-meterBlockDataOffset]
	}
	acc32 := func(offset uint16) uint32 {
		return uint32(at(offset))<<16 | uint32(at(offset+1))
	}

	return &ACMeterPowerFlow{
		CurrentPowerFlowWatt:  reader.applySFint16(int16(at(meterTotalRealPower)), at(meterRealPowerSF)),
		TotalEnergyExportedWh: reader.applySFuint32(acc32(meterTotWhExported), at(meterTotWhSF)),
		TotalEnergyImportedWh: reader.applySFuint32(acc32(meterTotWhImported), at(meterTotWhSF)),
		Frequency:             reader.applySF(at(meterFrequency), at(meterFrequencySF)),
		PhaseAVoltage:         reader.applySF(at(meterPhaseAVoltage), at(meterVoltageSF)),
	}, nil
}

func (reader *ACMeterIntSFModbusReader) survey() error {

	// check SunSpec
	str, err := reader.readString(SUNSPEC_BASE_ADDR, 4)
	if err != nil {
		return err
	}
	if str != sunspecMarker {
		return errors.New("could not find a SunSpec smart meter")
	}

	// survey blocks
	blocks := acMeterIntSFModbusBlocks{}
	baseAddr := SUNSPEC_FIRST_BLOCK
	for n := 0; n < sunspecMaxSurveyBlocks && !blocks.AllBlocksDefined(); n++ {
		block, err := surveyModbusBlock(reader.client, baseAddr)
		if err != nil {
			return err
		}
		if block.isEndBlock() {
			break
		}
		// identify block
		switch {
		case block.id == SUNSPEC_WK_COMMON:
			blocks.common = block.baseAddr
		case block.id >= SUNSPEC_WK_METER_MIN && block.id <= SUNSPEC_WK_METER_MAX:
			if block.length < SUNSPEC_METER_LENGTH {
				return fmt.Errorf("meter block %d too short: %d registers", block.id, block.length)
			}
			blocks.acMeter = block.baseAddr
		}
		baseAddr = baseAddr + block.length + 2
	}
	if blocks.AllBlocksDefined() {
		reader.blocks = blocks
		return nil
	}
	return errors.New("could not find all required sunspec blocks (common, ac_meter)")
}
