package sunspec_modbus

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/tbrandon/mbserver"
)

const (
	simulatorVoltageSF   = 0xFFFF // -1
	simulatorFrequencySF = 0xFFFE // -2
	simulatorRegisters   = int(SUNSPEC_FIRST_BLOCK) + int(SUNSPEC_COMMON_LENGTH) + int(SUNSPEC_METER_LENGTH) + 6
)

// MeterSimulator serves a SunSpec int+SF three phase meter (model 203) over
// Modbus TCP. Register values are updated with SetReading.
type MeterSimulator struct {
	server *mbserver.Server

	mu        sync.Mutex
	registers []uint16
	meterAddr uint16
}

func NewMeterSimulator(info ACMeterInfo) *MeterSimulator {
	sim := &MeterSimulator{
		server:    mbserver.NewServer(),
		registers: make([]uint16, simulatorRegisters),
	}
	sim.layout(info)
	sim.server.RegisterFunctionHandler(3, sim.readHoldingRegisters)
	return sim
}

// Listen starts serving on address (host:port).
func (sim *MeterSimulator) Listen(address string) error {
	return sim.server.ListenTCP(address)
}

func (sim *MeterSimulator) Close() {
	sim.server.Close()
}

// SetReading publishes new lifetime counters, phase A voltage and
// instantaneous power (positive = import).
func (sim *MeterSimulator) SetReading(importedWh, exportedWh, voltage, powerWatt float64) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	base := sim.meterAddr
	sim.set(base+meterPhaseAVoltage, uint16(math.Round(voltage*10)))
	sim.set(base+meterTotalRealPower, uint16(int16(math.Round(powerWatt))))
	sim.setUint32(base+meterTotWhExported, uint32(exportedWh))
	sim.setUint32(base+meterTotWhImported, uint32(importedWh))
}

func (sim *MeterSimulator) layout(info ACMeterInfo) {
	sim.setString(SUNSPEC_BASE_ADDR, sunspecMarker, 4)

	common := SUNSPEC_FIRST_BLOCK
	sim.set(common, SUNSPEC_WK_COMMON)
	sim.set(common+1, SUNSPEC_COMMON_LENGTH)
	sim.setString(common+2, info.Manufacturer, 32)
	sim.setString(common+18, info.Model, 32)
	sim.setString(common+42, info.Version, 16)
	sim.setString(common+50, info.Serial, 32)

	meter := common + SUNSPEC_COMMON_LENGTH + 2
	sim.meterAddr = meter
	sim.set(meter, SUNSPEC_METER_WYE_3PH)
	sim.set(meter+1, SUNSPEC_METER_LENGTH)
	sim.set(meter+meterVoltageSF, simulatorVoltageSF)
	sim.set(meter+meterFrequency, 5000)
	sim.set(meter+meterFrequencySF, simulatorFrequencySF)
	sim.set(meter+meterRealPowerSF, 0)
	sim.set(meter+meterTotWhSF, 0)

	end := meter + SUNSPEC_METER_LENGTH + 2
	sim.set(end, SUNSPEC_WK_END)
	sim.set(end+1, 0)
}

func (sim *MeterSimulator) set(addr uint16, value uint16) {
	sim.registers[addr] = value
}

func (sim *MeterSimulator) setUint32(addr uint16, value uint32) {
	sim.registers[addr] = uint16(value >> 16)
	sim.registers[addr+1] = uint16(value)
}

func (sim *MeterSimulator) setString(addr uint16, value string, size int) {
	buf := make([]byte, size)
	copy(buf, value)
	for i := 0; i < size; i += 2 {
		sim.registers[addr+uint16(i/2)] = binary.BigEndian.Uint16(buf[i : i+2])
	}
}

func (sim *MeterSimulator) readHoldingRegisters(server *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	register := int(binary.BigEndian.Uint16(data[0:2]))
	numRegs := int(binary.BigEndian.Uint16(data[2:4]))

	sim.mu.Lock()
	defer sim.mu.Unlock()
	if numRegs == 0 || register+numRegs > len(sim.registers) {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	resp := make([]byte, 1+numRegs*2)
	resp[0] = byte(numRegs * 2)
	for i := 0; i < numRegs; i++ {
		binary.BigEndian.PutUint16(resp[1+i*2:], sim.registers[register+i])
	}
	return resp, &mbserver.Success
}
