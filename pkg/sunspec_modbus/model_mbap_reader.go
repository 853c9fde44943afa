package sunspec_modbus

import (
	"math"
	"slices"
	"time"

	"github.com/simonvetter/modbus"
)

type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func (reader ModbusClient) readString(address uint16, size uint16) (string, error) {
	bytes, err := reader.readRawBytes(address, size, modbus.HOLDING_REGISTER)
	if err != nil {
		return "", err
	}
	f := slices.Index(bytes, 0x00)
	if f >= 0 {
		return string(bytes[:f]), nil
	}
	return string(bytes), nil
}

// scale factors are signed powers of ten
func (reader ModbusClient) applySF(number uint16, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func (reader ModbusClient) applySFint16(number int16, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func (reader ModbusClient) applySFuint32(number uint32, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func (reader ModbusClient) readRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error) {
	defer RecordTimer("ReadRegisters", reader.instrument)()
	return reader.client.ReadRegisters(addr, quantity, regType)
}

func (reader ModbusClient) readRawBytes(addr uint16, quantity uint16, regType modbus.RegType) ([]byte, error) {
	defer RecordTimer("ReadRawBytes", reader.instrument)()
	return reader.client.ReadRawBytes(addr, quantity, regType)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}
