package sunspec_modbus

import (
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// SunSpec register map
const (
	SUNSPEC_BASE_ADDR     uint16 = 40000
	SUNSPEC_FIRST_BLOCK   uint16 = 40002
	SUNSPEC_WK_COMMON     uint16 = 1
	SUNSPEC_WK_METER_MIN  uint16 = 201
	SUNSPEC_WK_METER_MAX  uint16 = 204
	SUNSPEC_WK_END        uint16 = 0xFFFF
	SUNSPEC_COMMON_LENGTH uint16 = 65
	SUNSPEC_METER_LENGTH  uint16 = 105
	SUNSPEC_METER_WYE_3PH uint16 = 203
)

const (
	sunspecMarker          = "SunS"
	sunspecMaxSurveyBlocks = 10
)

type modbusBlock struct {
	id       uint16
	baseAddr uint16
	length   uint16
}

func (block *modbusBlock) isEndBlock() bool {
	return block.id == SUNSPEC_WK_END
}

func surveyModbusBlock(client *modbus.ModbusClient, baseAddr uint16) (*modbusBlock, error) {
	header, err := client.ReadRegisters(baseAddr, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return &modbusBlock{
		id:       header[0],
		length:   header[1],
		baseAddr: baseAddr,
	}, nil
}

// traceLoggerInstrumentation logs every modbus call duration at debug level.
func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus call", zap.String("fn", fnName), zap.Duration("took", readTime))
		},
	}
}
