package events

import (
	. "github.com/berfenger/surplus2evse/internal/core/domain"
)

func CycleReportToUpdateEvents(report CycleReport) []any {
	var events []any

	// meter availability
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_METER_ONLINE,
		},
		Value: report.Outcome != CycleMeterUnavailable,
	})
	if report.Reading != nil {
		events = append(events, MeterReadingToUpdateEvents(*report.Reading)...)
	}
	// Grid net power
	if report.Sample != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_GRID_NET_POWER,
			},
			Value:    report.Sample.AverageWatts,
			Decimals: 1,
		})
	}
	if report.Decision != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_AVAILABLE_CURRENT,
			},
			Value:    report.Decision.AvailableCurrentAmps,
			Decimals: 2,
		})
	}
	// EVSE reachability is only known when a command was attempted
	switch report.Outcome {
	case CycleApplied:
		events = append(events, evseOnline(true))
	case CycleApplyFailed:
		events = append(events, evseOnline(IsRejected(report.Err)))
	}
	events = append(events, ControllerStateToUpdateEvents(report.State)...)
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CYCLE_OUTCOME,
		},
		Value: string(report.Outcome),
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_APPLY_FAILURES,
		},
		Value: float64(report.ConsecutiveApplyFailures),
	})

	return events
}

func MeterReadingToUpdateEvents(reading MeterReading) []any {
	var events []any

	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_METER_ENERGY_IMPORTED,
		},
		Value:    reading.EnergyImportedWh / 1000,
		Decimals: 3,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_METER_ENERGY_EXPORTED,
		},
		Value:    reading.EnergyExportedWh / 1000,
		Decimals: 3,
	})
	if reading.VoltageV > 0 {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_METER_VOLTAGE,
			},
			Value:    reading.VoltageV,
			Decimals: 1,
		})
	}

	return events
}

func ControllerStateToUpdateEvents(state ControllerState) []any {
	var events []any

	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CONTROLLER_STATE,
		},
		Value: state.State.String(),
	})
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_EVSE_ENABLED,
		},
		Value: state.LastCommanded.Enabled,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_EVSE_CHARGE_CURRENT,
		},
		Value: state.LastCommanded.ChargeCurrentAmps,
	})

	return events
}

func evseOnline(online bool) any {
	return BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_EVSE_ONLINE,
		},
		Value: online,
	}
}
