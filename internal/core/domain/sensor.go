package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE            = "bridge"
	SENSOR_ID_METER_ONLINE            = "meter_online"
	SENSOR_ID_METER_ENERGY_IMPORTED   = "meter_energy_imported"
	SENSOR_ID_METER_ENERGY_EXPORTED   = "meter_energy_exported"
	SENSOR_ID_METER_VOLTAGE           = "meter_voltage"
	SENSOR_ID_GRID_NET_POWER          = "grid_net_power"
	SENSOR_ID_AVAILABLE_CURRENT       = "available_current"
	SENSOR_ID_EVSE_ONLINE             = "evse_online"
	SENSOR_ID_EVSE_ENABLED            = "evse_enabled"
	SENSOR_ID_EVSE_CHARGE_CURRENT     = "evse_charge_current"
	SENSOR_ID_CONTROLLER_STATE        = "controller_state"
	SENSOR_ID_CYCLE_OUTCOME           = "cycle_outcome"
	SENSOR_ID_APPLY_FAILURES          = "apply_failures"
	STATE_CLASS_MEASUREMENT           = "measurement"
	STATE_CLASS_TOTAL_INCREASING      = "total_increasing"
	DEVICE_CLASS_CURRENT              = "current"
	DEVICE_CLASS_ENERGY               = "energy"
	DEVICE_CLASS_POWER                = "power"
	DEVICE_CLASS_VOLTAGE              = "voltage"
	DEVICE_CLASS_CONNECTIVITY         = "connectivity"
	DEVICE_CLASS_RUNNING              = "running"
	ENTITY_CLASS_DIAGNOSTIC           = "diagnostic"
	SENSOR_TYPE_SENSOR                = "sensor"
	SENSOR_TYPE_BINARY                = "binary_sensor"
	DEVICE_MANUFACTURER_SURPLUS2EVSE  = "ACasal"
	DEVICE_MODEL_SURPLUS2EVSE_BRIDGE  = "surplus2evse"
	DEVICE_MODEL_SURPLUS2EVSE_CONTROL = "PV surplus charge controller"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("surplus2evse_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: DEVICE_MANUFACTURER_SURPLUS2EVSE,
		Model:        DEVICE_MODEL_SURPLUS2EVSE_BRIDGE,
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("surplus2evse %s", md5HashShort(baseTopic)),
	}
}

// MeterDevice identifies the grid meter by its kind and address.
func MeterDevice(kind, address string) Device {
	return Device{
		Id:    fmt.Sprintf("s2e_meter_%s", md5HashShort(kind+address)),
		Model: kind,
		Name:  fmt.Sprintf("Grid meter %s", md5HashShort(kind+address)),
	}
}

// ChargerDevice identifies the EVSE together with its control loop.
func ChargerDevice(address string) Device {
	return Device{
		Id:           fmt.Sprintf("s2e_evse_%s", md5HashShort(address)),
		Manufacturer: "OpenEVSE",
		Model:        DEVICE_MODEL_SURPLUS2EVSE_CONTROL,
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("EV charger %s", md5HashShort(address)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

// MeterSensors returns the grid meter sensors. Only the first one carries
// the full device description.
func MeterSensors(meterDevice Device) []GenericSensor {
	idDev := IdDevice(meterDevice)
	return []GenericSensor{
		{
			Device:         meterDevice,
			Id:             SENSOR_ID_METER_ONLINE,
			SensorType:     SENSOR_TYPE_BINARY,
			Name:           "Meter online",
			DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(meterDevice.Id, SENSOR_ID_METER_ONLINE),
		},
		{
			Device:            idDev,
			Id:                SENSOR_ID_METER_ENERGY_IMPORTED,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Total energy imported",
			StateClass:        STATE_CLASS_TOTAL_INCREASING,
			DeviceClass:       DEVICE_CLASS_ENERGY,
			UnitOfMeasurement: "kWh",
			UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_METER_ENERGY_IMPORTED),
		},
		{
			Device:            idDev,
			Id:                SENSOR_ID_METER_ENERGY_EXPORTED,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Total energy exported",
			StateClass:        STATE_CLASS_TOTAL_INCREASING,
			DeviceClass:       DEVICE_CLASS_ENERGY,
			UnitOfMeasurement: "kWh",
			UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_METER_ENERGY_EXPORTED),
		},
		{
			Device:            idDev,
			Id:                SENSOR_ID_METER_VOLTAGE,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Grid voltage",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_VOLTAGE,
			UnitOfMeasurement: "V",
			EnabledByDefault:  optionalBool(false),
			UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_METER_VOLTAGE),
		},
		{
			Device:            idDev,
			Id:                SENSOR_ID_GRID_NET_POWER,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Grid net export power",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_POWER,
			UnitOfMeasurement: "W",
			UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_GRID_NET_POWER),
		},
	}
}

func ChargerSensors(chargerDevice Device) []GenericSensor {
	idDev := IdDevice(chargerDevice)
	return []GenericSensor{
		{
			Device:         chargerDevice,
			Id:             SENSOR_ID_EVSE_ONLINE,
			SensorType:     SENSOR_TYPE_BINARY,
			Name:           "Charger online",
			DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(chargerDevice.Id, SENSOR_ID_EVSE_ONLINE),
		},
		{
			Device:      idDev,
			Id:          SENSOR_ID_EVSE_ENABLED,
			SensorType:  SENSOR_TYPE_BINARY,
			Name:        "Charging enabled",
			DeviceClass: DEVICE_CLASS_RUNNING,
			UniqueId:    uniqueId(chargerDevice.Id, SENSOR_ID_EVSE_ENABLED),
		},
		{
			Device:            idDev,
			Id:                SENSOR_ID_EVSE_CHARGE_CURRENT,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Charge current setpoint",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_CURRENT,
			UnitOfMeasurement: "A",
			UniqueId:          uniqueId(chargerDevice.Id, SENSOR_ID_EVSE_CHARGE_CURRENT),
		},
		{
			Device:            idDev,
			Id:                SENSOR_ID_AVAILABLE_CURRENT,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Available surplus current",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_CURRENT,
			UnitOfMeasurement: "A",
			UniqueId:          uniqueId(chargerDevice.Id, SENSOR_ID_AVAILABLE_CURRENT),
		},
		{
			Device:     idDev,
			Id:         SENSOR_ID_CONTROLLER_STATE,
			SensorType: SENSOR_TYPE_SENSOR,
			Name:       "Controller state",
			Icon:       "mdi:ev-station",
			UniqueId:   uniqueId(chargerDevice.Id, SENSOR_ID_CONTROLLER_STATE),
		},
		{
			Device:         idDev,
			Id:             SENSOR_ID_CYCLE_OUTCOME,
			SensorType:     SENSOR_TYPE_SENSOR,
			Name:           "Last cycle outcome",
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(chargerDevice.Id, SENSOR_ID_CYCLE_OUTCOME),
		},
		{
			Device:           idDev,
			Id:               SENSOR_ID_APPLY_FAILURES,
			SensorType:       SENSOR_TYPE_SENSOR,
			Name:             "Consecutive command failures",
			StateClass:       STATE_CLASS_MEASUREMENT,
			EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
			EnabledByDefault: optionalBool(false),
			UniqueId:         uniqueId(chargerDevice.Id, SENSOR_ID_APPLY_FAILURES),
		},
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
