package util

import (
	"github.com/berfenger/surplus2evse/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Meter: config.MeterConfig{
			Type:          config.METER_TYPE_SUNSPEC,
			TimeoutMillis: 1000,
			Attempts:      2,
			SunSpec: config.SunSpecMeterConfig{
				Host:    "-.-.-.-",
				Port:    502,
				MeterId: 200,
			},
		},
		EVSE: config.EVSEConfig{
			Host:                  "openevse.test",
			TimeoutMillis:         1000,
			Attempts:              2,
			CurrentResolutionAmps: 1,
			ResendIntervalSeconds: 300,
			FailureAlertCycles:    5,
		},
		Control: config.ControlConfig{
			IntervalSeconds:          5,
			MinCurrentAmps:           6,
			MaxCurrentAmps:           30,
			Voltage:                  240,
			DebounceCycles:           3,
			MinSampleIntervalSeconds: 1,
			MaxSampleIntervalSeconds: 300,
		},
		MQTT: config.MQTTConfig{
			Enable:           true,
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "surplus2evse",
			HADiscoveryTopic: "homeassistant",
		},
		Port: 8080,
	}
}
