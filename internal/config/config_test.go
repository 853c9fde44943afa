package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Meter: MeterConfig{
			Type:          METER_TYPE_ENVOY,
			TimeoutMillis: 5000,
			Attempts:      3,
			Envoy: EnvoyConfig{
				Host: "envoy.local",
			},
		},
		EVSE: EVSEConfig{
			Host:                  "openevse",
			TimeoutMillis:         5000,
			Attempts:              3,
			CurrentResolutionAmps: 1,
			ResendIntervalSeconds: 300,
			FailureAlertCycles:    5,
		},
		Control: ControlConfig{
			IntervalSeconds:          60,
			MinCurrentAmps:           6,
			MaxCurrentAmps:           30,
			Voltage:                  240,
			DebounceCycles:           3,
			MinSampleIntervalSeconds: 10,
			MaxSampleIntervalSeconds: 300,
		},
		MQTT: MQTTConfig{
			Enable:           true,
			BaseTopic:        "Surplus2EVSE",
			HADiscoveryTopic: "homeassistant",
		},
	}
}

func TestValidateDefaults(t *testing.T) {

	require := require.New(t)

	cfg := validConfig()
	require.NoError(cfg.Validate())
	require.Equal("surplus2evse", cfg.MQTT.BaseTopic, "topic is lowercased")
}

func TestValidateBounds(t *testing.T) {

	cases := map[string]func(*Config){
		"unknown meter":      func(c *Config) { c.Meter.Type = "shelly" },
		"sunspec no host":    func(c *Config) { c.Meter.Type = METER_TYPE_SUNSPEC },
		"no meter attempts":  func(c *Config) { c.Meter.Attempts = 0 },
		"no evse host":       func(c *Config) { c.EVSE.Host = "" },
		"zero resolution":    func(c *Config) { c.EVSE.CurrentResolutionAmps = 0 },
		"short interval":     func(c *Config) { c.Control.IntervalSeconds = 4 },
		"min above max":      func(c *Config) { c.Control.MinCurrentAmps = 32 },
		"zero voltage":       func(c *Config) { c.Control.Voltage = 0 },
		"zero debounce":      func(c *Config) { c.Control.DebounceCycles = 0 },
		"negative reserve":   func(c *Config) { c.Control.ReserveCurrentAmps = -1 },
		"window below cycle": func(c *Config) { c.Control.MaxSampleIntervalSeconds = 30 },
		"window one cycle":   func(c *Config) { c.Control.MaxSampleIntervalSeconds = 60 },
		"window under two":   func(c *Config) { c.Control.MaxSampleIntervalSeconds = 119 },
		"bad topic":          func(c *Config) { c.MQTT.BaseTopic = "a/b" },
		"kafka no brokers":   func(c *Config) { c.Kafka.Enable = true },
	}

	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestCheckMQTTTopic(t *testing.T) {

	topic, err := CheckMQTTTopic("Home_Assistant")
	assert.NoError(t, err)
	assert.Equal(t, "home_assistant", topic)

	_, err = CheckMQTTTopic("home/assistant")
	assert.Error(t, err)
}

func TestReadTokenFile(t *testing.T) {

	require := require.New(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "token")
	require.NoError(os.WriteFile(path, []byte("  abc.def\n"), 0600))
	token, err := ReadTokenFile(path)
	require.NoError(err)
	require.Equal("abc.def", token)

	empty := filepath.Join(dir, "empty")
	require.NoError(os.WriteFile(empty, []byte("\n"), 0600))
	_, err = ReadTokenFile(empty)
	require.Error(err)

	_, err = ReadTokenFile(filepath.Join(dir, "missing"))
	require.Error(err)
}
