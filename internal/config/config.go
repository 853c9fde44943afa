package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	METER_TYPE_ENVOY   = "envoy"
	METER_TYPE_SUNSPEC = "sunspec"
)

type Config struct {
	LogLevel zapcore.Level
	Meter    MeterConfig   `mapstructure:"meter"`
	EVSE     EVSEConfig    `mapstructure:"evse"`
	Control  ControlConfig `mapstructure:"control"`
	MQTT     MQTTConfig    `mapstructure:"mqtt"`
	Kafka    KafkaConfig   `mapstructure:"kafka"`
	Port     uint          `mapstructure:"port"`
	HttpLog  bool          `mapstructure:"http_log"`
}

type MeterConfig struct {
	Type          string
	TimeoutMillis uint32             `mapstructure:"timeout_millis"`
	Attempts      uint               `mapstructure:"attempts"`
	Envoy         EnvoyConfig        `mapstructure:"envoy"`
	SunSpec       SunSpecMeterConfig `mapstructure:"sunspec"`
}

type EnvoyConfig struct {
	Host        string
	TokenFile   string `mapstructure:"token_file"`
	InsecureTLS bool   `mapstructure:"insecure_tls"`
}

type SunSpecMeterConfig struct {
	Host          string
	Port          uint
	MeterId       uint `mapstructure:"meter_id"`
	IgnoreFronius bool `mapstructure:"ignore_fronius"`
}

type EVSEConfig struct {
	Host                  string
	TokenFile             string  `mapstructure:"token_file"`
	TimeoutMillis         uint32  `mapstructure:"timeout_millis"`
	Attempts              uint    `mapstructure:"attempts"`
	CurrentResolutionAmps float64 `mapstructure:"current_resolution_amps"`
	ResendIntervalSeconds uint32  `mapstructure:"resend_interval_seconds"`
	FailureAlertCycles    int     `mapstructure:"failure_alert_cycles"`
}

type ControlConfig struct {
	IntervalSeconds          uint32  `mapstructure:"interval_seconds"`
	MinCurrentAmps           float64 `mapstructure:"min_current_amps"`
	MaxCurrentAmps           float64 `mapstructure:"max_current_amps"`
	Voltage                  float64 `mapstructure:"voltage"`
	DebounceCycles           int     `mapstructure:"debounce_cycles"`
	ReserveCurrentAmps       float64 `mapstructure:"reserve_current_amps"`
	CompensateChargeDraw     bool    `mapstructure:"compensate_charge_draw"`
	MinSampleIntervalSeconds uint32  `mapstructure:"min_sample_interval_seconds"`
	MaxSampleIntervalSeconds uint32  `mapstructure:"max_sample_interval_seconds"`
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type KafkaConfig struct {
	Enable  bool
	Brokers []string
	Topic   string
}

func (c ControlConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c MeterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c EVSEConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c EVSEConfig) ResendInterval() time.Duration {
	return time.Duration(c.ResendIntervalSeconds) * time.Second
}

// Address returns the host the meter is polled on, used to label devices.
func (c MeterConfig) Address() string {
	if c.Type == METER_TYPE_SUNSPEC {
		return fmt.Sprintf("%s:%d", c.SunSpec.Host, c.SunSpec.Port)
	}
	return c.Envoy.Host
}

// Validate checks bounds and normalizes topics in place.
func (cfg *Config) Validate() error {

	switch cfg.Meter.Type {
	case METER_TYPE_ENVOY:
		if cfg.Meter.Envoy.Host == "" {
			return errors.New("config param meter.envoy.host is required")
		}
	case METER_TYPE_SUNSPEC:
		if cfg.Meter.SunSpec.Host == "" {
			return errors.New("config param meter.sunspec.host is required")
		}
		if cfg.Meter.SunSpec.MeterId > 247 {
			return errors.New("config param meter.sunspec.meter_id should be <= 247")
		}
	default:
		return fmt.Errorf("config param meter.type should be %s or %s", METER_TYPE_ENVOY, METER_TYPE_SUNSPEC)
	}
	if cfg.Meter.Attempts < 1 {
		return errors.New("config param meter.attempts should be >= 1")
	}
	if cfg.Meter.TimeoutMillis < 100 {
		return errors.New("config param meter.timeout_millis should be >= 100")
	}

	if cfg.EVSE.Host == "" {
		return errors.New("config param evse.host is required")
	}
	if cfg.EVSE.Attempts < 1 {
		return errors.New("config param evse.attempts should be >= 1")
	}
	if cfg.EVSE.TimeoutMillis < 100 {
		return errors.New("config param evse.timeout_millis should be >= 100")
	}
	if cfg.EVSE.CurrentResolutionAmps <= 0 {
		return errors.New("config param evse.current_resolution_amps should be > 0")
	}
	if cfg.EVSE.FailureAlertCycles < 1 {
		return errors.New("config param evse.failure_alert_cycles should be >= 1")
	}

	if cfg.Control.IntervalSeconds < 5 {
		return errors.New("config param control.interval_seconds should be >= 5")
	}
	if cfg.Control.MinCurrentAmps <= 0 || cfg.Control.MinCurrentAmps > cfg.Control.MaxCurrentAmps {
		return errors.New("config param control.min_current_amps should be > 0 and <= control.max_current_amps")
	}
	if cfg.Control.Voltage <= 0 {
		return errors.New("config param control.voltage should be > 0")
	}
	if cfg.Control.DebounceCycles < 1 {
		return errors.New("config param control.debounce_cycles should be >= 1")
	}
	if cfg.Control.ReserveCurrentAmps < 0 {
		return errors.New("config param control.reserve_current_amps should be >= 0")
	}
	if cfg.Control.MinSampleIntervalSeconds < 1 || cfg.Control.MinSampleIntervalSeconds >= cfg.Control.MaxSampleIntervalSeconds {
		return errors.New("config param control.min_sample_interval_seconds should be >= 1 and < control.max_sample_interval_seconds")
	}
	if cfg.Control.MaxSampleIntervalSeconds < 2*cfg.Control.IntervalSeconds {
		return errors.New("config param control.max_sample_interval_seconds should be >= 2 * control.interval_seconds")
	}

	if cfg.MQTT.Enable {
		// check and fix base topic
		baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return errors.New("invalid base topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic

		// check and fix homeassistant discovery topic
		hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
		if err != nil {
			return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.HADiscoveryTopic = hadBaseTopic
	}

	if cfg.Kafka.Enable {
		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("config param kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return errors.New("config param kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// ReadTokenFile loads a credential stored alone in a file.
func ReadTokenFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("token file %s: %w", path, err)
	}
	token := strings.TrimSpace(string(content))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}
