package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/surplus2evse/internal/adapter/actor"
	"github.com/berfenger/surplus2evse/internal/adapter/evse"
	"github.com/berfenger/surplus2evse/internal/adapter/meter"
	"github.com/berfenger/surplus2evse/internal/adapter/telemetry"
	"github.com/berfenger/surplus2evse/internal/config"
	"github.com/berfenger/surplus2evse/internal/core/actor"
	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/events"
	"github.com/berfenger/surplus2evse/internal/core/port"
	"github.com/berfenger/surplus2evse/internal/core/service"
	"github.com/berfenger/surplus2evse/internal/metrics"
	"github.com/berfenger/surplus2evse/internal/server"
	"github.com/berfenger/surplus2evse/internal/util/actorutil"
	"github.com/berfenger/surplus2evse/pkg/sunspec_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/benbjohnson/clock"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const retryDelay = time.Second

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()
	logger.Info("starting surplus2evse", zap.String("version", versioninfo.Short()))

	// peripherals
	clk := clock.New()
	meterClient, err := newMeterClient(cfg, clk, logger)
	if err != nil {
		logger.Fatal("could not create meter client", zap.Error(err))
	}
	evseClient, err := newEvseClient(cfg, clk, logger)
	if err != nil {
		logger.Fatal("could not create evse client", zap.Error(err))
	}

	// controller settings are checked once, every loop instance reuses them
	if err := newController(cfg, logger).Validate(); err != nil {
		logger.Fatal("invalid control config", zap.Error(err))
	}

	// telemetry sinks besides the event stream
	promMetrics := metrics.NewMetrics()
	sinks := []port.TelemetrySink{promMetrics}
	var kafkaPublisher *telemetry.KafkaPublisher
	if cfg.Kafka.Enable {
		kafkaPublisher = telemetry.NewKafkaPublisher(telemetry.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		sinks = append(sinks, kafkaPublisher)
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg,
			chargeLoopActorProvider(cfg, meterClient, evseClient, clk, logger),
			mqttActorProvider(cfg, logger), sinks, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Fatal("could not spawn master actor", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid, promMetrics.Handler())
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Warn("kafka: close failed", zap.Error(err))
		}
	}
	if closer, ok := meterClient.(interface{ Close() error }); ok {
		closer.Close()
	}
}

func initConfig() (*config.Config, error) {

	// alias PORT => SURPLUS2EVSE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SURPLUS2EVSE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("surplus2evse")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newMeterClient(cfg *config.Config, clk clock.Clock, logger *zap.Logger) (port.MeterClient, error) {
	switch cfg.Meter.Type {
	case config.METER_TYPE_SUNSPEC:
		reader, err := sunspec_modbus.CreateACMeterIntSFModbusReader(cfg.Meter.SunSpec.Host,
			cfg.Meter.SunSpec.Port, uint8(cfg.Meter.SunSpec.MeterId), cfg.Meter.Timeout(),
			cfg.Meter.SunSpec.IgnoreFronius, logger, nil)
		if err != nil {
			return nil, err
		}
		return meter.NewSunSpecMeterClient(reader, clk, logger), nil
	default:
		token, err := config.ReadTokenFile(cfg.Meter.Envoy.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("envoy token: %w", err)
		}
		return meter.NewEnvoyMeterClient("https://"+cfg.Meter.Envoy.Host, token, cfg.Meter.Envoy.InsecureTLS, logger), nil
	}
}

func newEvseClient(cfg *config.Config, clk clock.Clock, logger *zap.Logger) (port.EvseClient, error) {
	var auth string
	if cfg.EVSE.TokenFile != "" {
		token, err := config.ReadTokenFile(cfg.EVSE.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("evse token: %w", err)
		}
		auth = token
	}
	return evse.NewOpenEVSEClient("http://"+cfg.EVSE.Host, auth, cfg.EVSE.ResendInterval(), clk, logger), nil
}

func newController(cfg *config.Config, logger *zap.Logger) *service.DefaultChargeControlLogic {
	return &service.DefaultChargeControlLogic{
		MinCurrentAmps:        cfg.Control.MinCurrentAmps,
		MaxCurrentAmps:        cfg.Control.MaxCurrentAmps,
		Voltage:               cfg.Control.Voltage,
		DebounceCycles:        cfg.Control.DebounceCycles,
		CurrentResolutionAmps: cfg.EVSE.CurrentResolutionAmps,
		ReserveCurrentAmps:    cfg.Control.ReserveCurrentAmps,
		CompensateChargeDraw:  cfg.Control.CompensateChargeDraw,
		Logger:                logger,
	}
}

// chargeLoopActorProvider builds a fresh loop on every (re)start. Peripheral
// clients are shared, controller state is restored from the EVSE.
func chargeLoopActorProvider(cfg *config.Config, meterClient port.MeterClient, evseClient port.EvseClient,
	clk clock.Clock, logger *zap.Logger) actor.ChargeLoopActorProvider {
	estimator := service.NewRateEstimator(
		time.Duration(cfg.Control.MinSampleIntervalSeconds)*time.Second,
		time.Duration(cfg.Control.MaxSampleIntervalSeconds)*time.Second)
	loopCfg := service.ChargeLoopConfig{
		MeterAttempts:      cfg.Meter.Attempts,
		MeterTimeout:       cfg.Meter.Timeout(),
		EvseAttempts:       cfg.EVSE.Attempts,
		EvseTimeout:        cfg.EVSE.Timeout(),
		RetryDelay:         retryDelay,
		FailureAlertCycles: cfg.EVSE.FailureAlertCycles,
	}
	return func(es *eventstream.EventStream) *actor.ChargeLoopActor {
		loop := service.NewChargeLoop(meterClient, evseClient, estimator, newController(cfg, logger),
			events.NewEventStreamSink(es), loopCfg, clk, logger)
		return actor.NewChargeLoopActor(loop, cfg.Control.Interval(), clk, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if !cfg.MQTT.Enable {
		return nil
	}
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)

	viper.SetDefault("meter.type", config.METER_TYPE_ENVOY)
	viper.SetDefault("meter.timeout_millis", 5000)
	viper.SetDefault("meter.attempts", 3)
	viper.SetDefault("meter.envoy.host", "envoy.local")
	viper.SetDefault("meter.envoy.token_file", "")
	viper.SetDefault("meter.envoy.insecure_tls", true)
	viper.SetDefault("meter.sunspec.host", "")
	viper.SetDefault("meter.sunspec.port", 502)
	viper.SetDefault("meter.sunspec.meter_id", 200)
	viper.SetDefault("meter.sunspec.ignore_fronius", true)

	viper.SetDefault("evse.host", "openevse")
	viper.SetDefault("evse.token_file", "")
	viper.SetDefault("evse.timeout_millis", 5000)
	viper.SetDefault("evse.attempts", 3)
	viper.SetDefault("evse.current_resolution_amps", 1)
	viper.SetDefault("evse.resend_interval_seconds", 300)
	viper.SetDefault("evse.failure_alert_cycles", 5)

	viper.SetDefault("control.interval_seconds", 60)
	viper.SetDefault("control.min_current_amps", 6)
	viper.SetDefault("control.max_current_amps", 30)
	viper.SetDefault("control.voltage", 240)
	viper.SetDefault("control.debounce_cycles", 3)
	viper.SetDefault("control.reserve_current_amps", 0)
	viper.SetDefault("control.compensate_charge_draw", false)
	viper.SetDefault("control.min_sample_interval_seconds", 10)
	viper.SetDefault("control.max_sample_interval_seconds", 300)

	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.base_topic", "surplus2evse")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")

	viper.SetDefault("kafka.enable", false)
	viper.SetDefault("kafka.brokers", []string{})
	viper.SetDefault("kafka.topic", "surplus2evse.telemetry")
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
