package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/surplus2evse/internal/config"
	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor publishes Home Assistant discovery configs once both the
// charge loop and the MQTT actor answer healthy, then goes quiet.
type HADiscoveryActor struct {
	config                 *config.Config
	behavior               actor.Behavior
	stash                  *actorutil.Stash
	chargeLoopActor        *actor.PID
	mqttActor              *actor.PID
	chargeLoopActorHealthy bool
	mqttActorHealthy       bool
	healthyRecv            int

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, chargeLoopActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:          config,
		chargeLoopActor: chargeLoopActor,
		mqttActor:       mqttActor,
		behavior:        actor.NewBehavior(),
		stash:           &actorutil.Stash{},
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		state.healthyRecv = 0
		state.chargeLoopActorHealthy = false
		state.mqttActorHealthy = false
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.chargeLoopActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CHARGE_LOOP,
				Healthy: false,
			}
		})
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_CHARGE_LOOP:
				state.chargeLoopActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if !state.chargeLoopActorHealthy || !state.mqttActorHealthy {
				panic(errors.New("MQTT Actor or ChargeLoop Actor are not healthy"))
			}
			ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
				Sensors: DiscoverySensors(state.config),
			})
			state.logger.Info("hadiscovery@healthcheck: discovery published")
			state.behavior.Become(state.Done)
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

// DiscoverySensors lists every entity the bridge exposes.
func DiscoverySensors(cfg *config.Config) []domain.GenericSensor {
	var sensors []domain.GenericSensor

	bridgeDevice := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	meterDevice := domain.MeterDevice(cfg.Meter.Type, cfg.Meter.Address())
	meterDevice.ViaDevice = bridgeDevice.Id
	sensors = append(sensors, domain.MeterSensors(meterDevice)...)

	chargerDevice := domain.ChargerDevice(cfg.EVSE.Host)
	chargerDevice.ViaDevice = bridgeDevice.Id
	sensors = append(sensors, domain.ChargerSensors(chargerDevice)...)

	return sensors
}
