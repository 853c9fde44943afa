package actor

import (
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/surplus2evse/internal/adapter/actor"
	"github.com/berfenger/surplus2evse/internal/config"
	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/port"
	. "github.com/berfenger/surplus2evse/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type ChargeLoopActorProvider func(*eventstream.EventStream) *ChargeLoopActor

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck      healthCheckResult
	eventStream             *eventstream.EventStream
	subscriptions           []*eventstream.Subscription
	sinks                   []port.TelemetrySink
	mqttActor               *actor.PID
	chargeLoopActor         *actor.PID
	mqttActorProvider       MQTTActorProvider
	chargeLoopActorProvider ChargeLoopActorProvider
	logger                  *zap.Logger
}

type healthCheckResult struct {
	expected             int
	checksReceived       int
	chargeLoopHealthy    bool
	mqttActorHealthy     bool
	mqttActorNotRequired bool
	respondTo            *actor.PID
}

// NewMasterOfPuppetsActor builds the root actor. mqttActorProvider may be
// nil when MQTT is disabled. Every sink receives each cycle report.
func NewMasterOfPuppetsActor(config config.Config, chargeLoopActorProvider ChargeLoopActorProvider,
	mqttActorProvider MQTTActorProvider, sinks []port.TelemetrySink, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:                  config,
		behavior:                actor.NewBehavior(),
		stash:                   &Stash{},
		logger:                  ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:             &eventstream.EventStream{},
		sinks:                   sinks,
		chargeLoopActorProvider: chargeLoopActorProvider,
		mqttActorProvider:       mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// report subscribers first, so no report is missed
		for i := range state.sinks {
			state.subscriptions = append(state.subscriptions, subscribeSink(state.eventStream, state.sinks[i]))
		}

		// start MQTT child
		if state.mqttActorProvider != nil {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID
		}

		// start ChargeLoop child
		chargeLoopActorPID, err := state.startChargeLoopActor(ctx)
		if err != nil {
			panic(err)
		}
		state.chargeLoopActor = chargeLoopActorPID

		// start HA Discovery
		if state.mqttActor != nil && state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(state.mqttActor != nil)
		state.currentHealthCheck.respondTo = ctx.Sender()
		// ChargeLoop Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.chargeLoopActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CHARGE_LOOP,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		if state.mqttActor != nil {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      domain.ACTOR_ID_MQTT,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.GetChargeStatusRequest:
		ctx.Forward(state.chargeLoopActor)
	case *actor.Terminated:
		state.logger.Error("master@default child terminated", zap.String("who", msg.Who.Id))
	case *actor.Stopping:
		state.unsubscribeSinks()
	default:
		state.logger.Debug("master@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.SetReceiveTimeout(0)
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_CHARGE_LOOP:
				state.currentHealthCheck.chargeLoopHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.currentHealthCheck.mqttActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {
			ctx.SetReceiveTimeout(0)
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) startChargeLoopActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 1*time.Minute, decider)

	chargeLoopProps := actor.PropsFromProducer(func() actor.Actor {
		return state.chargeLoopActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	chargeLoopPID, err := ctx.SpawnNamed(chargeLoopProps, domain.ACTOR_ID_CHARGE_LOOP)
	if err != nil {
		return nil, err
	}

	return chargeLoopPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.chargeLoopActor, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterOfPuppetsActor) unsubscribeSinks() {
	for _, sub := range state.subscriptions {
		state.eventStream.Unsubscribe(sub)
	}
	state.subscriptions = nil
}

func subscribeSink(es *eventstream.EventStream, sink port.TelemetrySink) *eventstream.Subscription {
	return es.SubscribeWithPredicate(func(evt any) {
		sink.Publish(evt.(domain.CycleReportEvent).Report)
	}, func(evt any) bool {
		_, ok := evt.(domain.CycleReportEvent)
		return ok
	})
}

func (state *healthCheckResult) reset(mqttRequired bool) {
	state.chargeLoopHealthy = false
	state.mqttActorHealthy = false
	state.mqttActorNotRequired = !mqttRequired
	state.checksReceived = 0
	state.expected = 1
	if mqttRequired {
		state.expected++
	}
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	return state.chargeLoopHealthy && (state.mqttActorHealthy || state.mqttActorNotRequired)
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
