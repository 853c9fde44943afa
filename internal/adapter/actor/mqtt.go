package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/surplus2evse/internal/config"
	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/events"
	"github.com/berfenger/surplus2evse/internal/mqtt"
	"github.com/berfenger/surplus2evse/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTActor mirrors telemetry from the event stream to MQTT. It never
// subscribes to broker topics; control stays local.
type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	logger         *zap.Logger

	// test hook, see NewTestMQTTActor
	published chan<- string
}

type MQTTConnected struct {
}

type MQTTConnectionLost struct {
	Error error
}

type onEventStreamMessage struct {
	message any
}

type publishResult struct {
	ReplyTo *actor.PID
	Error   error
	// answer with PublishSensorUpdateResponse instead of PublishMessageResponse
	SensorUpdate bool
}

type rawMessage struct {
	topic   string
	message string
	retain  bool
}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.subscribeEventStream(ctx)

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	case onEventStreamMessage:
		// nothing to mirror until connected
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case onEventStreamMessage:
		if rawMsg := state.event2MQTTMessage(msg.message); rawMsg != nil {
			state.publishRaw(ctx, *rawMsg, nil, true)
		}
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.Any("message", msg))
		state.publishRaw(ctx, rawMessage{topic: msg.Topic, message: msg.Payload, retain: msg.Retain}, actorutil.ForRequest(msg).ReplyTo(ctx), false)
	case domain.PublishSensorUpdateRequest:
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", zap.String("type", fmt.Sprintf("%T", msg.Event)))
		if rawMsg := state.event2MQTTMessage(msg.Event); rawMsg != nil {
			rawMsg.retain = rawMsg.retain || msg.Retain
			state.publishRaw(ctx, *rawMsg, actorutil.ForRequest(msg).ReplyTo(ctx), true)
		}
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishHADiscovery")
		err := state.PublishHomeAssistantDiscovery(msg.Sensors)
		if err != nil {
			state.logger.Error("mqtt@default PublishHADiscovery error", zap.Error(err))
		}
		if ctx.Sender() != nil {
			ctx.Respond(domain.PublishDiscoveryResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			})
		}
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// PublishingReceive waits for the broker ack of the message in flight.
func (state *MQTTActor) PublishingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		// log error and return to default state
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, publishResponse(msg.Error, msg.SensorUpdate))
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	case MQTTConnectionLost:
		state.logger.Error("mqtt@publishing connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Stopping, *actor.Restarting:
		state.stop()
	default:
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) event2MQTTMessage(event any) *rawMessage {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
		}
	case domain.BinarySensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.BinarySensorStateTopic(msg.Id),
			message: bool2MQTTPayload(msg.Value),
		}
	case domain.TextSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: msg.Value,
		}
	case domain.BridgeStateUpdateEvent:
		var stringMessage string
		if msg.Value {
			stringMessage = mqtt.MQTT_PAYLOAD_ONLINE
		} else {
			stringMessage = mqtt.MQTT_PAYLOAD_OFFLINE
		}
		return &rawMessage{
			topic:   state.client.BridgeStateTopic(),
			message: stringMessage,
			retain:  true,
		}
	case domain.CycleReportEvent:
		payload, err := json.Marshal(events.NewCycleReportDocument(msg.Report))
		if err != nil {
			state.logger.Error("mqtt: could not encode cycle report", zap.Error(err))
			return nil
		}
		return &rawMessage{
			topic:   state.client.CycleReportTopic(),
			message: string(payload),
		}
	default:
		return nil
	}
}

func (state *MQTTActor) publishRaw(ctx actor.Context, msg rawMessage, replyTo *actor.PID, sensorUpdate bool) {
	state.logger.Sugar().Debugf("mqtt@publish: %s => %s", msg.topic, msg.message)
	if state.published != nil {
		state.published <- msg.topic + " " + msg.message
		if replyTo != nil {
			ctx.Send(replyTo, publishResponse(nil, sensorUpdate))
		}
		return
	}
	state.client.Publish(msg.topic, msg.message, 1, msg.retain, func(err error) {
		ctx.Send(ctx.Self(), publishResult{ReplyTo: replyTo, Error: err, SensorUpdate: sensorUpdate})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.PublishingReceive)
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(sensors []domain.GenericSensor) error {
	for i := range sensors {
		msg := mqtt.GenericSensorToHADiscoveryMessage(state.client, sensors[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := mqtt.HADiscoverySensorTopic(state.client, sensors[i])
		if state.published != nil {
			state.published <- topic + " " + string(payload)
			continue
		}
		state.client.Publish(topic, payload, 0, true, func(error) {}, 1*time.Second)
	}
	return nil
}

func (state *MQTTActor) subscribeEventStream(ctx actor.Context) {
	state.eventStreamSub = state.eventStream.SubscribeWithPredicate(func(value any) {
		ctx.Send(ctx.Self(), onEventStreamMessage{
			message: value,
		})
	}, func(value any) bool {
		switch value.(type) {
		case domain.SensorUpdateEvent, domain.CycleReportEvent:
			return true
		}
		return false
	})
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client != nil && state.published == nil {
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

func publishResponse(err error, sensorUpdate bool) domain.ActorResponse {
	mixIn := domain.ActorResponseMixIn{ResponseError: err}
	if sensorUpdate {
		return domain.PublishSensorUpdateResponse{ActorResponseMixIn: mixIn}
	}
	return domain.PublishMessageResponse{ActorResponseMixIn: mixIn}
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	} else {
		return mqtt.MQTT_PAYLOAD_OFF
	}
}

// NewTestMQTTActor never dials a broker. Every message it would publish is
// written to published as "<topic> <payload>".
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, published chan<- string, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		published:   published,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
		state.subscribeEventStream(ctx)
		state.behavior.Become(state.DefaultReceive)
	}
}
