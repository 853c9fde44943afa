package domain

import (
	"time"

	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_CHARGE_LOOP  = "charge_loop"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type ActorRef actor.PID

// Requests

type ActorRequest interface {
	ReplyTo() *ActorRef
}

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

// Responses

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

// Health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// Charge loop

type GetChargeStatusRequest struct {
	ActorRequestMixIn
}

type GetChargeStatusResponse struct {
	ActorResponseMixIn
	ActorState string
	Controller ControllerState
	LastReport *CycleReport
	Evse       *EvseStatus
	NextCycle  time.Time
}

// MQTT

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}
