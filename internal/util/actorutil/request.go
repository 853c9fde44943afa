package actorutil

import (
	"github.com/berfenger/surplus2evse/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
)

type ExtendedRequest interface {
	Respond(ctx actor.Context, resp domain.ActorResponse)
	ReplyTo(ctx actor.Context) *actor.PID
}

type forRequest struct {
	req domain.ActorRequest
}

// ForRequest answers either the explicit ReplyTo ref of a request or,
// when missing, the sender of the current message.
func ForRequest(r domain.ActorRequest) ExtendedRequest {
	return forRequest{req: r}
}

func (r forRequest) Respond(ctx actor.Context, resp domain.ActorResponse) {
	if to := r.req.ReplyTo(); to != nil {
		ctx.Send((*actor.PID)(to), resp)
		return
	}
	ctx.Respond(resp)
}

func (r forRequest) ReplyTo(ctx actor.Context) *actor.PID {
	if to := r.req.ReplyTo(); to != nil {
		return (*actor.PID)(to)
	}
	return ctx.Sender()
}
