package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

type ActorState interface {
	Name() string
	Receive(actor.Context)
}

// ActorWithStates wraps a behavior and remembers the name of the states
// it is in, stacked ones included.
type ActorWithStates struct {
	Behavior actor.Behavior
	names    []string
}

func (s *ActorWithStates) Become(state ActorState) {
	s.names = []string{state.Name()}
	s.Behavior.Become(state.Receive)
}

func (s *ActorWithStates) BecomeStacked(state ActorState) {
	s.names = append(s.names, state.Name())
	s.Behavior.BecomeStacked(state.Receive)
}

func (s *ActorWithStates) UnbecomeStacked() {
	if len(s.names) > 1 {
		s.names = s.names[:len(s.names)-1]
	}
	s.Behavior.UnbecomeStacked()
}

// StateName is the name of the active state
func (s *ActorWithStates) StateName() string {
	if len(s.names) == 0 {
		return ""
	}
	return s.names[len(s.names)-1]
}
