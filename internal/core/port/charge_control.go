package port

import "github.com/berfenger/surplus2evse/internal/core/domain"

type ChargeControlLogic interface {
	// Decide evaluates a sample without changing the controller state.
	Decide(sample domain.NetPowerSample) domain.ChargeDecision
	// Commit makes the decision state current. Only call it once the
	// decision command has been applied.
	Commit(decision domain.ChargeDecision)
	Restore(status domain.EvseStatus)
	State() domain.ControllerState
}

type TelemetrySink interface {
	Publish(report domain.CycleReport)
}
