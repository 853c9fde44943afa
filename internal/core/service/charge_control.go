package service

import (
	"errors"
	"fmt"
	"math"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/port"

	"go.uber.org/zap"
)

// DefaultChargeControlLogic is a two state (off/charging) controller with
// debounced transitions. While charging, the setpoint follows the available
// surplus current on every decision.
type DefaultChargeControlLogic struct {
	MinCurrentAmps        float64
	MaxCurrentAmps        float64
	Voltage               float64
	DebounceCycles        int
	CurrentResolutionAmps float64
	ReserveCurrentAmps    float64
	// add the current being drawn by the EV back to the surplus, for meters
	// that measure the charger circuit too
	CompensateChargeDraw bool
	Logger               *zap.Logger

	state domain.ControllerState
}

var _ port.ChargeControlLogic = (*DefaultChargeControlLogic)(nil)

func (ctrl *DefaultChargeControlLogic) Validate() error {
	if ctrl.Voltage <= 0 {
		return errors.New("voltage should be > 0")
	}
	if ctrl.DebounceCycles < 1 {
		return errors.New("debounce cycles should be >= 1")
	}
	if ctrl.CurrentResolutionAmps <= 0 {
		return errors.New("current resolution should be > 0")
	}
	if ctrl.MinCurrentAmps <= 0 || ctrl.MaxCurrentAmps < ctrl.MinCurrentAmps {
		return fmt.Errorf("invalid current range [%g, %g]", ctrl.MinCurrentAmps, ctrl.MaxCurrentAmps)
	}
	if !isMultipleOf(ctrl.MinCurrentAmps, ctrl.CurrentResolutionAmps) || !isMultipleOf(ctrl.MaxCurrentAmps, ctrl.CurrentResolutionAmps) {
		return fmt.Errorf("min and max current should be multiples of %g", ctrl.CurrentResolutionAmps)
	}
	if ctrl.ReserveCurrentAmps < 0 {
		return errors.New("reserve current should be >= 0")
	}
	return nil
}

func (ctrl *DefaultChargeControlLogic) Decide(sample domain.NetPowerSample) domain.ChargeDecision {
	available := ctrl.availableCurrent(sample)
	next := ctrl.state

	if available >= ctrl.MinCurrentAmps {
		next.ConsecutiveAboveThreshold++
		next.ConsecutiveBelowThreshold = 0
	} else {
		next.ConsecutiveBelowThreshold++
		next.ConsecutiveAboveThreshold = 0
	}

	decision := domain.ChargeDecision{
		AvailableCurrentAmps: available,
	}

	switch ctrl.state.State {
	case domain.ChargeStateOff:
		if next.ConsecutiveAboveThreshold >= ctrl.DebounceCycles {
			next = domain.ControllerState{
				State:         domain.ChargeStateCharging,
				LastCommanded: domain.EnableCommand(ctrl.setpoint(available)),
			}
			decision.Transition = true
		} else {
			next.LastCommanded = domain.DisableCommand()
		}
	case domain.ChargeStateCharging:
		if next.ConsecutiveBelowThreshold >= ctrl.DebounceCycles {
			next = domain.ControllerState{
				State:         domain.ChargeStateOff,
				LastCommanded: domain.DisableCommand(),
			}
			decision.Transition = true
		} else {
			next.LastCommanded = domain.EnableCommand(ctrl.setpoint(available))
		}
	}

	decision.Command = next.LastCommanded
	decision.Next = next
	return decision
}

func (ctrl *DefaultChargeControlLogic) Commit(decision domain.ChargeDecision) {
	if decision.Transition {
		ctrl.Logger.Info(fmt.Sprintf("charge_control: %s -> %s", ctrl.state.State, decision.Next.State),
			zap.Float64("available", decision.AvailableCurrentAmps),
			zap.Stringer("command", decision.Command))
	}
	ctrl.state = decision.Next
}

// Restore seeds the controller from the state reported by the EVSE, so a
// restart does not interrupt a running session.
func (ctrl *DefaultChargeControlLogic) Restore(status domain.EvseStatus) {
	if status.Enabled && status.ChargeCurrentAmps >= ctrl.MinCurrentAmps {
		ctrl.state = domain.ControllerState{
			State:         domain.ChargeStateCharging,
			LastCommanded: domain.EnableCommand(ctrl.setpoint(status.ChargeCurrentAmps)),
		}
	} else {
		ctrl.state = domain.ControllerState{
			State:         domain.ChargeStateOff,
			LastCommanded: domain.DisableCommand(),
		}
	}
	ctrl.Logger.Sugar().Infof("charge_control: restored state %s (evse %s %gA)", ctrl.state.State, status.State, status.ChargeCurrentAmps)
}

func (ctrl *DefaultChargeControlLogic) State() domain.ControllerState {
	return ctrl.state
}

func (ctrl *DefaultChargeControlLogic) availableCurrent(sample domain.NetPowerSample) float64 {
	available := sample.AverageWatts/ctrl.Voltage - ctrl.ReserveCurrentAmps
	if ctrl.CompensateChargeDraw && ctrl.state.State == domain.ChargeStateCharging && ctrl.state.LastCommanded.Enabled {
		available += ctrl.state.LastCommanded.ChargeCurrentAmps
	}
	return math.Max(0, available)
}

// setpoint clamps to [min, max] and rounds down to the EVSE resolution
func (ctrl *DefaultChargeControlLogic) setpoint(available float64) float64 {
	res := ctrl.CurrentResolutionAmps
	// tolerance keeps exact multiples from flooring one step down
	floored := math.Floor(ctrl.clamp(available)/res+1e-9) * res
	return ctrl.clamp(floored)
}

func (ctrl *DefaultChargeControlLogic) clamp(amps float64) float64 {
	return math.Min(ctrl.MaxCurrentAmps, math.Max(ctrl.MinCurrentAmps, amps))
}

func isMultipleOf(value, step float64) bool {
	q := value / step
	return math.Abs(q-math.Round(q)) < 1e-9
}
