package service

import (
	"testing"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	VOLTAGE     = 240
	MIN_CURRENT = 6
	MAX_CURRENT = 30
)

func newController(debounce int) *DefaultChargeControlLogic {
	return &DefaultChargeControlLogic{
		MinCurrentAmps:        MIN_CURRENT,
		MaxCurrentAmps:        MAX_CURRENT,
		Voltage:               VOLTAGE,
		DebounceCycles:        debounce,
		CurrentResolutionAmps: 1,
		Logger:                zap.Must(zap.NewDevelopment()),
	}
}

func amps(a float64) domain.NetPowerSample {
	return domain.NetPowerSample{
		AverageWatts: a * VOLTAGE,
		Interval:     time.Minute,
	}
}

// decide and commit, as the loop does on a successful apply
func step(ctrl *DefaultChargeControlLogic, available float64) domain.ChargeDecision {
	d := ctrl.Decide(amps(available))
	ctrl.Commit(d)
	return d
}

func TestBelowThenAboveDoesNotStart(t *testing.T) {

	require := require.New(t)
	ctrl := newController(2)

	d := step(ctrl, 4)
	require.Equal(domain.DisableCommand(), d.Command)
	d = step(ctrl, 10)
	require.Equal(domain.ChargeStateOff, ctrl.State().State, "one cycle above must not start charging")
	require.False(d.Command.Enabled)

	d = step(ctrl, 10)
	require.Equal(domain.ChargeStateCharging, ctrl.State().State)
	require.True(d.Transition)
	require.Equal(domain.EnableCommand(10), d.Command)
}

func TestStartAfterDebounce(t *testing.T) {

	require := require.New(t)
	ctrl := newController(3)

	for i := 0; i < 2; i++ {
		d := step(ctrl, 12)
		require.False(d.Command.Enabled)
		require.Equal(i+1, ctrl.State().ConsecutiveAboveThreshold)
	}
	d := step(ctrl, 12)
	require.True(d.Transition)
	require.Equal(domain.EnableCommand(12), d.Command)
	// counters reset on transition
	require.Zero(ctrl.State().ConsecutiveAboveThreshold)
	require.Zero(ctrl.State().ConsecutiveBelowThreshold)
}

func TestChargingTracksAvailableCurrent(t *testing.T) {

	require := require.New(t)
	ctrl := newController(1)

	step(ctrl, 6)
	require.Equal(domain.ChargeStateCharging, ctrl.State().State)

	for _, a := range []float64{10, 6, 10, 6, 10} {
		d := step(ctrl, a)
		require.Equal(domain.EnableCommand(a), d.Command, "setpoint follows available current")
		require.False(d.Transition)
	}
}

func TestEnabledCommandsWithinBounds(t *testing.T) {

	ctrl := newController(1)

	for w := -5000.0; w <= 20000; w += 137 {
		d := ctrl.Decide(domain.NetPowerSample{AverageWatts: w, Interval: time.Minute})
		ctrl.Commit(d)
		if d.Command.Enabled {
			assert.GreaterOrEqual(t, d.Command.ChargeCurrentAmps, float64(MIN_CURRENT))
			assert.LessOrEqual(t, d.Command.ChargeCurrentAmps, float64(MAX_CURRENT))
		} else {
			assert.Zero(t, d.Command.ChargeCurrentAmps)
		}
	}
}

func TestStopAfterDebounceBelow(t *testing.T) {

	require := require.New(t)
	ctrl := newController(3)
	ctrl.Restore(domain.EvseStatus{Enabled: true, ChargeCurrentAmps: 16})

	// keeps charging at min while debouncing
	for i := 0; i < 2; i++ {
		d := step(ctrl, 4)
		require.Equal(domain.EnableCommand(MIN_CURRENT), d.Command)
	}
	d := step(ctrl, 4)
	require.True(d.Transition)
	require.Equal(domain.DisableCommand(), d.Command)
	require.Equal(domain.ChargeStateOff, ctrl.State().State)
}

func TestAboveResetsBelowCounter(t *testing.T) {

	require := require.New(t)
	ctrl := newController(2)
	ctrl.Restore(domain.EvseStatus{Enabled: true, ChargeCurrentAmps: 8})

	step(ctrl, 2)
	require.Equal(1, ctrl.State().ConsecutiveBelowThreshold)
	step(ctrl, 9)
	require.Zero(ctrl.State().ConsecutiveBelowThreshold)
	step(ctrl, 2)
	require.Equal(domain.ChargeStateCharging, ctrl.State().State)
}

func TestDecideDoesNotChangeState(t *testing.T) {

	require := require.New(t)
	ctrl := newController(1)

	before := ctrl.State()
	d := ctrl.Decide(amps(20))
	require.True(d.Transition)
	require.Equal(before, ctrl.State(), "state only changes on commit")
}

func TestSetpointRoundsDown(t *testing.T) {

	require := require.New(t)
	ctrl := newController(1)
	ctrl.CurrentResolutionAmps = 0.5

	require.Equal(domain.EnableCommand(12.5), ctrl.Decide(amps(12.9)).Command)
	ctrl.CurrentResolutionAmps = 1
	require.Equal(domain.EnableCommand(12), ctrl.Decide(amps(12.9)).Command)
	require.Equal(domain.EnableCommand(MAX_CURRENT), ctrl.Decide(amps(80)).Command)
}

func TestReserveCurrent(t *testing.T) {

	require := require.New(t)
	ctrl := newController(1)
	ctrl.ReserveCurrentAmps = 1

	d := ctrl.Decide(amps(6.5))
	require.InDelta(5.5, d.AvailableCurrentAmps, 1e-9)
	require.False(d.Command.Enabled)

	d = ctrl.Decide(amps(-3))
	require.Zero(d.AvailableCurrentAmps, "available current never goes negative")
}

func TestCompensateChargeDraw(t *testing.T) {

	require := require.New(t)
	ctrl := newController(1)
	ctrl.CompensateChargeDraw = true
	ctrl.Restore(domain.EvseStatus{Enabled: true, ChargeCurrentAmps: 10})

	// meter sees 2A export while the EV draws 10A
	d := step(ctrl, 2)
	require.Equal(domain.EnableCommand(12), d.Command)
	// 1A import while drawing 12A
	d = step(ctrl, -1)
	require.Equal(domain.EnableCommand(11), d.Command)
}

func TestRestore(t *testing.T) {

	require := require.New(t)
	ctrl := newController(3)

	ctrl.Restore(domain.EvseStatus{Enabled: true, ChargeCurrentAmps: 40})
	require.Equal(domain.ChargeStateCharging, ctrl.State().State)
	require.Equal(domain.EnableCommand(MAX_CURRENT), ctrl.State().LastCommanded)

	ctrl.Restore(domain.EvseStatus{Enabled: true, ChargeCurrentAmps: 16.7})
	require.Equal(domain.EnableCommand(16), ctrl.State().LastCommanded, "rounded down like any setpoint")

	ctrl.Restore(domain.EvseStatus{Enabled: true, ChargeCurrentAmps: 3})
	require.Equal(domain.ChargeStateOff, ctrl.State().State)

	ctrl.Restore(domain.EvseStatus{Enabled: false, ChargeCurrentAmps: 16})
	require.Equal(domain.ChargeStateOff, ctrl.State().State)
	require.Equal(domain.DisableCommand(), ctrl.State().LastCommanded)
}

func TestValidate(t *testing.T) {

	require := require.New(t)

	require.NoError(newController(3).Validate())

	ctrl := newController(0)
	require.Error(ctrl.Validate())

	ctrl = newController(1)
	ctrl.MinCurrentAmps = 6.5
	require.Error(ctrl.Validate(), "min must be a multiple of the resolution")

	ctrl = newController(1)
	ctrl.MaxCurrentAmps = 5
	require.Error(ctrl.Validate())

	ctrl = newController(1)
	ctrl.Voltage = 0
	require.Error(ctrl.Validate())
}
