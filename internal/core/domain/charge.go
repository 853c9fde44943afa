package domain

import "time"

type ChargeState int

const (
	ChargeStateOff ChargeState = iota
	ChargeStateCharging
)

func (s ChargeState) String() string {
	if s == ChargeStateCharging {
		return "charging"
	}
	return "off"
}

// ControllerState is the hysteresis state of the charge controller.
type ControllerState struct {
	State                     ChargeState
	LastCommanded             EvseCommand
	ConsecutiveBelowThreshold int
	ConsecutiveAboveThreshold int
}

// ChargeDecision is the outcome of evaluating one sample. Next only becomes
// the controller state once the command has been applied.
type ChargeDecision struct {
	Command              EvseCommand
	Next                 ControllerState
	AvailableCurrentAmps float64
	Transition           bool
}

type CycleOutcome string

const (
	CycleMeterUnavailable CycleOutcome = "meter_unavailable"
	CycleBaseline         CycleOutcome = "baseline"
	CycleResync           CycleOutcome = "resync"
	CycleRateSkipped      CycleOutcome = "rate_skipped"
	CycleApplied          CycleOutcome = "applied"
	CycleApplyFailed      CycleOutcome = "apply_failed"
)

// CycleReport summarizes one control cycle.
type CycleReport struct {
	Timestamp                time.Time
	Outcome                  CycleOutcome
	Reading                  *MeterReading
	Sample                   *NetPowerSample
	Decision                 *ChargeDecision
	Err                      error
	State                    ControllerState
	ConsecutiveApplyFailures int
	Duration                 time.Duration
}

func (r CycleReport) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
