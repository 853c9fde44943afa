package domain

import "fmt"

// EvseCommand is the desired EVSE state. ChargeCurrentAmps is only
// meaningful when Enabled.
type EvseCommand struct {
	Enabled           bool
	ChargeCurrentAmps float64
}

func EnableCommand(amps float64) EvseCommand {
	return EvseCommand{
		Enabled:           true,
		ChargeCurrentAmps: amps,
	}
}

func DisableCommand() EvseCommand {
	return EvseCommand{}
}

func (c EvseCommand) Equal(o EvseCommand) bool {
	if c.Enabled != o.Enabled {
		return false
	}
	return !c.Enabled || c.ChargeCurrentAmps == o.ChargeCurrentAmps
}

func (c EvseCommand) String() string {
	if !c.Enabled {
		return "disable"
	}
	return fmt.Sprintf("enable(%gA)", c.ChargeCurrentAmps)
}

// EvseStatus is the state reported by the charging station.
type EvseStatus struct {
	Enabled           bool
	Charging          bool
	ChargeCurrentAmps float64
	State             string
	StateCode         int
}
