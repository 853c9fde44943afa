package events

import (
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
)

// CycleReportDocument is the wire form of a CycleReport, shared by the
// MQTT cycle topic, the Kafka publisher and the status endpoint.
type CycleReportDocument struct {
	Timestamp                time.Time          `json:"timestamp"`
	Outcome                  string             `json:"outcome"`
	Error                    string             `json:"error,omitempty"`
	DurationMillis           int64              `json:"duration_ms"`
	Reading                  *ReadingDocument   `json:"reading,omitempty"`
	NetPowerWatts            *float64           `json:"net_power_w,omitempty"`
	SampleIntervalSeconds    *float64           `json:"sample_interval_s,omitempty"`
	AvailableCurrentAmps     *float64           `json:"available_current_a,omitempty"`
	Command                  *CommandDocument   `json:"command,omitempty"`
	Controller               ControllerDocument `json:"controller"`
	ConsecutiveApplyFailures int                `json:"consecutive_apply_failures"`
}

type ReadingDocument struct {
	Timestamp        time.Time `json:"timestamp"`
	EnergyImportedWh float64   `json:"energy_imported_wh"`
	EnergyExportedWh float64   `json:"energy_exported_wh"`
	VoltageV         float64   `json:"voltage_v,omitempty"`
}

type CommandDocument struct {
	Enabled           bool    `json:"enabled"`
	ChargeCurrentAmps float64 `json:"charge_current_a,omitempty"`
}

type ControllerDocument struct {
	State                     string          `json:"state"`
	LastCommanded             CommandDocument `json:"last_commanded"`
	ConsecutiveBelowThreshold int             `json:"consecutive_below"`
	ConsecutiveAboveThreshold int             `json:"consecutive_above"`
}

func NewCycleReportDocument(report domain.CycleReport) CycleReportDocument {
	doc := CycleReportDocument{
		Timestamp:                report.Timestamp,
		Outcome:                  string(report.Outcome),
		Error:                    report.ErrorString(),
		DurationMillis:           report.Duration.Milliseconds(),
		Controller:               NewControllerDocument(report.State),
		ConsecutiveApplyFailures: report.ConsecutiveApplyFailures,
	}
	if r := report.Reading; r != nil {
		doc.Reading = &ReadingDocument{
			Timestamp:        r.Timestamp,
			EnergyImportedWh: r.EnergyImportedWh,
			EnergyExportedWh: r.EnergyExportedWh,
			VoltageV:         r.VoltageV,
		}
	}
	if s := report.Sample; s != nil {
		watts := s.AverageWatts
		secs := s.Interval.Seconds()
		doc.NetPowerWatts = &watts
		doc.SampleIntervalSeconds = &secs
	}
	if d := report.Decision; d != nil {
		available := d.AvailableCurrentAmps
		cmd := commandDocument(d.Command)
		doc.AvailableCurrentAmps = &available
		doc.Command = &cmd
	}
	return doc
}

func NewControllerDocument(state domain.ControllerState) ControllerDocument {
	return ControllerDocument{
		State:                     state.State.String(),
		LastCommanded:             commandDocument(state.LastCommanded),
		ConsecutiveBelowThreshold: state.ConsecutiveBelowThreshold,
		ConsecutiveAboveThreshold: state.ConsecutiveAboveThreshold,
	}
}

func commandDocument(cmd domain.EvseCommand) CommandDocument {
	return CommandDocument{
		Enabled:           cmd.Enabled,
		ChargeCurrentAmps: cmd.ChargeCurrentAmps,
	}
}
