package events

import (
	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/port"

	"github.com/asynkron/protoactor-go/eventstream"
)

// EventStreamSink fans cycle reports out over the actor event stream. The
// report itself is published first, followed by one event per sensor.
type EventStreamSink struct {
	stream *eventstream.EventStream
}

var _ port.TelemetrySink = (*EventStreamSink)(nil)

func NewEventStreamSink(stream *eventstream.EventStream) *EventStreamSink {
	return &EventStreamSink{stream: stream}
}

func (s *EventStreamSink) Publish(report domain.CycleReport) {
	s.stream.Publish(domain.CycleReportEvent{Report: report})
	for _, ev := range CycleReportToUpdateEvents(report) {
		s.stream.Publish(ev)
	}
}
