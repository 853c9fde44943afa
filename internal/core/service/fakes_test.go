package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
)

var t0 = time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)

func reading(secs int, importedWh, exportedWh float64) domain.MeterReading {
	return domain.MeterReading{
		Timestamp:        t0.Add(time.Duration(secs) * time.Second),
		EnergyImportedWh: importedWh,
		EnergyExportedWh: exportedWh,
		VoltageV:         240,
	}
}

type fetchResult struct {
	reading domain.MeterReading
	err     error
}

// fakeMeter returns the queued results in order, then keeps failing
type fakeMeter struct {
	results []fetchResult
	calls   int
}

func (m *fakeMeter) Fetch(ctx context.Context) (domain.MeterReading, error) {
	m.calls++
	if len(m.results) == 0 {
		return domain.MeterReading{}, domain.NewFetchError(errors.New("no more readings"))
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r.reading, r.err
}

func (m *fakeMeter) push(r domain.MeterReading) {
	m.results = append(m.results, fetchResult{reading: r})
}

func (m *fakeMeter) fail(times int) {
	for i := 0; i < times; i++ {
		m.results = append(m.results, fetchResult{err: &domain.FetchError{Kind: domain.FetchTimeout, Err: context.DeadlineExceeded}})
	}
}

type fakeEvse struct {
	applied []domain.EvseCommand
	calls   int
	errs    []error
	status  domain.EvseStatus
	statErr error
}

func (e *fakeEvse) Apply(ctx context.Context, cmd domain.EvseCommand) error {
	e.calls++
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		if err != nil {
			return err
		}
	}
	e.applied = append(e.applied, cmd)
	return nil
}

func (e *fakeEvse) Status(ctx context.Context) (domain.EvseStatus, error) {
	return e.status, e.statErr
}

func (e *fakeEvse) last() domain.EvseCommand {
	return e.applied[len(e.applied)-1]
}

type recordingSink struct {
	mu      sync.Mutex
	reports []domain.CycleReport
}

func (s *recordingSink) Publish(report domain.CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
}
