package service

import (
	"context"
	"errors"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/port"

	"github.com/avast/retry-go"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

type ChargeLoopConfig struct {
	MeterAttempts      uint
	MeterTimeout       time.Duration
	EvseAttempts       uint
	EvseTimeout        time.Duration
	RetryDelay         time.Duration
	FailureAlertCycles int
}

// ChargeLoop runs one control cycle at a time: read the meter, estimate the
// surplus, decide and apply the EVSE command. It is not safe for concurrent
// use; callers must serialize RunCycle and Sync.
type ChargeLoop struct {
	meter     port.MeterClient
	evse      port.EvseClient
	estimator RateEstimator
	control   port.ChargeControlLogic
	sink      port.TelemetrySink
	cfg       ChargeLoopConfig
	clock     clock.Clock
	logger    *zap.Logger

	previous      *domain.MeterReading
	applyFailures int
}

func NewChargeLoop(meter port.MeterClient, evse port.EvseClient, estimator RateEstimator,
	control port.ChargeControlLogic, sink port.TelemetrySink, cfg ChargeLoopConfig,
	clk clock.Clock, logger *zap.Logger) *ChargeLoop {
	return &ChargeLoop{
		meter:     meter,
		evse:      evse,
		estimator: estimator,
		control:   control,
		sink:      sink,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
	}
}

// Sync reads the EVSE status and restores the controller from it.
// On error the controller is left untouched.
func (l *ChargeLoop) Sync(ctx context.Context) (*domain.EvseStatus, error) {
	var status domain.EvseStatus
	err := retry.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.EvseTimeout)
		defer cancel()
		s, err := l.evse.Status(callCtx)
		if err != nil {
			return err
		}
		status = s
		return nil
	}, l.retryOptions(ctx, l.cfg.EvseAttempts, "evse status")...)
	if err != nil {
		l.logger.Warn("charge_loop: could not read evse status", zap.Error(err))
		return nil, err
	}
	l.control.Restore(status)
	return &status, nil
}

func (l *ChargeLoop) RunCycle(ctx context.Context) domain.CycleReport {
	start := l.clock.Now()
	report := l.cycle(ctx)
	report.Timestamp = start
	report.State = l.control.State()
	report.ConsecutiveApplyFailures = l.applyFailures
	report.Duration = l.clock.Now().Sub(start)

	l.sink.Publish(report)
	return report
}

func (l *ChargeLoop) State() domain.ControllerState {
	return l.control.State()
}

func (l *ChargeLoop) cycle(ctx context.Context) domain.CycleReport {

	// 1. read meter
	reading, err := l.fetch(ctx)
	if err != nil {
		l.logger.Warn("charge_loop: meter unavailable, skipping cycle", zap.Error(err))
		return domain.CycleReport{Outcome: domain.CycleMeterUnavailable, Err: err}
	}

	// 2. first reading is only a baseline
	if l.previous == nil {
		l.logger.Debug("charge_loop: baseline reading", zap.Stringer("reading", reading))
		l.previous = &reading
		return domain.CycleReport{Outcome: domain.CycleBaseline, Reading: &reading}
	}

	// 3. estimate net power
	sample, err := l.estimator.Compute(*l.previous, reading)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNonMonotonic):
			l.logger.Warn("charge_loop: meter counters went back, resync", zap.Error(err))
			l.previous = &reading
			return domain.CycleReport{Outcome: domain.CycleResync, Reading: &reading, Err: err}
		case errors.Is(err, domain.ErrIntervalTooLong):
			// a stale baseline only gets older, start over from this reading
			l.logger.Warn("charge_loop: baseline too old, resync", zap.Error(err))
			l.previous = &reading
			return domain.CycleReport{Outcome: domain.CycleResync, Reading: &reading, Err: err}
		}
		l.logger.Info("charge_loop: rate skipped", zap.Error(err))
		return domain.CycleReport{Outcome: domain.CycleRateSkipped, Reading: &reading, Err: err}
	}
	l.previous = &reading

	// 4. decide
	decision := l.control.Decide(sample)
	l.logger.Debug("charge_loop: decision",
		zap.Float64("watts", sample.AverageWatts),
		zap.Float64("available", decision.AvailableCurrentAmps),
		zap.Stringer("command", decision.Command))

	// 5. apply, commit on success only
	report := domain.CycleReport{Reading: &reading, Sample: &sample, Decision: &decision}
	if err := l.apply(ctx, decision.Command); err != nil {
		l.applyFailures++
		if l.cfg.FailureAlertCycles > 0 && l.applyFailures >= l.cfg.FailureAlertCycles {
			l.logger.Error("charge_loop: evse unreachable for too long", zap.Int("cycles", l.applyFailures), zap.Error(err))
		} else {
			l.logger.Warn("charge_loop: could not apply command", zap.Stringer("command", decision.Command), zap.Error(err))
		}
		report.Outcome = domain.CycleApplyFailed
		report.Err = err
		return report
	}
	l.applyFailures = 0
	l.control.Commit(decision)
	report.Outcome = domain.CycleApplied
	return report
}

func (l *ChargeLoop) fetch(ctx context.Context) (domain.MeterReading, error) {
	var reading domain.MeterReading
	err := retry.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.MeterTimeout)
		defer cancel()
		r, err := l.meter.Fetch(callCtx)
		if err != nil {
			return err
		}
		reading = r
		return nil
	}, l.retryOptions(ctx, l.cfg.MeterAttempts, "meter fetch")...)
	return reading, err
}

func (l *ChargeLoop) apply(ctx context.Context, cmd domain.EvseCommand) error {
	return retry.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.EvseTimeout)
		defer cancel()
		return l.evse.Apply(callCtx, cmd)
	}, append(l.retryOptions(ctx, l.cfg.EvseAttempts, "evse apply"),
		retry.RetryIf(func(err error) bool {
			return !domain.IsRejected(err)
		}))...)
}

func (l *ChargeLoop) retryOptions(ctx context.Context, attempts uint, op string) []retry.Option {
	if attempts < 1 {
		attempts = 1
	}
	return []retry.Option{
		retry.Attempts(attempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.Delay(l.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Debug("charge_loop: retry", zap.String("op", op), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	}
}
