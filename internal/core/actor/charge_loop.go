package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/service"
	. "github.com/berfenger/surplus2evse/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ChargeLoopActor owns the ChargeLoop and runs one cycle per interval.
// A cycle runs off the mailbox; the next tick is only scheduled once it
// reports back, so cycles never overlap.
type ChargeLoopActor struct {
	ActorWithStates
	scheduler *scheduler.TimerScheduler
	stash     *Stash
	loop      *service.ChargeLoop
	interval  time.Duration
	clock     clock.Clock

	runCtx     context.Context
	cancelRun  context.CancelFunc
	cancelTick scheduler.CancelFunc

	// snapshot served to status requests
	lastReport *domain.CycleReport
	controller domain.ControllerState
	evseStatus *domain.EvseStatus
	nextCycle  time.Time

	logger *zap.Logger
}

type chargeLoopTick struct {
}

type syncDone struct {
	status     *domain.EvseStatus
	controller domain.ControllerState
	err        error
}

type cycleDone struct {
	report  domain.CycleReport
	started time.Time
	err     error
}

func NewChargeLoopActor(loop *service.ChargeLoop, interval time.Duration, clk clock.Clock, logger *zap.Logger) *ChargeLoopActor {
	act := &ChargeLoopActor{
		loop:     loop,
		interval: interval,
		clock:    clk,
		stash:    &Stash{},
		logger:   ActorLogger(domain.ACTOR_ID_CHARGE_LOOP, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(CLStartingState{
		actor: act,
	})
	return act
}

func (state *ChargeLoopActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug(fmt.Sprintf("charge_loop@%s: ActorHealthRequest", state.StateName()))
		ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGE_LOOP,
			Healthy: true,
			State:   state.StateName(),
		})
	case domain.GetChargeStatusRequest:
		ForRequest(msg).Respond(ctx, state.statusResponse())
	case *actor.Stopping, *actor.Restarting:
		state.logger.Debug(fmt.Sprintf("charge_loop@%s: %T", state.StateName(), msg))
		state.stop()
	default:
		state.Behavior.Receive(ctx)
	}
}

// Starting state

type CLStartingState struct {
	ActorState
	actor *ChargeLoopActor
}

func (state CLStartingState) Name() string {
	return "starting"
}

func (state CLStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("charge_loop@starting started")

		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.runCtx, state.actor.cancelRun = context.WithCancel(context.Background())

		state.actor.Become(CLSyncingState{
			actor: state.actor,
		}.OnEnterAction(ctx))
	default:
		state.actor.logger.Debug("charge_loop@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Syncing state: read the EVSE once before the first cycle

type CLSyncingState struct {
	ActorState
	actor *ChargeLoopActor
}

func (state CLSyncingState) Name() string {
	return "syncing"
}

func (state CLSyncingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case syncDone:
		if msg.err != nil {
			state.actor.logger.Warn("charge_loop@syncing: evse status unavailable, starting off", zap.Error(msg.err))
		} else {
			state.actor.logger.Info("charge_loop@syncing: evse status",
				zap.String("state", msg.status.State), zap.Bool("enabled", msg.status.Enabled),
				zap.Float64("current", msg.status.ChargeCurrentAmps))
			state.actor.evseStatus = msg.status
		}
		state.actor.controller = msg.controller

		// first cycle right away, it only records the baseline
		state.actor.Become(CLIdleState{
			actor: state.actor,
		})
		state.actor.scheduleTick(ctx, 0)
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("charge_loop@syncing: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CLSyncingState) OnEnterAction(ctx actor.Context) CLSyncingState {
	loop := state.actor.loop
	runCtx := state.actor.runCtx
	NewBackgroundTaskNoError(ctx, func() *syncDone {
		status, err := loop.Sync(runCtx)
		return &syncDone{status: status, controller: loop.State(), err: err}
	}).Recover(func(err error) syncDone {
		return syncDone{controller: loop.State(), err: err}
	}).PipeToAsync(ctx.Self())
	return state
}

// Idle state: waiting for the next tick

type CLIdleState struct {
	ActorState
	actor *ChargeLoopActor
}

func (state CLIdleState) Name() string {
	return "idle"
}

func (state CLIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case chargeLoopTick:
		state.actor.logger.Debug("charge_loop@idle chargeLoopTick")
		state.actor.Become(CLCyclingState{
			actor: state.actor,
		}.OnEnterAction(ctx))
	default:
		state.actor.logger.Debug("charge_loop@idle: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Cycling state: a cycle is running in the background

type CLCyclingState struct {
	ActorState
	actor *ChargeLoopActor
}

func (state CLCyclingState) Name() string {
	return "cycling"
}

func (state CLCyclingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case cycleDone:
		if msg.err != nil {
			state.actor.logger.Error("charge_loop@cycling: cycle aborted", zap.Error(msg.err))
		} else {
			report := msg.report
			state.actor.lastReport = &report
			state.actor.controller = report.State
			state.actor.logger.Debug("charge_loop@cycling: cycle done",
				zap.String("outcome", string(report.Outcome)), zap.Duration("took", report.Duration))
		}

		// an overrun delays the next wake, never overlaps
		elapsed := state.actor.clock.Now().Sub(msg.started)
		next := state.actor.interval - elapsed
		if next < 0 {
			state.actor.logger.Warn("charge_loop@cycling: cycle overran the interval", zap.Duration("elapsed", elapsed))
			next = 0
		}
		state.actor.Become(CLIdleState{
			actor: state.actor,
		})
		state.actor.scheduleTick(ctx, next)
	case chargeLoopTick:
		state.actor.logger.Debug("charge_loop@cycling: tick while cycling, ignored")
	default:
		state.actor.logger.Debug("charge_loop@cycling: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state CLCyclingState) OnEnterAction(ctx actor.Context) CLCyclingState {
	loop := state.actor.loop
	runCtx := state.actor.runCtx
	started := state.actor.clock.Now()
	NewBackgroundTaskNoError(ctx, func() *cycleDone {
		report := loop.RunCycle(runCtx)
		return &cycleDone{report: report, started: started}
	}).Recover(func(err error) cycleDone {
		return cycleDone{started: started, err: err}
	}).PipeToAsync(ctx.Self())
	return state
}

// Other actor function helpers

func (state *ChargeLoopActor) scheduleTick(ctx actor.Context, delay time.Duration) {
	state.nextCycle = state.clock.Now().Add(delay)
	if delay <= 0 {
		ctx.Send(ctx.Self(), chargeLoopTick{})
		return
	}
	state.cancelTick = state.scheduler.RequestOnce(delay, ctx.Self(), chargeLoopTick{})
}

func (state *ChargeLoopActor) statusResponse() domain.GetChargeStatusResponse {
	return domain.GetChargeStatusResponse{
		ActorState: state.StateName(),
		Controller: state.controller,
		LastReport: state.lastReport,
		Evse:       state.evseStatus,
		NextCycle:  state.nextCycle,
	}
}

func (state *ChargeLoopActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
	}
	// aborts the in-flight call, the EVSE keeps its last setpoint
	if state.cancelRun != nil {
		state.cancelRun()
	}
}
