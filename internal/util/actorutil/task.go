package actorutil

import (
	"errors"
	"fmt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

// SafeBackgroundTask runs a blocking function and delivers its result,
// or the recovered error, as a message.
type SafeBackgroundTask[T any] struct {
	ctx     actor.Context
	fn      func() (*T, error)
	onError func(error)
	recover func(error) T
}

func NewBackgroundTask[T any](ctx actor.Context, fn func() (*T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		ctx: ctx,
		fn:  fn,
	}
}

func NewBackgroundTaskNoError[T any](ctx actor.Context, fn func() *T) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		ctx: ctx,
		fn: func() (*T, error) {
			return fn(), nil
		},
	}
}

func (t *SafeBackgroundTask[T]) OnError(fn func(error)) *SafeBackgroundTask[T] {
	t.onError = fn
	return t
}

func (t *SafeBackgroundTask[T]) Recover(fn func(error) T) *SafeBackgroundTask[T] {
	t.recover = fn
	return t
}

// PipeTo runs the task on the caller goroutine and sends the result to pid.
func (t *SafeBackgroundTask[T]) PipeTo(pid *actor.PID) {
	t.run(func(value T) {
		t.ctx.Send(pid, value)
	})
}

// PipeToAsync runs the task on its own goroutine. The actor keeps
// processing messages meanwhile, the result arrives as a new message.
func (t *SafeBackgroundTask[T]) PipeToAsync(pid *actor.PID) {
	root := t.ctx.ActorSystem().Root
	go t.run(func(value T) {
		root.Send(pid, value)
	})
}

func (t *SafeBackgroundTask[T]) run(onSuccess func(T)) {
	bg := io.FlatMap(io.Eval(t.safeFn), func(a *T) io.IO[T] {
		if a == nil {
			return io.Fail[T](errors.New("result is nil"))
		}
		return io.Lift(*a)
	})
	result := io.RunSync(bg)
	if result.Error != nil {
		if t.recover != nil {
			onSuccess(t.recover(result.Error))
		} else if t.onError != nil {
			t.onError(result.Error)
		}
		return
	}
	onSuccess(result.Value)
}

func (t *SafeBackgroundTask[T]) safeFn() (value *T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("background task panic: %v", r)
		}
	}()
	return t.fn()
}
