// Package sched implements the engine's cooperative, single-threaded task
// runtime (spec.md §4.1): monadic composition, fork-join with aggregated
// errors, yield, and lifting external blocking work ("reproducible
// fibers") back into the task type.
//
// Tasks are plain functions; the scheduling token (Scheduler) travels on
// context.Context the way on-the-ground/effect_ive_go carries its effect
// handlers on ctx. fork_and_join spawns real goroutines to let independent
// subgraphs make progress concurrently, but every cycle-graph mutation
// (internal/cycledag) made during a run happens while holding the
// Scheduler's single token; cell state (internal/node) and the cell stores
// (internal/cellstore) are guarded by their own mutexes — see scriptweaver/internal/
// dag.Executor's mutex-guarded state-then-unlock-then-work pattern, which
// this token generalizes from "one mutex per executor" to "one token per
// engine."
package sched

import (
	"context"

	"go.uber.org/multierr"
)

// Task is a suspendable computation that produces a T or fails.
//
// Suspension points are: a nested Task that hasn't resolved yet, Yield,
// OfReproducibleFiber, or waiting on another task already computing the
// same cell (internal/node's one-shot barrier). There is no preemption.
type Task[T any] func(ctx context.Context) (T, error)

// Return lifts a plain value into a Task that completes immediately.
func Return[T any](v T) Task[T] {
	return func(context.Context) (T, error) { return v, nil }
}

// Fail lifts an error into a Task that fails immediately.
func Fail[T any](err error) Task[T] {
	return func(context.Context) (T, error) {
		var zero T
		return zero, err
	}
}

// Bind sequences t, then feeds its result into f to produce the next task.
// If t fails, f is never invoked and the error propagates.
func Bind[A, B any](t Task[A], f func(A) Task[B]) Task[B] {
	return func(ctx context.Context) (B, error) {
		a, err := t(ctx)
		if err != nil {
			var zero B
			return zero, err
		}
		return f(a)(ctx)
	}
}

// Map transforms t's result with f, leaving errors untouched.
func Map[A, B any](t Task[A], f func(A) B) Task[B] {
	return func(ctx context.Context) (B, error) {
		a, err := t(ctx)
		if err != nil {
			var zero B
			return zero, err
		}
		return f(a), nil
	}
}

// token is the engine's single scheduling permit: whichever goroutine
// holds it is the one allowed to mutate shared engine state right now.
// Fork-joined branches still run as real goroutines, but each one must
// hold the token for the duration of any engine-visible mutation, which is
// what keeps the engine's observable behavior single-threaded even though
// its implementation uses goroutines for concurrency within a run.
type token struct {
	permit chan struct{}
}

// Scheduler owns the single scheduling token for one engine.
type Scheduler struct {
	tok *token
}

// NewScheduler returns a Scheduler with its token available.
func NewScheduler() *Scheduler {
	t := &token{permit: make(chan struct{}, 1)}
	t.permit <- struct{}{}
	return &Scheduler{tok: t}
}

// Acquire blocks until the token is available or ctx is done.
func (s *Scheduler) Acquire(ctx context.Context) error {
	select {
	case <-s.tok.permit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the token. It must only be called by whoever last
// successfully called Acquire.
func (s *Scheduler) Release() {
	s.tok.permit <- struct{}{}
}

type schedulerKey struct{}

// WithScheduler attaches s to ctx so nested Tasks can find it.
func WithScheduler(ctx context.Context, s *Scheduler) context.Context {
	return context.WithValue(ctx, schedulerKey{}, s)
}

// SchedulerFrom retrieves the Scheduler attached by WithScheduler, or nil.
func SchedulerFrom(ctx context.Context) *Scheduler {
	s, _ := ctx.Value(schedulerKey{}).(*Scheduler)
	return s
}

// Yield surrenders the scheduling token and immediately re-acquires it,
// giving any other goroutine blocked on Acquire a chance to run first. If
// ctx carries no Scheduler, Yield is a no-op (useful in tests that drive
// Tasks directly without an engine).
func Yield(ctx context.Context) error {
	s := SchedulerFrom(ctx)
	if s == nil {
		return nil
	}
	s.Release()
	return s.Acquire(ctx)
}

// OfReproducibleFiber lifts a lower-level cooperative computation k into a
// Task. "Reproducible" means k does not observe side effects the engine
// cannot account for (spec.md §4.1) — e.g. it may block on I/O, but it
// must not itself read or write engine state. Because of that, the
// scheduling token is released for the duration of k and re-acquired
// before the result re-enters the task runtime, so k's blocking never
// holds up other ready tasks, and its result rejoins atomically.
func OfReproducibleFiber[R any](k func(ctx context.Context) (R, error)) Task[R] {
	return func(ctx context.Context) (R, error) {
		s := SchedulerFrom(ctx)
		if s == nil {
			return k(ctx)
		}
		s.Release()
		defer func() {
			// Re-acquire even if ctx is already done so the caller observes
			// a consistent token state; Acquire's own ctx.Done() path still
			// lets a cancelled context return promptly elsewhere.
			_ = s.Acquire(context.Background())
		}()
		return k(ctx)
	}
}

// ForkAndJoin spawns a and b concurrently and waits for both to settle
// before returning, regardless of whether one of them fails — the join
// always waits for both children (spec.md §4.1). Errors from either side
// are aggregated with multierr so collect_errors sees both.
func ForkAndJoin[A, B any](ctx context.Context, a Task[A], b Task[B]) (A, B, error) {
	var av A
	var bv B
	var aerr, berr error

	done := make(chan struct{}, 2)
	go func() {
		av, aerr = a(ctx)
		done <- struct{}{}
	}()
	go func() {
		bv, berr = b(ctx)
		done <- struct{}{}
	}()
	<-done
	<-done

	return av, bv, multierr.Append(aerr, berr)
}

// ForkAndJoinUnit is ForkAndJoin for tasks whose values don't matter.
func ForkAndJoinUnit(ctx context.Context, a, b Task[struct{}]) error {
	_, _, err := ForkAndJoin(ctx, a, b)
	return err
}

// CollectErrors runs f and returns its value alongside the full set of
// errors raised by it and any concurrent children it forked, preserving
// each one (spec.md §4.1, §7). Since ForkAndJoin already aggregates with
// multierr, CollectErrors is mostly a naming boundary for callers who want
// to reason about "every error raised in this scope" as a single value;
// Errors unpacks that value back into a slice.
func CollectErrors[T any](ctx context.Context, f Task[T]) (T, error) {
	return f(ctx)
}

// Errors decomposes an error potentially built by multiple ForkAndJoin
// aggregations into its individual causes, in the order they were
// combined. A nil error yields an empty, non-nil slice.
func Errors(err error) []error {
	if err == nil {
		return []error{}
	}
	return multierr.Errors(err)
}
