// Package tasks runs a fixed set of tasks concurrently and joins on all of them.
package tasks

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Error is a task failure tagged with the task's name.
type Error struct {
	Task string
	Err  error
}

func (me *Error) Error() string {
	return fmt.Sprintf("%s: %v", me.Task, me.Err)
}

func (me *Error) Unwrap() error {
	return me.Err
}

// Run starts every task and returns once all of them have finished. A failing task doesn't cancel
// ctx for its siblings. The result is the first failure to occur, as an *Error, or nil.
func Run(ctx context.Context, ts ...Task) error {
	var eg errgroup.Group
	return run(ctx, &eg, ts)
}

// RunFailFast is like Run, but the first failure cancels the ctx passed to the remaining tasks. It
// still waits for all of them to return.
func RunFailFast(ctx context.Context, ts ...Task) error {
	eg, ctx := errgroup.WithContext(ctx)
	return run(ctx, eg, ts)
}

func run(ctx context.Context, eg *errgroup.Group, ts []Task) error {
	for _, t := range ts {
		eg.Go(func() error {
			err := t.Run(ctx)
			if err != nil {
				return &Error{Task: t.Name, Err: err}
			}
			return nil
		})
	}
	return eg.Wait()
}
