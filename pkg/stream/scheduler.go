// Package stream paces server-stream emissions for one call.
package stream

import (
	"context"
	"math/rand"
	"time"
)

// Plan describes one stream response: the items to emit and how to pace
// them. Delay applies between items, never before the first.
type Plan struct {
	Items       []map[string]any
	Delay       time.Duration
	Loop        bool
	RandomOrder bool
}

// EmitFunc sends one item to the client. An error stops the stream.
type EmitFunc func(item map[string]any) error

// Run emits the plan's items until the sequence ends, ctx is cancelled or
// emit fails. Cancellation is checked before every emit and during every
// sleep, so no item is sent after the client goes away. With Loop the
// sequence restarts when exhausted; with RandomOrder each pass uses a fresh
// permutation.
func Run(ctx context.Context, plan Plan, emit EmitFunc) error {
	if len(plan.Items) == 0 {
		return nil
	}

	first := true
	for {
		for _, idx := range passOrder(plan) {
			if !first {
				if err := sleep(ctx, plan.Delay); err != nil {
					return err
				}
			}
			first = false

			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(plan.Items[idx]); err != nil {
				return err
			}
		}
		if !plan.Loop {
			return nil
		}
	}
}

// Wait blocks for a unary response delay, honouring cancellation.
func Wait(ctx context.Context, delay time.Duration) error {
	return sleep(ctx, delay)
}

func passOrder(plan Plan) []int {
	if plan.RandomOrder {
		return rand.Perm(len(plan.Items))
	}
	order := make([]int, len(plan.Items))
	for i := range order {
		order[i] = i
	}
	return order
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
