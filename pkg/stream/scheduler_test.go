package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"seq": i}
	}
	return out
}

func TestRunEmitsInOrder(t *testing.T) {
	var got []int
	err := Run(context.Background(), Plan{Items: items(3)}, func(item map[string]any) error {
		got = append(got, item["seq"].(int))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestRunEmptyPlan(t *testing.T) {
	err := Run(context.Background(), Plan{}, func(map[string]any) error {
		t.Fatal("emit called for empty plan")
		return nil
	})
	assert.NoError(t, err)
}

func TestRunDelayBetweenItemsOnly(t *testing.T) {
	plan := Plan{Items: items(3), Delay: 30 * time.Millisecond}

	start := time.Now()
	var firstAt time.Duration
	count := 0
	err := Run(context.Background(), plan, func(map[string]any) error {
		if count == 0 {
			firstAt = time.Since(start)
		}
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Less(t, firstAt, 20*time.Millisecond, "first item must not wait")
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond, "two inter-item delays")
}

func TestRunCancellationStopsPromptly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	plan := Plan{Items: items(100), Delay: 10 * time.Millisecond, Loop: true}

	count := 0
	err := Run(ctx, plan, func(map[string]any) error {
		count++
		if count == 3 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, count, "no item emitted after cancellation")
}

func TestRunEmitErrorStops(t *testing.T) {
	boom := errors.New("send failed")
	count := 0
	err := Run(context.Background(), Plan{Items: items(5)}, func(map[string]any) error {
		count++
		if count == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, count)
}

func TestRunLoopRestarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var got []int
	err := Run(ctx, Plan{Items: items(2), Loop: true}, func(item map[string]any) error {
		got = append(got, item["seq"].(int))
		if len(got) == 5 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{0, 1, 0, 1, 0}, got)
}

func TestRunRandomOrderCoversAllItemsPerPass(t *testing.T) {
	seen := make(map[int]bool)
	err := Run(context.Background(), Plan{Items: items(10), RandomOrder: true}, func(item map[string]any) error {
		seq := item["seq"].(int)
		assert.False(t, seen[seq], "item %d emitted twice in one pass", seq)
		seen[seq] = true
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 10)
}

func TestWait(t *testing.T) {
	start := time.Now()
	require.NoError(t, Wait(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)

	assert.NoError(t, Wait(context.Background(), 0))
}
