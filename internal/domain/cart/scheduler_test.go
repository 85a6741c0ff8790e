package cart

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *batchRecorder) record(ids []string) {
	r.mu.Lock()
	r.batches = append(r.batches, ids)
	r.mu.Unlock()
}

func (r *batchRecorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func TestDebouncer_UnionOfTriggers(t *testing.T) {
	rec := &batchRecorder{}
	d := NewDebouncer(30*time.Millisecond, rec.record)

	d.Trigger("b")
	d.Trigger("a", "c")
	d.Trigger("b")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"a", "b", "c"}, batches[0])
	assert.Empty(t, d.Pending())
}

func TestDebouncer_Flush(t *testing.T) {
	rec := &batchRecorder{}
	d := NewDebouncer(time.Hour, rec.record)

	d.Trigger("x")
	assert.Equal(t, []string{"x"}, d.Pending())
	d.Flush()
	d.Flush()

	assert.Equal(t, [][]string{{"x"}}, rec.snapshot())
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	rec := &batchRecorder{}
	d := NewDebouncer(10*time.Millisecond, rec.record)

	d.Trigger("x")
	d.Stop()
	d.Trigger("y")
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, rec.snapshot())
}

func TestSweeper_StartStop(t *testing.T) {
	var calls atomic.Int32
	s := NewSweeper(5*time.Millisecond, func(context.Context) { calls.Add(1) })

	require.True(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)

	s.Stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())

	// restartable
	require.True(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}

func TestSweeper_ZeroIntervalNeverStarts(t *testing.T) {
	s := NewSweeper(0, func(context.Context) {})
	assert.False(t, s.Start(context.Background()))
	assert.False(t, s.Running())
}

func TestSweeper_ParentCancelStopsLoop(t *testing.T) {
	var calls atomic.Int32
	s := NewSweeper(5*time.Millisecond, func(context.Context) { calls.Add(1) })
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, s.Start(ctx))
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, after, calls.Load())
	s.Stop()
}
