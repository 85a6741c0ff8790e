package cart

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Debouncer collects ids and calls fn once with their union after delay has
// passed without a new Trigger.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func(ids []string)
	pending map[string]struct{}
	timer   *time.Timer
	gen     uint64
	stopped bool
}

func NewDebouncer(delay time.Duration, fn func(ids []string)) *Debouncer {
	return &Debouncer{
		delay:   delay,
		fn:      fn,
		pending: make(map[string]struct{}),
	}
}

func (d *Debouncer) Trigger(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	for _, id := range ids {
		d.pending[id] = struct{}{}
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Flush runs the pending batch now on the calling goroutine.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	ids := d.drainLocked()
	d.mu.Unlock()

	if len(ids) > 0 {
		d.fn(ids)
	}
}

// Stop drops anything pending and ignores later triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	clear(d.pending)
}

// Pending returns the ids waiting for the next batch.
func (d *Debouncer) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.pending))
	for id := range d.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.stopped {
		// superseded by a later Trigger, Flush or Stop
		d.mu.Unlock()
		return
	}
	d.timer = nil
	ids := d.drainLocked()
	d.mu.Unlock()

	if len(ids) > 0 {
		d.fn(ids)
	}
}

func (d *Debouncer) drainLocked() []string {
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	clear(d.pending)
	return ids
}

// Sweeper calls fn every interval until stopped.
type Sweeper struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func(ctx context.Context)
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSweeper(interval time.Duration, fn func(ctx context.Context)) *Sweeper {
	return &Sweeper{interval: interval, fn: fn}
}

// Start launches the loop. It returns false if it is already running or
// the interval is not positive.
func (s *Sweeper) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.interval <= 0 {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				s.fn(ctx)
			}
		}
	}()
	return true
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
