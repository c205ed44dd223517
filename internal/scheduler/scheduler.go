package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the scheduler's position in its cycle.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateFetchingWithResumePending
	StateScheduled
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateFetchingWithResumePending:
		return "fetching_resume_pending"
	case StateScheduled:
		return "scheduled"
	default:
		return "idle"
	}
}

// CycleFunc runs one fetch cycle. It always runs to completion.
type CycleFunc func(ctx context.Context)

// Options configures a Scheduler.
type Options struct {
	// Interval between cycles. Values below MinInterval disable the timer.
	Interval    time.Duration
	MinInterval time.Duration
	Logger      *slog.Logger
}

// Scheduler runs at most one cycle at a time. A trigger during a running
// cycle is coalesced into a single follow-up cycle. All state is guarded by
// one mutex.
type Scheduler struct {
	cycle       CycleFunc
	interval    time.Duration
	minInterval time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	state   State
	enabled bool
	stopped bool
	timer   *time.Timer
	timerID uint64
	wg      sync.WaitGroup
}

// New constructs an enabled, idle scheduler. Cycles start only on Trigger.
func New(cycle CycleFunc, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		cycle:       cycle,
		interval:    opts.Interval,
		minInterval: opts.MinInterval,
		logger:      opts.Logger,
		enabled:     true,
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Enabled reports whether automatic cycles are allowed.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// PollingEnabled reports whether the interval arms a timer after each cycle.
func (s *Scheduler) PollingEnabled() bool {
	return s.interval > 0 && s.interval >= s.minInterval
}

// Trigger requests a cycle. An armed timer is cancelled and a cycle starts
// immediately; if a cycle is already running the request is remembered and
// served once it completes. Triggers while disabled are ignored.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.stopped {
		return
	}
	switch s.state {
	case StateFetching:
		s.state = StateFetchingWithResumePending
	case StateFetchingWithResumePending:
	default:
		s.stopTimerLocked()
		s.startLocked()
	}
}

// Disable clears any armed timer and prevents future cycles. A running cycle
// finishes but is not followed by another.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.stopTimerLocked()
	switch s.state {
	case StateScheduled:
		s.state = StateIdle
	case StateFetchingWithResumePending:
		s.state = StateFetching
	}
}

// Enable re-allows cycles and triggers one immediately.
func (s *Scheduler) Enable() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	s.Trigger()
}

// Stop disables the scheduler and waits for a running cycle to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.enabled = false
	s.stopTimerLocked()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) startLocked() {
	s.state = StateFetching
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		s.cycle(context.Background())

		s.mu.Lock()
		if s.state == StateFetchingWithResumePending && s.enabled && !s.stopped {
			s.state = StateFetching
			s.mu.Unlock()
			s.logger.Debug("resuming coalesced trigger")
			continue
		}
		if s.enabled && !s.stopped && s.PollingEnabled() {
			s.state = StateScheduled
			s.timerID++
			id := s.timerID
			s.timer = time.AfterFunc(s.interval, func() { s.fire(id) })
		} else {
			s.state = StateIdle
		}
		s.mu.Unlock()
		return
	}
}

func (s *Scheduler) fire(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.timerID || s.state != StateScheduled || !s.enabled || s.stopped {
		return
	}
	s.timer = nil
	s.startLocked()
}

func (s *Scheduler) stopTimerLocked() {
	s.timerID++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
