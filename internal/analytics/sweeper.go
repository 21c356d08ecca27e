package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/netmedic/netmedic/internal/observability"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

const (
	// DefaultIdleTimeout is how long an in-progress session may sit
	// without activity before the sweeper abandons it.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultSweepSchedule is the sweep cadence.
	DefaultSweepSchedule = "@every 5m"

	sweepRunTimeout = time.Minute
)

// Sweeper periodically abandons stale sessions so "in progress" always
// means someone is actually talking to the assistant.
type Sweeper struct {
	recorder *Recorder
	logger   *observability.Logger
	schedule cron.Schedule
	expr     string
	idleFor  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// SweeperOption configures the sweeper.
type SweeperOption func(*Sweeper)

// WithIdleTimeout overrides how long a session may idle before it is
// abandoned.
func WithIdleTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.idleFor = d
		}
	}
}

// WithSchedule overrides the sweep cadence with a cron expression or
// descriptor like "@every 10m".
func WithSchedule(expr string) SweeperOption {
	return func(s *Sweeper) {
		if expr != "" {
			s.expr = expr
		}
	}
}

// WithLogger configures the sweeper logger.
func WithLogger(logger *observability.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper builds a sweeper over the recorder. The schedule expression
// is validated here.
func NewSweeper(recorder *Recorder, opts ...SweeperOption) (*Sweeper, error) {
	s := &Sweeper{
		recorder: recorder,
		logger:   observability.NewLogger(observability.LogConfig{}),
		expr:     DefaultSweepSchedule,
		idleFor:  DefaultIdleTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	schedule, err := cronParser.Parse(s.expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", s.expr, err)
	}
	s.schedule = schedule
	return s, nil
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	for {
		now := s.now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepRunTimeout)
	defer cancel()
	swept, err := s.recorder.SweepStale(ctx, s.idleFor)
	if err != nil {
		s.logger.Warn(ctx, "session sweep failed", "error", err)
		return
	}
	if swept > 0 {
		s.logger.Info(ctx, "session sweep complete", "abandoned", swept)
	}
}
