package worker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// deadlineLead is how long before the expected response time the synthetic
// PROCESSING answer goes out.
const deadlineLead = time.Minute

var hoursDuration = regexp.MustCompile(`^PT(\d+)H$`)

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// DeadlineFunc runs when a deadline is reached.
type DeadlineFunc func(ctx context.Context)

// DeadlineScheduler keeps one in-memory timer per issue. Timers do not
// survive a restart.
type DeadlineScheduler struct {
	mu        sync.Mutex
	timers    map[string]*deadline
	running   map[uint64]context.CancelFunc
	nextGen   uint64
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
	logger    *zap.Logger
}

type deadline struct {
	gen    uint64
	at     time.Time
	timer  Timer
	cancel context.CancelFunc
}

// Option customises a DeadlineScheduler.
type Option func(*DeadlineScheduler)

// WithClock replaces the wall clock and timer source.
func WithClock(now func() time.Time, afterFunc func(time.Duration, func()) Timer) Option {
	return func(s *DeadlineScheduler) {
		s.now = now
		s.afterFunc = afterFunc
	}
}

func NewDeadlineScheduler(logger *zap.Logger, opts ...Option) *DeadlineScheduler {
	s := &DeadlineScheduler{
		timers:  make(map[string]*deadline),
		running: make(map[uint64]context.CancelFunc),
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseResponseDuration reads an hours-only ISO-8601 duration such as PT2H.
func ParseResponseDuration(expr string) (time.Duration, error) {
	match := hoursDuration.FindStringSubmatch(expr)
	if match == nil {
		return 0, fmt.Errorf("unsupported response duration %q", expr)
	}
	hours, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("response duration %q: %w", expr, err)
	}
	return time.Duration(hours) * time.Hour, nil
}

// FireTime is when the deadline for an issue created at createdAt falls due.
func FireTime(createdAt time.Time, responseTime time.Duration) time.Time {
	return createdAt.Add(responseTime - deadlineLead)
}

// Arm schedules fn for ref, replacing any pending timer for the same ref.
// A fire time already in the past fires immediately.
func (s *DeadlineScheduler) Arm(ref string, createdAt time.Time, duration string, fn DeadlineFunc) (time.Time, error) {
	responseTime, err := ParseResponseDuration(duration)
	if err != nil {
		return time.Time{}, err
	}
	at := FireTime(createdAt, responseTime)
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.timers[ref]; ok {
		existing.stop()
	}
	s.nextGen++
	gen := s.nextGen
	ctx, cancel := context.WithCancel(context.Background())
	entry := &deadline{gen: gen, at: at, cancel: cancel}
	entry.timer = s.afterFunc(delay, func() { s.fire(ctx, ref, gen, fn) })
	s.timers[ref] = entry

	s.logger.Debug("deadline armed", zap.String("transaction_id", ref), zap.Time("fire_at", at))
	return at, nil
}

// Cancel drops the pending timer for ref and reports whether one existed.
func (s *DeadlineScheduler) Cancel(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.timers[ref]
	if !ok {
		return false
	}
	entry.stop()
	delete(s.timers, ref)
	s.logger.Debug("deadline canceled", zap.String("transaction_id", ref))
	return true
}

// Pending returns the fire time of the timer armed for ref.
func (s *DeadlineScheduler) Pending(ref string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.timers[ref]
	if !ok {
		return time.Time{}, false
	}
	return entry.at, true
}

// Len is the number of armed timers.
func (s *DeadlineScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown stops every pending timer and cancels the context of callbacks
// still running.
func (s *DeadlineScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, entry := range s.timers {
		entry.stop()
		delete(s.timers, ref)
	}
	for gen, cancel := range s.running {
		cancel()
		delete(s.running, gen)
	}
	s.logger.Info("deadline scheduler stopped")
}

func (s *DeadlineScheduler) fire(ctx context.Context, ref string, gen uint64, fn DeadlineFunc) {
	s.mu.Lock()
	entry, ok := s.timers[ref]
	if !ok || entry.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, ref)
	s.running[gen] = entry.cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, gen)
		s.mu.Unlock()
		entry.cancel()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("deadline callback panicked", zap.String("transaction_id", ref), zap.Any("panic", r))
		}
	}()
	s.logger.Info("deadline reached", zap.String("transaction_id", ref))
	fn(ctx)
}

func (d *deadline) stop() {
	d.timer.Stop()
	d.cancel()
}
