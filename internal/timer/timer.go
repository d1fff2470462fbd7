// Package timer is the external clock: wall-clock ticks in the daemon,
// manually advanced time in tests.
package timer

import (
	"context"
	"sync"
	"time"
)

// Service reports the current time and delivers periodic wakeups.
type Service interface {
	Now() time.Time
	Subscribe(period time.Duration) Subscription
}

// Subscription delivers monotonically increasing timestamps. Like
// time.Ticker, slow readers miss ticks rather than queueing them.
type Subscription interface {
	C() <-chan time.Time
	Stop()
}

// Stepper waits for one external time step.
type Stepper interface {
	WaitStep(ctx context.Context) error
}

// StepFunc adapts a function to Stepper.
type StepFunc func(ctx context.Context) error

func (f StepFunc) WaitStep(ctx context.Context) error {
	return f(ctx)
}

// NewStepper waits on subscriptions of period from svc, one per call.
func NewStepper(svc Service, period time.Duration) Stepper {
	return StepFunc(func(ctx context.Context) error {
		sub := svc.Subscribe(period)
		defer sub.Stop()
		select {
		case <-sub.C():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// ============================================================================
// Wall clock
// ============================================================================

type Ticker struct{}

func (Ticker) Now() time.Time {
	return time.Now()
}

func (Ticker) Subscribe(period time.Duration) Subscription {
	return &tickerSubscription{t: time.NewTicker(period)}
}

type tickerSubscription struct {
	t *time.Ticker
}

func (s *tickerSubscription) C() <-chan time.Time { return s.t.C }
func (s *tickerSubscription) Stop()               { s.t.Stop() }

// ============================================================================
// Manual clock
// ============================================================================

// Manual only moves when told to.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	subs map[*manualSubscription]struct{}
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start, subs: make(map[*manualSubscription]struct{})}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Subscribe(period time.Duration) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &manualSubscription{
		clock:  m,
		period: period,
		next:   m.now.Add(period),
		ch:     make(chan time.Time, 1),
	}
	m.subs[sub] = struct{}{}
	return sub
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.AdvanceTo(m.Now().Add(d))
}

// AdvanceTo moves the clock to t and fires every subscription whose next
// wakeup has passed. Each subscription receives at most one tick per call.
func (m *Manual) AdvanceTo(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Before(m.now) {
		return
	}
	m.now = t
	for sub := range m.subs {
		if sub.next.After(t) {
			continue
		}
		for !sub.next.After(t) {
			sub.next = sub.next.Add(sub.period)
		}
		select {
		case sub.ch <- t:
		default:
		}
	}
}

type manualSubscription struct {
	clock  *Manual
	period time.Duration
	next   time.Time
	ch     chan time.Time
}

func (s *manualSubscription) C() <-chan time.Time { return s.ch }

func (s *manualSubscription) Stop() {
	s.clock.mu.Lock()
	defer s.clock.mu.Unlock()
	delete(s.clock.subs, s)
}
