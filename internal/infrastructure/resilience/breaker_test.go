package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errUpstream = errors.New("upstream failed")

func call(b *Breaker, success bool) error {
	_, err := Do(b, func() (string, error) {
		if success {
			return "ok", nil
		}
		return "", errUpstream
	})
	return err
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		advance       time.Duration
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				Timeout: time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 3
				},
			},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name: "success resets the consecutive count",
			settings: Settings{
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 2
				},
			},
			requests:      []bool{false, true, false},
			expectedState: StateClosed,
		},
		{
			name: "transitions to half-open after timeout",
			settings: Settings{
				Timeout: 10 * time.Second,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 2
				},
			},
			requests:      []bool{false, false},
			advance:       11 * time.Second,
			expectedState: StateHalfOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			tt.settings.Now = clock.Now
			breaker := New("test", tt.settings)

			for _, success := range tt.requests {
				_ = call(breaker, success)
			}
			clock.Advance(tt.advance)

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Now:         clock.Now,
	})

	require.ErrorIs(t, call(breaker, false), errUpstream)
	assert.ErrorIs(t, call(breaker, true), ErrCircuitOpen)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	breaker := New("test", Settings{
		MaxRequests: 2,
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
		Now: clock.Now,
	})

	_ = call(breaker, false)
	clock.Advance(2 * time.Second)

	require.NoError(t, call(breaker, true))
	assert.Equal(t, StateHalfOpen, breaker.State())
	require.NoError(t, call(breaker, true))
	assert.Equal(t, StateClosed, breaker.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Now:         clock.Now,
	})

	_ = call(breaker, false)
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = call(breaker, false)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{
		MaxRequests: 1,
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Now:         clock.Now,
	})
	_ = call(breaker, false)
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error)
	go func() {
		_, err := Do(breaker, func() (int, error) {
			<-release
			return 1, nil
		})
		done <- err
	}()

	require.Eventually(t, func() bool { return breaker.Counts().Requests == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, call(breaker, true), ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{Now: newFakeClock().Now})

	_ = call(breaker, true)
	_ = call(breaker, true)
	_ = call(breaker, false)

	counts := breaker.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Zero(t, counts.ConsecutiveSuccesses)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{Interval: time.Minute, Now: clock.Now})

	_ = call(breaker, false)
	require.Equal(t, uint32(1), breaker.Counts().TotalFailures)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, StateClosed, breaker.State())
	assert.Zero(t, breaker.Counts().TotalFailures)
}

func TestBreakerIsFailure(t *testing.T) {
	errNotFound := errors.New("not found")
	breaker := New("test", Settings{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, errNotFound) },
		Now:         newFakeClock().Now,
	})

	_, err := Do(breaker, func() (string, error) { return "", errNotFound })
	assert.ErrorIs(t, err, errNotFound)
	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().TotalSuccesses)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker := New("test", Settings{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Now:         newFakeClock().Now,
	})

	assert.Panics(t, func() {
		_, _ = Do(breaker, func() (int, error) { panic("boom") })
	})
	assert.Equal(t, StateOpen, breaker.State())
}

func TestSet(t *testing.T) {
	set := NewSet("fetch", Settings{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Now:         newFakeClock().Now,
	})

	a := set.Get("a.example")
	assert.Same(t, a, set.Get("a.example"))
	assert.Equal(t, "fetch:a.example", a.Name())

	_ = call(a, false)
	require.NoError(t, call(set.Get("b.example"), true))

	assert.Equal(t, map[string]State{
		"a.example": StateOpen,
		"b.example": StateClosed,
	}, set.States())
}
