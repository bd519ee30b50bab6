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

func newClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

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

var errSpawn = errors.New("exec: permission denied")

func fail() error { return errSpawn }
func ok() error   { return nil }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		trip          uint32
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{"stays closed on successes", 3, []bool{true, true, true}, StateClosed},
		{"opens after consecutive failures", 3, []bool{false, false, false}, StateOpen},
		{"success resets the streak", 3, []bool{false, false, true, false, false}, StateClosed},
		{"single failure trips at one", 1, []bool{false}, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			breaker := New("spawn", Settings{
				Timeout:     time.Minute,
				ReadyToTrip: ConsecutiveFailures(tt.trip),
				Now:         clock.Now,
			})

			for _, success := range tt.requests {
				if success {
					require.NoError(t, breaker.Do(ok))
				} else {
					require.ErrorIs(t, breaker.Do(fail), errSpawn)
				}
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("spawn", Settings{Timeout: time.Minute})

	require.NoError(t, breaker.Do(ok))
	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)

	assert.Error(t, breaker.Do(fail))
	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestOpenBreakerRefusesWithRetryHint(t *testing.T) {
	clock := newClock()
	breaker := New("app-server", Settings{
		Timeout:     30 * time.Second,
		ReadyToTrip: ConsecutiveFailures(2),
		Now:         clock.Now,
	})
	_ = breaker.Do(fail)
	_ = breaker.Do(fail)
	require.Equal(t, StateOpen, breaker.State())

	clock.Advance(10 * time.Second)
	called := false
	err := breaker.Do(func() error { called = true; return nil })

	assert.False(t, called)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	var open *OpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "app-server", open.Name)
	assert.Equal(t, 20*time.Second, open.RetryAfter)
	assert.ErrorIs(t, open.LastErr, errSpawn)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestBreakerHalfOpenState(t *testing.T) {
	clock := newClock()
	breaker := New("spawn", Settings{
		MaxRequests: 2,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: ConsecutiveFailures(2),
		Now:         clock.Now,
	})
	_ = breaker.Do(fail)
	_ = breaker.Do(fail)
	assert.Equal(t, StateOpen, breaker.State())

	clock.Advance(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	require.NoError(t, breaker.Do(ok))
	assert.Equal(t, StateHalfOpen, breaker.State())
	require.NoError(t, breaker.Do(ok))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := newClock()
	breaker := New("spawn", Settings{
		Timeout:     time.Second,
		ReadyToTrip: ConsecutiveFailures(1),
		Now:         clock.Now,
	})
	_ = breaker.Do(fail)
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	assert.ErrorIs(t, breaker.Do(fail), errSpawn)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestHalfOpenLimitsTrials(t *testing.T) {
	clock := newClock()
	breaker := New("spawn", Settings{
		MaxRequests: 1,
		Timeout:     time.Second,
		ReadyToTrip: ConsecutiveFailures(1),
		Now:         clock.Now,
	})
	_ = breaker.Do(fail)
	clock.Advance(2 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- breaker.Do(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	assert.ErrorIs(t, breaker.Do(ok), ErrTooManyRequests)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestIntervalClearsCounts(t *testing.T) {
	clock := newClock()
	breaker := New("spawn", Settings{
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: ConsecutiveFailures(2),
		Now:         clock.Now,
	})
	_ = breaker.Do(fail)
	clock.Advance(2 * time.Minute)
	_ = breaker.Do(fail)

	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
}

func TestPanicCountsAsFailure(t *testing.T) {
	breaker := New("spawn", Settings{ReadyToTrip: ConsecutiveFailures(1)})
	assert.Panics(t, func() {
		_ = breaker.Do(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string
	clock := newClock()

	breaker := New("spawn", Settings{
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: ConsecutiveFailures(2),
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
		Now: clock.Now,
	})

	_ = breaker.Do(fail)
	_ = breaker.Do(fail)
	clock.Advance(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())
	require.NoError(t, breaker.Do(ok))

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}
