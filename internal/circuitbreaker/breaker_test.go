package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func testConfig(trip uint32, timeout time.Duration) *Config {
	return &Config{
		Name:        "test",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= trip
		},
	}
}

func fail(context.Context) error { return errUpstream }
func ok(context.Context) error   { return nil }

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := New(testConfig(3, time.Second))
	for i := 0; i < 20; i++ {
		require.NoError(t, cb.Do(context.Background(), ok))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(testConfig(3, time.Minute))

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Do(context.Background(), fail), errUpstream)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Open breaker rejects without invoking the request.
	called := false
	err := cb.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cb := New(testConfig(3, time.Minute))

	_ = cb.Do(context.Background(), fail)
	_ = cb.Do(context.Background(), fail)
	require.NoError(t, cb.Do(context.Background(), ok))
	_ = cb.Do(context.Background(), fail)
	_ = cb.Do(context.Background(), fail)

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cb := New(testConfig(2, 20*time.Millisecond))

	_ = cb.Do(context.Background(), fail)
	_ = cb.Do(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Do(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig(2, 20*time.Millisecond))

	_ = cb.Do(context.Background(), fail)
	_ = cb.Do(context.Background(), fail)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	assert.ErrorIs(t, cb.Do(context.Background(), fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cfg := testConfig(1, 20*time.Millisecond)
	cfg.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}
	cb := New(cfg)

	_ = cb.Do(context.Background(), fail)
	time.Sleep(30 * time.Millisecond)
	_ = cb.Do(context.Background(), ok)

	assert.Equal(t, []string{"CLOSED>OPEN", "OPEN>HALF_OPEN", "HALF_OPEN>CLOSED"}, transitions)
}
