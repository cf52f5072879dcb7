package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote failed")

func testConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	return cfg
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var mu sync.Mutex
	var transitions []State
	cfg := testConfig("gemini")
	cfg.OnStateChange = func(name string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "gemini", name)
		transitions = append(transitions, to)
	}
	cb, err := New(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()

	calls := 0
	fail := func(context.Context) error { calls++; return errRemote }

	assert.ErrorIs(t, cb.Execute(ctx, fail), errRemote)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errRemote)
	assert.Equal(t, StateOpen, cb.GetState())

	err = cb.Execute(ctx, fail)
	assert.ErrorIs(t, err, ErrOpen)
	assert.True(t, IsOpenError(err))
	assert.Equal(t, 2, calls)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestCanceledCallsDoNotTrip(t *testing.T) {
	cb, err := New(testConfig("fetch"), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCallReturnsValue(t *testing.T) {
	cb, err := New(testConfig("call"), nil)
	require.NoError(t, err)

	got, err := Call(context.Background(), cb, func(context.Context) (string, error) { return "tip", nil })
	require.NoError(t, err)
	assert.Equal(t, "tip", got)

	got, err = Call(context.Background(), cb, func(context.Context) (string, error) { return "partial", errRemote })
	assert.ErrorIs(t, err, errRemote)
	assert.Empty(t, got)
}

func TestManagerReusesBreakers(t *testing.T) {
	m := NewManager(testConfig(""), nil)

	a, err := m.Get("files.example")
	require.NoError(t, err)
	b, err := m.Get("files.example")
	require.NoError(t, err)
	c, err := m.Get("cdn.example")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "cdn.example", c.Name())
	assert.Len(t, m.Health(), 2)
}

func TestStateGauge(t *testing.T) {
	assert.Equal(t, 0.0, StateClosed.Gauge())
	assert.Equal(t, 1.0, StateOpen.Gauge())
	assert.Equal(t, 2.0, StateHalfOpen.Gauge())
}
