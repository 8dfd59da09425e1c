package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRecoversFromPanicsAndErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	var observed []error

	loop := NewLoop(ctx, "test", time.Millisecond, time.Millisecond)
	loop.OnTick = func(_ string, _ time.Time, err error) {
		mu.Lock()
		observed = append(observed, err)
		mu.Unlock()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Start(func(context.Context) (time.Duration, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			switch n {
			case 1:
				panic("boom")
			case 2:
				return 0, errors.New("transient")
			case 4:
				cancel()
			}
			return 0, nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, calls)
	require.Len(t, observed, 4)
	assert.ErrorContains(t, observed[0], "panic: boom")
	assert.EqualError(t, observed[1], "transient")
	assert.NoError(t, observed[2])
}

func TestLoopHonoursReturnedDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := NewLoop(ctx, "delay", time.Hour, time.Hour)
	var stamps []time.Time
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Start(func(context.Context) (time.Duration, error) {
			stamps = append(stamps, time.Now())
			if len(stamps) == 3 {
				cancel()
			}
			return time.Millisecond, nil
		})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("returned delay was not used")
	}
	assert.Len(t, stamps, 3)
}

func TestLoopRejectsInvalidInterval(t *testing.T) {
	called := false
	NewLoop(context.Background(), "bad", 0, 0).Start(func(context.Context) (time.Duration, error) {
		called = true
		return 0, nil
	})
	assert.False(t, called)
}
