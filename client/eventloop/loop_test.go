package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	loop := New(clock, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop, clock
}

func TestTasksRunInOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, loop.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, loop.Do(func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostFromLoopDoesNotDeadlock(t *testing.T) {
	loop, _ := startLoop(t)

	ran := make(chan struct{})
	require.NoError(t, loop.Do(func() {
		for i := 0; i < 1000; i++ {
			loop.Post(func() {})
		}
		loop.Post(func() { close(ran) })
	}))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestTimerFiresOnLoop(t *testing.T) {
	loop, clock := startLoop(t)

	fired := 0
	require.NoError(t, loop.Do(func() {
		loop.AfterFunc(time.Second, func() { fired++ })
	}))

	clock.Advance(999 * time.Millisecond)
	require.NoError(t, loop.Do(func() {}))
	assert.Equal(t, 0, fired)

	clock.Advance(time.Millisecond)
	require.NoError(t, loop.Do(func() {}))
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, clock.Pending())
}

func TestStoppedTimerDiscardsQueuedFiring(t *testing.T) {
	loop, clock := startLoop(t)

	var timer *Timer
	fired := false
	require.NoError(t, loop.Do(func() {
		timer = loop.AfterFunc(time.Second, func() { fired = true })
	}))

	// Hold the loop so the firing is queued behind a task that stops the timer.
	release := make(chan struct{})
	loop.Post(func() { <-release })
	stopped := make(chan bool, 1)
	loop.Post(func() { stopped <- timer.Stop() })
	clock.Advance(time.Second)
	close(release)

	require.NoError(t, loop.Do(func() {}))
	assert.False(t, fired)
	assert.True(t, <-stopped)
}

func TestTimerStopReportsState(t *testing.T) {
	loop, clock := startLoop(t)

	require.NoError(t, loop.Do(func() {
		timer := loop.AfterFunc(time.Second, func() {})
		assert.True(t, timer.Stop())
		assert.False(t, timer.Stop())
	}))
	assert.Equal(t, 0, clock.Pending())

	var nilTimer *Timer
	assert.False(t, nilTimer.Stop())
}

func TestPanicIsRecovered(t *testing.T) {
	loop, _ := startLoop(t)

	loop.Post(func() { panic("boom") })
	ok := false
	require.NoError(t, loop.Do(func() { ok = true }))
	assert.True(t, ok)
}

func TestPostAfterStop(t *testing.T) {
	loop, _ := startLoop(t)
	loop.Stop()
	<-loop.Done()

	assert.False(t, loop.Post(func() {}))
	assert.ErrorIs(t, loop.Do(func() {}), ErrStopped)
}

func TestFakeClockOrdersByDeadline(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	var order []string
	clock.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	clock.AfterFunc(time.Second, func() { order = append(order, "a") })
	clock.AfterFunc(2*time.Second, func() { order = append(order, "c") })

	clock.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, time.Unix(3, 0), clock.Now())
}
