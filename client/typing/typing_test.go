package typing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkx/client/eventloop"
	"talkx/protocol"
)

func startLoop(t *testing.T) (*eventloop.Loop, *eventloop.FakeClock) {
	t.Helper()
	clock := eventloop.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	loop := eventloop.New(clock, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop, clock
}

// advance moves the clock and waits for the fired callbacks to run.
func advance(t *testing.T, loop *eventloop.Loop, clock *eventloop.FakeClock, d time.Duration) {
	t.Helper()
	clock.Advance(d)
	require.NoError(t, loop.Do(func() {}))
}

func TestLocalEmitsOnceThenIdles(t *testing.T) {
	loop, clock := startLoop(t)
	var emitted []bool
	var local *Local
	require.NoError(t, loop.Do(func() {
		local = NewLocal(loop, 1500*time.Millisecond, func(v bool) { emitted = append(emitted, v) })
		local.InputChanged()
		local.InputChanged()
		local.InputChanged()
	}))
	assert.Equal(t, []bool{true}, emitted)

	advance(t, loop, clock, time.Second)
	require.NoError(t, loop.Do(func() { local.InputChanged() }))
	advance(t, loop, clock, time.Second)
	assert.Equal(t, []bool{true}, emitted, "keystroke restarts the idle timer")

	advance(t, loop, clock, 500*time.Millisecond)
	assert.Equal(t, []bool{true, false}, emitted)
	require.NoError(t, loop.Do(func() { assert.False(t, local.Typing()) }))
	assert.Equal(t, 0, clock.Pending())
}

func TestLocalSubmitStopsImmediately(t *testing.T) {
	loop, clock := startLoop(t)
	var emitted []bool
	var local *Local
	require.NoError(t, loop.Do(func() {
		local = NewLocal(loop, 0, func(v bool) { emitted = append(emitted, v) })
		local.InputChanged()
		local.Submitted()
		local.Submitted()
	}))
	assert.Equal(t, []bool{true, false}, emitted)
	assert.Equal(t, 0, clock.Pending())

	advance(t, loop, clock, DefaultIdle)
	assert.Equal(t, []bool{true, false}, emitted)
}

func TestLocalStopWhenIdleEmitsNothing(t *testing.T) {
	loop, _ := startLoop(t)
	var emitted []bool
	require.NoError(t, loop.Do(func() {
		local := NewLocal(loop, 0, func(v bool) { emitted = append(emitted, v) })
		local.Stop()
	}))
	assert.Empty(t, emitted)
}

func TestRemoteExpiry(t *testing.T) {
	loop, clock := startLoop(t)
	changes := 0
	var remote *Remote
	require.NoError(t, loop.Do(func() {
		remote = NewRemote(loop, 2*time.Second, nil, func() { changes++ })
		remote.Update(protocol.TypingStatus{Email: "bob@x.io", IsTyping: true})
	}))
	assert.Equal(t, 1, changes)

	advance(t, loop, clock, 1999*time.Millisecond)
	require.NoError(t, loop.Do(func() { assert.Equal(t, []string{"bob@x.io"}, remote.Peers()) }))

	advance(t, loop, clock, time.Millisecond)
	require.NoError(t, loop.Do(func() { assert.Empty(t, remote.Peers()) }))
	assert.Equal(t, 2, changes)
}

// TestRemoteRenewalKeepsPeer tests that renewals arriving before expiry keep
// the peer present without interruption.
func TestRemoteRenewalKeepsPeer(t *testing.T) {
	loop, clock := startLoop(t)
	changes := 0
	var remote *Remote
	status := protocol.TypingStatus{Email: "bob@x.io", IsTyping: true}
	require.NoError(t, loop.Do(func() {
		remote = NewRemote(loop, 2*time.Second, nil, func() { changes++ })
		remote.Update(status)
	}))

	for i := 0; i < 5; i++ {
		advance(t, loop, clock, 1500*time.Millisecond)
		require.NoError(t, loop.Do(func() {
			assert.Equal(t, 1, remote.Len())
			remote.Update(status)
		}))
	}
	assert.Equal(t, 1, changes)
	require.NoError(t, loop.Do(func() {
		entries := remote.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, clock.Now().Add(2*time.Second), entries[0].ExpiresAt)
	}))
	assert.Equal(t, 1, clock.Pending())
}

func TestRemoteStopAndOrder(t *testing.T) {
	loop, clock := startLoop(t)
	var remote *Remote
	require.NoError(t, loop.Do(func() {
		remote = NewRemote(loop, 0, nil, nil)
		remote.Update(protocol.TypingStatus{Email: "carol@x.io", IsTyping: true})
		remote.Update(protocol.TypingStatus{Email: "alice@x.io", IsTyping: true})
		remote.Update(protocol.TypingStatus{Email: "carol@x.io", IsTyping: true})
		assert.Equal(t, []string{"carol@x.io", "alice@x.io"}, remote.Peers())

		remote.Update(protocol.TypingStatus{Email: "carol@x.io", IsTyping: false})
		assert.Equal(t, []string{"alice@x.io"}, remote.Peers())
	}))
	assert.Equal(t, 1, clock.Pending())
}

func TestRemoteIgnoresSelf(t *testing.T) {
	loop, _ := startLoop(t)
	changes := 0
	require.NoError(t, loop.Do(func() {
		remote := NewRemote(loop, 0, []string{"me@x.io", "u-1"}, func() { changes++ })
		remote.Update(protocol.TypingStatus{Email: "me@x.io", IsTyping: true})
		remote.Update(protocol.TypingStatus{UserID: "u-1", IsTyping: true})
		remote.Update(protocol.TypingStatus{IsTyping: true})
		assert.Zero(t, remote.Len())
	}))
	assert.Zero(t, changes)
}

func TestRemoteReset(t *testing.T) {
	loop, clock := startLoop(t)
	changes := 0
	require.NoError(t, loop.Do(func() {
		remote := NewRemote(loop, 0, nil, func() { changes++ })
		remote.Update(protocol.TypingStatus{Email: "a@x.io", IsTyping: true})
		remote.Update(protocol.TypingStatus{Email: "b@x.io", IsTyping: true})
		remote.Reset()
		assert.Zero(t, remote.Len())
	}))
	assert.Equal(t, 0, clock.Pending())

	advance(t, loop, clock, time.Minute)
	assert.Equal(t, 2, changes)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t, "a is typing...", Describe([]string{"a"}))
	assert.Equal(t, "a, b are typing...", Describe([]string{"a", "b"}))
}
