package ui

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"talkx/client/eventloop"
)

func TestCloseAfterLoopStopped(t *testing.T) {
	loop := eventloop.New(eventloop.RealClock(), zerolog.Nop())
	loop.Stop()

	var buf bytes.Buffer
	app := New(Deps{Loop: loop, Logger: zerolog.New(&buf)})
	app.Close()

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "close: event loop stopped")
	assert.Contains(t, buf.String(), eventloop.ErrStopped.Error())
}
