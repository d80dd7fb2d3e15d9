package readermux

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesLines(t *testing.T) {
	port := NewScriptedPort("{\"a\":1}\n{\"a\":2}\n")
	mux := NewReaderMux(port)

	_, ch := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	assert.Equal(t, `{"a":1}`, <-ch)
	assert.Equal(t, `{"a":2}`, <-ch)

	require.NoError(t, <-done) // EOF on the script ends Monitor cleanly
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	mux := NewReaderMux(NewScriptedPort(""))
	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	// Unknown IDs are a no-op.
	mux.Unsubscribe("missing")
}

func TestMonitorSkipsBlankLines(t *testing.T) {
	port := NewScriptedPort("\n\n{\"a\":1}\n\n")
	mux := NewReaderMux(port)
	_, ch := mux.Subscribe()

	go mux.Monitor(context.Background())

	assert.Equal(t, `{"a":1}`, <-ch)
	select {
	case line := <-ch:
		t.Fatalf("unexpected extra line %q", line)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitorContextCancel(t *testing.T) {
	// A pipe that never produces data keeps Monitor blocked until cancel.
	r, w := io.Pipe()
	defer w.Close()
	mux := NewReaderMux(&MockPort{Reader: r, writer: w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not observe cancellation")
	}
}

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewScriptedPort("")
	mux := NewReaderMux(port)

	require.NoError(t, mux.SendCommand("SCAN CONT"))
	require.NoError(t, mux.SendCommand("UWB ON\n"))

	assert.Equal(t, "SCAN CONT\nUWB ON\n", port.WriteBuffer.String())
}

func TestSendCommandWriteError(t *testing.T) {
	port := NewScriptedPort("")
	port.WriteError = errors.New("port gone")
	mux := NewReaderMux(port)

	assert.Error(t, mux.SendCommand("SCAN CONT"))
}

func TestInitializeSendsScanConfiguration(t *testing.T) {
	port := NewScriptedPort("")
	mux := NewReaderMux(port)

	require.NoError(t, mux.Initialize())

	written := port.WriteBuffer.String()
	for _, command := range []string{"MODE JSON", "SCAN CONT", "UWB ON", "RSSI ON", "INTERVAL 1"} {
		assert.Contains(t, written, command+"\n")
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	mux := NewReaderMux(NewScriptedPort(""))
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	_, open := <-ch
	assert.False(t, open)

	// Close is idempotent.
	require.NoError(t, mux.Close())
}

func TestSlowSubscriberDoesNotBlockMonitor(t *testing.T) {
	var lines strings.Builder
	for i := 0; i < 100; i++ {
		lines.WriteString("{\"n\":1}\n")
	}
	mux := NewReaderMux(NewScriptedPort(lines.String()))

	// Subscribed but never drained: its buffer fills and further lines
	// are skipped for it.
	mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor blocked on a slow subscriber")
	}
}

func TestMockReaderMuxEmitsPackets(t *testing.T) {
	mux := NewMockReaderMux(10 * time.Millisecond)
	defer mux.Close()

	_, ch := mux.Subscribe()
	go mux.Monitor(context.Background())

	select {
	case line := <-ch:
		assert.Contains(t, line, "uwb_measurements")
		assert.Contains(t, line, "timestamp")
	case <-time.After(2 * time.Second):
		t.Fatal("no packet from mock reader")
	}
}
