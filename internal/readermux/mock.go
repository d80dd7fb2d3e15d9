package readermux

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/halcyon-data/inventory.report/internal/simulate"
)

// MockPort implements ReaderPort over an in-process pipe fed by the
// packet simulator. Commands written to the port are discarded.
type MockPort struct {
	io.Reader
	writer io.Closer

	mu       sync.Mutex
	commands bytes.Buffer
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands.Write(p)
}

func (m *MockPort) Close() error {
	return m.writer.Close()
}

// Commands returns everything written to the mock port so far.
func (m *MockPort) Commands() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands.String()
}

// NewMockReaderMux creates a ReaderMux backed by a simulated reader that
// emits one scan packet per interval until the mux is closed. Used by
// dev mode to run the full pipeline without hardware.
func NewMockReaderMux(interval time.Duration) *ReaderMux[*MockPort] {
	r, w := io.Pipe()
	port := &MockPort{Reader: r, writer: w}

	sim := simulate.New(simulate.Config{Interval: interval})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			payload := append(sim.Step(time.Now()), '\n')
			if _, err := w.Write(payload); err != nil {
				return // pipe closed, mux shut down
			}
		}
	}()

	return NewReaderMux(port)
}

// ScriptedPort implements ReaderPort over a fixed byte script, for tests
// that need deterministic packet sequences.
type ScriptedPort struct {
	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer
	WriteError  error

	mu     sync.Mutex
	closed bool
}

// NewScriptedPort creates a port that replays script from Read.
func NewScriptedPort(script string) *ScriptedPort {
	return &ScriptedPort{
		ReadBuffer:  bytes.NewBufferString(script),
		WriteBuffer: &bytes.Buffer{},
	}
}

func (p *ScriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.EOF
	}
	return p.ReadBuffer.Read(b)
}

func (p *ScriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteError != nil {
		return 0, p.WriteError
	}
	return p.WriteBuffer.Write(b)
}

func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
