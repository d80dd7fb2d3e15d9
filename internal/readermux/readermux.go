// Package readermux provides an abstraction over the serial port of a
// combined RFID/UWB reader, letting multiple clients subscribe to the
// newline-delimited scan packets the firmware emits and send
// configuration commands back to a single device.
package readermux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/halcyon-data/inventory.report/internal/monitoring"
)

var ErrWriteFailed = fmt.Errorf("failed to write to reader port")

// Larger than any packet the firmware emits (a full scan cycle with all
// anchors and a busy shelf is a few KB of JSON).
const maxPacketBytes = 256 * 1024

// ReaderMux multiplexes one reader serial port to many line subscribers.
type ReaderMux[T ReaderPort] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// Muxer is the interface the ingest layer consumes, satisfied by both the
// real and mock muxes.
type Muxer interface {
	// Subscribe creates a new channel receiving packet lines from the
	// reader. The returned ID identifies the channel when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a subscriber and closes its channel.
	Unsubscribe(string)
	// SendCommand writes one command line to the reader.
	SendCommand(string) error
	// Monitor reads packet lines from the port and fans them out to
	// subscribers until the context is cancelled or the port fails.
	Monitor(context.Context) error
	// Initialize pushes the standard scan configuration to the reader.
	Initialize() error
	// Close closes all subscriber channels and the underlying port.
	Close() error
}

// NewReaderMux creates a ReaderMux over an open port.
func NewReaderMux[T ReaderPort](port T) *ReaderMux[T] {
	return &ReaderMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a subscriber ID (8 byte random hex encoded value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (m *ReaderMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 8)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.subscribers[id] = ch
	return id, ch
}

func (m *ReaderMux[T]) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Initialize puts the reader into continuous-scan JSON output mode.
func (m *ReaderMux[T]) Initialize() error {
	for _, command := range []string{
		"MODE JSON",  // newline-delimited JSON packets
		"SCAN CONT",  // continuous scan cycles
		"UWB ON",     // include anchor ranging in each cycle
		"RSSI ON",    // include signal strength per detection
		"INTERVAL 1", // one scan cycle per second
	} {
		if err := m.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes one command line to the reader port.
func (m *ReaderMux[T]) SendCommand(command string) error {
	m.commandMu.Lock()
	defer m.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := m.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads packet lines from the port and fans them out. A slow
// subscriber whose buffer is full misses the line rather than stalling
// the scan loop.
func (m *ReaderMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(m.port)
	scan.Buffer(make([]byte, 64*1024), maxPacketBytes)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop
	// can still observe context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}

			m.closingMu.Lock()
			if m.closing {
				m.closingMu.Unlock()
				return nil
			}
			m.closingMu.Unlock()

			if strings.TrimSpace(line) == "" {
				continue
			}

			m.subscriberMu.Lock()
			for _, ch := range m.subscribers {
				select {
				case ch <- line:
				default:
					// full subscriber buffer; skip rather than block
				}
			}
			m.subscriberMu.Unlock()
		}
	}
}

func (m *ReaderMux[T]) Close() error {
	m.closingMu.Lock()
	if m.closing {
		m.closingMu.Unlock()
		return nil
	}
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subscriberMu.Unlock()

	if err := m.port.Close(); err != nil {
		monitoring.Logf("[ReaderMux] error closing port: %v", err)
		return err
	}
	return nil
}
