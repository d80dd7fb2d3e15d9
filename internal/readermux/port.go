package readermux

import "io"

// ReaderPort is the minimal interface needed for a reader serial port.
// The abstraction enables unit testing without real hardware.
type ReaderPort interface {
	io.ReadWriter
	io.Closer
}
