package readermux

import (
	"go.bug.st/serial"
)

// NewRealReaderMux creates a ReaderMux backed by a real serial port at
// the given path using the provided options.
func NewRealReaderMux(path string, opts PortOptions) (*ReaderMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewReaderMux[serial.Port](port), nil
}
