package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// PortOpener opens a serial device. It is a variable so tests can substitute
// a fake device.
type PortOpener func(path string, mode *serial.Mode) (SerialPorter, error)

var openPort PortOpener = func(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// NewRealSerialMux creates a SerialMux backed by a real serial port at the
// given path using the provided serial options. Reopen opens the same path
// with the same options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := openConfigured(path, mode)
	if err != nil {
		return nil, err
	}

	mux := NewSerialMux(port)
	mux.reopen = func() (SerialPorter, error) { return openConfigured(path, mode) }
	return mux, nil
}

func openConfigured(path string, mode *serial.Mode) (SerialPorter, error) {
	port, err := openPort(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}

	if tp, ok := port.(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(DefaultReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
		}
	}
	return port, nil
}
