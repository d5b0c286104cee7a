//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(p Pins) (*RealReader, error) {
	return nil, errUnsupported
}

func (r *RealReader) Read() (Levels, error) {
	return Levels{}, errUnsupported
}

func (r *RealReader) Close() error {
	return nil
}

// RealActuator is not available on non-Linux platforms.
type RealActuator struct{}

// NewRealActuator returns an error on non-Linux platforms.
func NewRealActuator(p Pins) (*RealActuator, error) {
	return nil, errUnsupported
}

func (a *RealActuator) SetRelay(on bool) error  { return errUnsupported }
func (a *RealActuator) SetBuzzer(on bool) error { return errUnsupported }
func (a *RealActuator) Close() error            { return nil }
