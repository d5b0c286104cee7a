package gpio

import (
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted pin levels.
type FakeReader struct {
	mu sync.Mutex

	// Samples contains scripted levels. Each call to Read() consumes the next one.
	Samples []Levels

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...Levels) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (Levels, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return Levels{}, f.ReadError
	}
	if len(f.Samples) == 0 {
		return Levels{}, errors.New("no samples configured")
	}

	lv := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return lv, nil
}

// Set replaces the script with a single repeating sample.
func (f *FakeReader) Set(lv Levels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Samples = []Levels{lv}
	f.index = 0
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.Closed = false
}

// FakeActuator records output changes.
type FakeActuator struct {
	mu       sync.Mutex
	relay    bool
	buzzer   bool
	closed   bool
	history  []string
	SetError error
}

func NewFakeActuator() *FakeActuator {
	return &FakeActuator{}
}

func (f *FakeActuator) SetRelay(on bool) error {
	return f.set(&f.relay, "relay", on)
}

func (f *FakeActuator) SetBuzzer(on bool) error {
	return f.set(&f.buzzer, "buzzer", on)
}

func (f *FakeActuator) set(dst *bool, name string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	*dst = on
	state := "off"
	if on {
		state = "on"
	}
	f.history = append(f.history, name+"="+state)
	return nil
}

func (f *FakeActuator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.relay = false
	f.buzzer = false
	return nil
}

// State returns the current relay and buzzer levels.
func (f *FakeActuator) State() (relay, buzzer bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.relay, f.buzzer
}

// History returns every change in order, e.g. "relay=on".
func (f *FakeActuator) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.history))
	copy(out, f.history)
	return out
}

func (f *FakeActuator) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
