package sensor

import (
	"context"
	"errors"
	"sync"
)

// Fake is a test double that returns scripted readings.
// Each call to Read consumes the next reading; the last one repeats.
type Fake struct {
	mu       sync.Mutex
	Readings []Reading
	index    int

	// ReadError, if set, is returned with an invalid reading.
	ReadError error

	// Battery and Current back the PowerMonitor capability when set.
	Battery *float64
	Current *float64
}

// NewFake creates a Fake with the given readings.
func NewFake(readings ...Reading) *Fake {
	return &Fake{Readings: readings}
}

// Read returns the next scripted reading.
func (f *Fake) Read(ctx context.Context) (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return Reading{}, f.ReadError
	}
	if len(f.Readings) == 0 {
		return Reading{}, errors.New("no readings configured")
	}

	r := f.Readings[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	return r, nil
}

// Set replaces the script with a single repeating reading.
func (f *Fake) Set(r Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Readings = []Reading{r}
	f.index = 0
}

func (f *Fake) BatteryVoltage() (float64, bool) {
	if f.Battery == nil {
		return 0, false
	}
	return *f.Battery, true
}

func (f *Fake) CompressorCurrent() (float64, bool) {
	if f.Current == nil {
		return 0, false
	}
	return *f.Current, true
}

// Temp returns a valid single-sensor reading at t.
func Temp(t float64) Reading {
	return Reading{Temp1: t, Valid1: Valid(t), Count: 1}
}
