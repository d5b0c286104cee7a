// Package sensor reads cold-room temperature sensors.
// The real implementation reads DS18B20 sensors through the Linux 1-wire sysfs interface.
// Simulation mode and the fake allow running without hardware.
package sensor

import (
	"context"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

// Range a DS18B20 can report. Readings on or outside the bounds are treated as faults.
const (
	MinValid = -55.0
	MaxValid = 125.0
)

// Source reads the temperature sensors once.
type Source interface {
	// Read returns the current reading. A non-nil error still comes with a
	// usable Reading; sensors that failed are marked invalid.
	Read(ctx context.Context) (Reading, error)
}

// PowerMonitor is an optional capability of a Source with supply monitoring.
type PowerMonitor interface {
	// BatteryVoltage returns the backup battery voltage if a gauge is fitted.
	BatteryVoltage() (float64, bool)
	// CompressorCurrent returns the compressor current draw in amps if a clamp is fitted.
	CompressorCurrent() (float64, bool)
}

// Reading is one sensor cycle.
type Reading struct {
	Temp1  float64
	Temp2  float64
	Valid1 bool
	Valid2 bool
	// Count is the number of sensors found on the bus.
	Count int
}

// Valid reports whether t is a plausible DS18B20 value.
func Valid(t float64) bool {
	return t > MinValid && t < MaxValid
}

// Sample averages the valid sensors into the value the alarm logic evaluates.
func (r Reading) Sample() logic.Sample {
	var sum float64
	n := 0
	if r.Valid1 {
		sum += r.Temp1
		n++
	}
	if r.Valid2 {
		sum += r.Temp2
		n++
	}
	if n == 0 {
		return logic.Sample{}
	}
	return logic.Sample{Average: sum / float64(n), Valid: true}
}
