// Package gpio provides pin input reading and output driving with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Levels is one raw reading of the input pins. true = HIGH.
type Levels struct {
	Defrost bool
	Door    bool
}

// Reader reads GPIO input levels.
type Reader interface {
	// Read returns the raw levels. Polarity is applied by the caller.
	Read() (Levels, error)

	// Close releases GPIO resources.
	Close() error
}

// Actuator drives the alarm relay and buzzer.
type Actuator interface {
	SetRelay(on bool) error
	SetBuzzer(on bool) error
	Close() error
}

// Pins is the BCM pin assignment.
type Pins struct {
	Chip    string
	Defrost int
	Door    int // <= 0 disables the door input
	Relay   int
	Buzzer  int
}

// Default pin assignment (BCM numbering, 40-pin header position in brackets).
const (
	DefaultChip       = "gpiochip0"
	DefaultPinDefrost = 6  // [31]
	DefaultPinDoor    = 5  // [29]
	DefaultPinRelay   = 26 // [37]
	DefaultPinBuzzer  = 17 // [11]

	// MaxHeaderPin is the highest BCM line the 40-pin header exposes.
	MaxHeaderPin = 27
)
