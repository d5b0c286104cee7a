//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// inputBias is applied to the defrost and door inputs. Both are dry contacts
// switching to ground: an open contact or a broken wire reads HIGH.
var inputBias = gpiocdev.WithPullUp

// RealReader reads the defrost and door inputs from the Linux GPIO character device.
type RealReader struct {
	chip    *gpiocdev.Chip
	defrost *gpiocdev.Line
	door    *gpiocdev.Line
}

// NewRealReader requests the input lines.
func NewRealReader(p Pins) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName(p))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	defrost, err := chip.RequestLine(p.Defrost, gpiocdev.AsInput, inputBias)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request defrost pin %d: %w", p.Defrost, err)
	}

	r := &RealReader{chip: chip, defrost: defrost}
	if p.Door > 0 {
		door, err := chip.RequestLine(p.Door, gpiocdev.AsInput, inputBias)
		if err != nil {
			defrost.Close()
			chip.Close()
			return nil, fmt.Errorf("request door pin %d: %w", p.Door, err)
		}
		r.door = door
	}
	return r, nil
}

// Read returns the raw input levels.
func (r *RealReader) Read() (Levels, error) {
	var lv Levels

	v, err := r.defrost.Value()
	if err != nil {
		return Levels{}, fmt.Errorf("read defrost pin: %w", err)
	}
	lv.Defrost = v == 1

	if r.door != nil {
		v, err := r.door.Value()
		if err != nil {
			return Levels{}, fmt.Errorf("read door pin: %w", err)
		}
		lv.Door = v == 1
	}
	return lv, nil
}

// Close releases the inputs with the bias left pulled up, so a wired contact
// does not float while the daemon is stopped.
func (r *RealReader) Close() error {
	var errs []error
	for name, l := range map[string]*gpiocdev.Line{"defrost": r.defrost, "door": r.door} {
		if l == nil {
			continue
		}
		if err := l.Reconfigure(gpiocdev.AsInput, inputBias); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RealActuator drives the relay and buzzer outputs. Both start de-energised.
type RealActuator struct {
	chip   *gpiocdev.Chip
	relay  *gpiocdev.Line
	buzzer *gpiocdev.Line
}

// NewRealActuator requests the output lines, initially LOW.
func NewRealActuator(p Pins) (*RealActuator, error) {
	chip, err := gpiocdev.NewChip(chipName(p))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	relay, err := chip.RequestLine(p.Relay, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", p.Relay, err)
	}

	buzzer, err := chip.RequestLine(p.Buzzer, gpiocdev.AsOutput(0))
	if err != nil {
		relay.Close()
		chip.Close()
		return nil, fmt.Errorf("request buzzer pin %d: %w", p.Buzzer, err)
	}

	return &RealActuator{chip: chip, relay: relay, buzzer: buzzer}, nil
}

func (a *RealActuator) SetRelay(on bool) error {
	if err := a.relay.SetValue(level(on)); err != nil {
		return fmt.Errorf("set relay: %w", err)
	}
	return nil
}

func (a *RealActuator) SetBuzzer(on bool) error {
	if err := a.buzzer.SetValue(level(on)); err != nil {
		return fmt.Errorf("set buzzer: %w", err)
	}
	return nil
}

// Close drives both outputs LOW, then hands the pins back as pulled-down
// inputs so nothing stays energised across a reboot.
func (a *RealActuator) Close() error {
	var errs []error
	for name, l := range map[string]*gpiocdev.Line{"relay": a.relay, "buzzer": a.buzzer} {
		if l == nil {
			continue
		}
		if err := l.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", name, err))
		}
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if a.chip != nil {
		if err := a.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}

func chipName(p Pins) string {
	if p.Chip == "" {
		return DefaultChip
	}
	return p.Chip
}

func level(on bool) int {
	if on {
		return 1
	}
	return 0
}
