// Package notify fans reefer events out to delivery channels.
// Every delivery is bounded by a timeout; a failure is logged and counted,
// never retried within the tick and never reported back to the control logic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

// Kind says what a Message carries.
type Kind int

const (
	KindCritical Kind = iota // Text is an alarm message that must reach a human
	KindEvent                // Event is a state transition
	KindReading              // Reading is a periodic telemetry row
	KindTest                 // Text is an operator-requested test message
)

var (
	// ErrUnknownChannel is returned by SendTest for a channel that was never configured.
	ErrUnknownChannel = errors.New("channel not configured")
	// ErrDisabled is returned by SendTest for a channel switched off at runtime.
	ErrDisabled = errors.New("channel disabled")
)

// Message is what a Channel delivers. Channels ignore kinds they do not handle.
type Message struct {
	Kind    Kind
	Text    string
	Event   logic.Event
	Reading Reading
}

// Reading is a periodic telemetry row. Nil pointers are absent values.
type Reading struct {
	Time           time.Time
	Temp1          *float64
	Temp2          *float64
	TempAvg        *float64
	DoorOpen       bool
	RelayOn        bool
	BuzzerOn       bool
	AlertActive    bool
	DefrostMode    bool
	CooldownMode   bool
	SimulationMode bool
	Uptime         time.Duration
	CurrentAmps    *float64
	BatteryVoltage *float64
}

// Device identifies the installation in outgoing messages.
type Device struct {
	ID       string
	Name     string
	Location string
}

// Channel is one delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Notifier is the outbound surface used by the control loop.
type Notifier interface {
	NotifyCritical(ctx context.Context, msg string) error
	NotifyEvent(ctx context.Context, e logic.Event) error
}

// FailureRecorder counts failed deliveries.
type FailureRecorder interface {
	NotificationFailed(channel string)
}

// Dispatcher delivers each message to all channels concurrently.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	log      *zap.SugaredLogger
	failures FailureRecorder
}

// NewDispatcher creates a dispatcher. failures may be nil.
func NewDispatcher(timeout time.Duration, log *zap.SugaredLogger, failures FailureRecorder, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		timeout:  timeout,
		log:      log,
		failures: failures,
	}
}

// NotifyCritical sends an alarm text.
func (d *Dispatcher) NotifyCritical(ctx context.Context, msg string) error {
	return d.Dispatch(ctx, Message{Kind: KindCritical, Text: msg})
}

// NotifyEvent sends a state transition.
func (d *Dispatcher) NotifyEvent(ctx context.Context, e logic.Event) error {
	return d.Dispatch(ctx, Message{Kind: KindEvent, Event: e})
}

// UploadReading sends a telemetry row.
func (d *Dispatcher) UploadReading(ctx context.Context, r Reading) error {
	return d.Dispatch(ctx, Message{Kind: KindReading, Reading: r})
}

// SendTest delivers a test message to the named channel only and reports
// its delivery error, so an operator can check credentials from the UI.
func (d *Dispatcher) SendTest(ctx context.Context, name string) error {
	for _, ch := range d.channels {
		if ch.Name() != name {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := ch.Send(cctx, Message{Kind: KindTest, Text: TestText}); err != nil {
			d.log.Warnw("test notification failed", "channel", name, "err", err)
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
}

// Dispatch delivers m to every channel and waits for all of them.
// The returned error joins the per-channel failures.
func (d *Dispatcher) Dispatch(ctx context.Context, m Message) error {
	errs := make([]error, len(d.channels))

	var g errgroup.Group
	for i, ch := range d.channels {
		i, ch := i, ch
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			if err := ch.Send(cctx, m); err != nil {
				errs[i] = fmt.Errorf("%s: %w", ch.Name(), err)
				d.log.Warnw("notification failed", "channel", ch.Name(), "err", err)
				if d.failures != nil {
					d.failures.NotificationFailed(ch.Name())
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// gated skips delivery while enabled reports false.
type gated struct {
	Channel
	enabled func() bool
}

// Gate wraps ch so it only delivers while enabled returns true.
// Used for channels that can be switched on and off at runtime.
func Gate(ch Channel, enabled func() bool) Channel {
	return gated{Channel: ch, enabled: enabled}
}

func (g gated) Send(ctx context.Context, m Message) error {
	if !g.enabled() {
		if m.Kind == KindTest {
			return ErrDisabled
		}
		return nil
	}
	return g.Channel.Send(ctx, m)
}
