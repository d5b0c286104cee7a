// Package command carries operator requests from the HTTP and MQTT surfaces
// into the control loop, which executes them between ticks.
package command

import (
	"context"
	"errors"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

// Kind identifies a request.
type Kind string

const (
	Acknowledge   Kind = "ack"
	TestAlarm     Kind = "test"
	ToggleDefrost Kind = "defrost"
	SetRelay      Kind = "relay"
	TestTelegram  Kind = "telegram_test"
)

// ErrClosed is returned when the control loop is no longer accepting requests.
var ErrClosed = errors.New("control loop stopped")

// Request is sent to the control loop. The loop answers on Reply exactly once.
type Request struct {
	Kind Kind
	// On is the requested relay state for SetRelay.
	On bool
	// Origin names the surface that sent the request, for logging.
	Origin string
	Reply  chan Reply
}

// Reply reports the outcome and the controller state after the request.
type Reply struct {
	// Applied is false when the request was a no-op or debounced.
	Applied  bool
	// Err is set when the request was carried out and failed.
	Err      error
	Snapshot logic.Snapshot
}

// Bus is the request channel into the control loop.
type Bus struct {
	ch   chan Request
	done <-chan struct{}
}

// NewBus creates a bus. done is closed when the loop exits.
func NewBus(done <-chan struct{}) *Bus {
	return &Bus{ch: make(chan Request), done: done}
}

// Requests is the receive side, read by the control loop.
func (b *Bus) Requests() <-chan Request {
	return b.ch
}

// Send delivers req and waits for the loop's reply.
func (b *Bus) Send(ctx context.Context, req Request) (Reply, error) {
	req.Reply = make(chan Reply, 1)

	select {
	case b.ch <- req:
	case <-b.done:
		return Reply{}, ErrClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	select {
	case r := <-req.Reply:
		return r, nil
	case <-b.done:
		return Reply{}, ErrClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
