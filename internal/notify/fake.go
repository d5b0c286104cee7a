package notify

import (
	"context"
	"sync"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

// FakeChannel records messages for testing.
type FakeChannel struct {
	mu       sync.Mutex
	name     string
	messages []Message
	// Err, if set, is returned from every Send after the message is recorded.
	Err error
	// Block, if set, makes Send wait for ctx to expire.
	Block bool
}

// NewFakeChannel creates a FakeChannel reporting name.
func NewFakeChannel(name string) *FakeChannel {
	return &FakeChannel{name: name}
}

func (f *FakeChannel) Name() string { return f.name }

func (f *FakeChannel) Send(ctx context.Context, m Message) error {
	f.mu.Lock()
	f.messages = append(f.messages, m)
	err, block := f.Err, f.Block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// Messages returns a copy of everything sent.
func (f *FakeChannel) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// Criticals returns the texts of critical messages.
func (f *FakeChannel) Criticals() []string {
	var out []string
	for _, m := range f.Messages() {
		if m.Kind == KindCritical {
			out = append(out, m.Text)
		}
	}
	return out
}

// EventKinds returns the kinds of event messages in order.
func (f *FakeChannel) EventKinds() []logic.EventKind {
	var out []logic.EventKind
	for _, m := range f.Messages() {
		if m.Kind == KindEvent {
			out = append(out, m.Event.Kind)
		}
	}
	return out
}

// Readings returns the uploaded readings.
func (f *FakeChannel) Readings() []Reading {
	var out []Reading
	for _, m := range f.Messages() {
		if m.Kind == KindReading {
			out = append(out, m.Reading)
		}
	}
	return out
}

// Reset clears recorded messages.
func (f *FakeChannel) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
}
