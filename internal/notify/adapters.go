package notify

import (
	"context"

	"github.com/sweeney/reefer-sensor/internal/journal"
	"github.com/sweeney/reefer-sensor/internal/mqtt"
)

// MQTT publishes events on the broker. Critical texts and readings are
// already covered by the ALARM event and the status topic.
type MQTT struct {
	pub mqtt.Publisher
}

// NewMQTT wraps a publisher as a Channel.
func NewMQTT(pub mqtt.Publisher) *MQTT {
	return &MQTT{pub: pub}
}

func (c *MQTT) Name() string { return "mqtt" }

func (c *MQTT) Send(_ context.Context, m Message) error {
	if m.Kind != KindEvent {
		return nil
	}
	return c.pub.Publish(m.Event)
}

// Journal records every event in the local history.
type Journal struct {
	j *journal.Journal
}

// NewJournal wraps a journal as a Channel.
func NewJournal(j *journal.Journal) *Journal {
	return &Journal{j: j}
}

func (c *Journal) Name() string { return "journal" }

func (c *Journal) Send(ctx context.Context, m Message) error {
	if m.Kind != KindEvent {
		return nil
	}
	return c.j.Append(ctx, journal.FromEvent(m.Event))
}
