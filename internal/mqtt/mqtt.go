// Package mqtt provides MQTT publishing and command subscription with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

// Topics are derived from a configurable prefix.
type Topics struct {
	Events  string
	System  string
	Command string
}

// NewTopics returns the topic set under prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	return Topics{
		Events:  prefix + "/events",
		System:  prefix + "/system",
		Command: prefix + "/cmd",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a reefer event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Subscriber delivers operator commands received on the command topic.
type Subscriber interface {
	Subscribe(handler func(Command)) error
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Reefer EventPayload `json:"reefer"`
}

// EventPayload contains the reefer event details.
type EventPayload struct {
	DeviceID    string   `json:"device_id,omitempty"`
	Timestamp   string   `json:"timestamp"`
	Event       string   `json:"event"`
	Source      string   `json:"source,omitempty"`
	Severity    string   `json:"severity"`
	Alarm       string   `json:"alarm,omitempty"`
	Message     string   `json:"message,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Limit       *float64 `json:"limit,omitempty"`
	DurationSec *int64   `json:"duration_sec,omitempty"`
	Notify      bool     `json:"notify,omitempty"`
	On          *bool    `json:"on,omitempty"`
	HeldOpen    bool     `json:"held_open,omitempty"`
	TempAtOpen  *float64 `json:"temp_at_open,omitempty"`
	Battery     *float64 `json:"battery_voltage,omitempty"`
}

// NewEventPayload flattens an event for the wire. Fields that do not apply to
// the event kind are omitted.
func NewEventPayload(deviceID string, event logic.Event) EventPayload {
	p := EventPayload{
		DeviceID:  deviceID,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Kind),
		Source:    string(event.Source),
		Severity:  string(event.Severity),
		Alarm:     string(event.Alarm),
		Message:   event.Message,
		Notify:    event.Notify,
		HeldOpen:  event.HeldOpen,
	}
	if event.TempValid {
		p.Temperature = ptr(round1(event.Temperature))
	}
	if event.Kind == logic.EventAlarm {
		p.Limit = ptr(event.Limit)
	}
	if event.Duration > 0 {
		p.DurationSec = ptr(int64(event.Duration / time.Second))
	}
	switch event.Kind {
	case logic.EventRelay, logic.EventDoor:
		p.On = ptr(event.On)
	}
	if event.Kind == logic.EventDoor && !event.On {
		p.TempAtOpen = ptr(round1(event.TempAtOpen))
	}
	if event.Battery > 0 {
		p.Battery = ptr(event.Battery)
	}
	return p
}

// FormatPayload creates the JSON payload for a reefer event.
func FormatPayload(deviceID string, event logic.Event) ([]byte, error) {
	return json.Marshal(Payload{Reefer: NewEventPayload(deviceID, event)})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command is an operator request received on the command topic.
type Command string

const (
	CmdAck      Command = "ack"
	CmdDefrost  Command = "defrost"
	CmdRelayOn  Command = "relay_on"
	CmdRelayOff Command = "relay_off"
	CmdTest     Command = "test"
)

// ParseCommand accepts either a bare command word or {"command":"..."}.
func ParseCommand(payload []byte) (Command, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var body struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal([]byte(s), &body); err != nil {
			return "", fmt.Errorf("decode command: %w", err)
		}
		s = body.Command
	}

	cmd := Command(strings.ToLower(strings.TrimSpace(s)))
	switch cmd {
	case CmdAck, CmdDefrost, CmdRelayOn, CmdRelayOff, CmdTest:
		return cmd, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

func ptr[T any](v T) *T {
	return &v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
