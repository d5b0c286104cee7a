// Package status provides a thread-safe status tracker for the reefer-sensor daemon.
// It is written by the control loop and read by HTTP handlers and the websocket stream.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/reefer-sensor/internal/config"
	"github.com/sweeney/reefer-sensor/internal/logic"
	"github.com/sweeney/reefer-sensor/internal/sensor"
)

// NetworkInfo contains network state as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Info is the static daemon description shown on the status page.
type Info struct {
	DeviceID     string
	DeviceName   string
	Location     string
	Broker       string
	HTTPAddr     string
	TickMs       int64
	HeartbeatMs  int64
	SensorMode   string
	TopicPrefix  string
	JournalPath  string
	CloudEnabled bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Logic         logic.Snapshot
	Reading       sensor.Reading
	Settings      config.Settings
	Ticked        bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Info          Info
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	subs map[chan struct{}]struct{}
}

// NewTracker creates a Tracker with the given start time and static info.
func NewTracker(startTime time.Time, info Info) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Info:      info,
		},
		subs: make(map[chan struct{}]struct{}),
	}
}

// Update stores the controller state, the raw reading and the live settings.
// Called from runLoop on every tick and after every command.
func (t *Tracker) Update(s logic.Snapshot, r sensor.Reading, settings config.Settings) {
	t.mu.Lock()
	t.snap.Logic = s
	t.snap.Reading = r
	t.snap.Settings = settings
	t.snap.Ticked = true
	t.mu.Unlock()

	t.notify()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// Subscribe returns a channel that receives a signal after every Update.
// Signals are coalesced: a slow reader sees at most one pending signal.
// The returned cancel func must be called to release the subscription.
func (t *Tracker) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
	}
}

func (t *Tracker) notify() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
