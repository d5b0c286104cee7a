package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/reefer-sensor/internal/config"
	"github.com/sweeney/reefer-sensor/internal/logic"
	"github.com/sweeney/reefer-sensor/internal/sensor"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewTracker(t *testing.T) {
	info := Info{DeviceID: "reefer-01", Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, info)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Info.HTTPAddr != ":8080" {
		t.Errorf("Info.HTTPAddr: got %q, want %q", snap.Info.HTTPAddr, ":8080")
	}
	if snap.Ticked {
		t.Error("expected Ticked=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Info{})

	ls := logic.Snapshot{
		Phase:  logic.PhaseDefrosting,
		Counts: logic.EventCounts{Alarms: 3, DefrostStarts: 1},
	}
	tr.Update(ls, sensor.Reading{Temp1: -18, Valid1: true, Count: 1}, config.Settings{SimulationMode: true})

	snap := tr.Snapshot()
	if !snap.Ticked {
		t.Error("expected Ticked=true")
	}
	if snap.Logic.Phase != logic.PhaseDefrosting {
		t.Errorf("Phase: got %q", snap.Logic.Phase)
	}
	if snap.Logic.Counts.Alarms != 3 {
		t.Errorf("Counts.Alarms: got %d, want 3", snap.Logic.Counts.Alarms)
	}
	if snap.Reading.Temp1 != -18 || !snap.Settings.SimulationMode {
		t.Errorf("reading/settings not stored: %+v %+v", snap.Reading, snap.Settings)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Info{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Info{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})
	got := tr.Snapshot().Network
	if got == nil || got.IP != "192.168.1.42" {
		t.Errorf("Network: got %+v", got)
	}
}

func TestSubscribeCoalesces(t *testing.T) {
	tr := NewTracker(time.Now(), Info{})
	ch, cancel := tr.Subscribe()

	tr.Update(logic.Snapshot{}, sensor.Reading{}, config.Settings{})
	tr.Update(logic.Snapshot{}, sensor.Reading{}, config.Settings{})

	select {
	case <-ch:
	default:
		t.Fatal("expected a signal after Update")
	}
	select {
	case <-ch:
		t.Fatal("expected signals to be coalesced")
	default:
	}

	cancel()
	tr.Update(logic.Snapshot{}, sensor.Reading{}, config.Settings{})
	select {
	case <-ch:
		t.Fatal("no signal expected after cancel")
	default:
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Info{})
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(logic.Snapshot{Counts: logic.EventCounts{Alarms: j}}, sensor.Reading{}, config.Settings{})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel := tr.Subscribe()
			defer cancel()
			for j := 0; j < 100; j++ {
				select {
				case <-ch:
				default:
				}
				_ = tr.Snapshot()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.SetMQTTConnected(j%2 == 0)
			}
		}()
	}
	wg.Wait()
}

func alarmSnapshot() Snapshot {
	now := start.Add(2 * time.Hour)
	return Snapshot{
		Logic: logic.Snapshot{
			Alarm: logic.AlarmState{
				Active:         true,
				Critical:       true,
				Kind:           logic.AlarmTemperature,
				Message:        "Temperature -5.0°C above limit -10.0°C",
				OverThreshold:  310 * time.Second,
				TotalTriggered: 2,
			},
			Phase:   logic.PhaseIdle,
			Sample:  logic.Sample{Average: -5.004, Valid: true},
			Door:    logic.DoorState{Open: true, OpenedAt: now.Add(-90 * time.Second)},
			RelayOn: true,
			Counts:  logic.EventCounts{Alarms: 2, Clears: 1, DoorOpens: 4},
		},
		Reading:   sensor.Reading{Temp1: -5.004, Valid1: true, Count: 1},
		Settings:  config.Settings{ThresholdsConfig: config.ThresholdsConfig{TempCritical: -10}, DoorEnabled: true},
		Ticked:    true,
		StartTime: start,
		Now:       now,
		Info:      Info{DeviceID: "reefer-01", DeviceName: "Cold room", Broker: "tcp://broker:1883"},
		Network:   &NetworkInfo{Type: "ethernet", IP: "10.0.0.5"},
	}
}

func TestBuildAlarm(t *testing.T) {
	doc := Build(alarmSnapshot())

	if doc.Sensor.Temp1 == nil || *doc.Sensor.Temp1 != -5 {
		t.Errorf("temp1: %v", doc.Sensor.Temp1)
	}
	if doc.Sensor.Temp2 != nil {
		t.Errorf("temp2 should be null, got %v", *doc.Sensor.Temp2)
	}
	if !doc.Sensor.DoorOpen || doc.Sensor.DoorOpenSec != 90 {
		t.Errorf("door: %+v", doc.Sensor)
	}
	s := doc.System
	if !s.AlertActive || !s.Critical || s.AlertAcknowledged {
		t.Errorf("alarm flags: %+v", s)
	}
	if s.OverThresholdSec != 310 || s.TotalAlerts != 2 || s.UptimeSec != 7200 {
		t.Errorf("counters: %+v", s)
	}
	if s.Phase != "IDLE" || s.TempCritical != -10 || !s.DoorEnabled {
		t.Errorf("system: %+v", s)
	}
	if doc.Device.ID != "reefer-01" || doc.Device.IP != "10.0.0.5" {
		t.Errorf("device: %+v", doc.Device)
	}
	if doc.Counts.DoorOpens != 4 {
		t.Errorf("counts: %+v", doc.Counts)
	}
}

func TestBuildDefrostAndCooldown(t *testing.T) {
	snap := alarmSnapshot()
	snap.Logic.Alarm = logic.AlarmState{}
	snap.Logic.Phase = logic.PhaseDefrosting
	snap.Logic.Defrost = logic.DefrostState{Active: true, StartedAt: snap.Now.Add(-25*time.Minute - 30*time.Second)}

	s := Build(snap).System
	if !s.DefrostMode || s.DefrostMinutes != 25 || s.CooldownMode || s.CooldownRemainingSec != 0 {
		t.Errorf("defrost: %+v", s)
	}

	snap.Logic.Phase = logic.PhaseCooldown
	snap.Logic.Defrost = logic.DefrostState{CooldownActive: true, CooldownRemaining: 12*time.Minute + 500*time.Millisecond}
	s = Build(snap).System
	if s.DefrostMode || s.DefrostMinutes != 0 || !s.CooldownMode || s.CooldownRemainingSec != 720 {
		t.Errorf("cooldown: %+v", s)
	}
}

func TestFormatJSONInvalidSample(t *testing.T) {
	snap := alarmSnapshot()
	snap.Logic.Sample = logic.Sample{}
	snap.Reading = sensor.Reading{}
	snap.Network = nil

	var raw map[string]any
	if err := json.Unmarshal(FormatJSON(snap), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	sensorDoc, _ := raw["sensor"].(map[string]any)
	if v, ok := sensorDoc["temp_avg"]; !ok || v != nil {
		t.Errorf("temp_avg should be present and null, got %v", v)
	}
	if sensorDoc["valid"] != false {
		t.Errorf("valid: %v", sensorDoc["valid"])
	}
	if _, ok := raw["network"]; ok {
		t.Error("network should be omitted")
	}
	if _, ok := raw["event"]; ok {
		t.Error("event should be omitted on the web document")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	data := FormatStatusEvent(alarmSnapshot(), "SHUTDOWN", "SIGTERM")

	if strings.Contains(string(data), "\n") {
		t.Error("status event should be compact")
	}
	var doc StatusJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Event != "SHUTDOWN" || doc.Reason != "SIGTERM" {
		t.Errorf("event/reason: %q %q", doc.Event, doc.Reason)
	}
	if doc.Timestamp != "2026-01-01T02:00:00Z" {
		t.Errorf("timestamp: %q", doc.Timestamp)
	}
	if doc.MQTT.Connected || doc.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("mqtt: %+v", doc.MQTT)
	}
}
