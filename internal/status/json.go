package status

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

// StatusJSON is the status document served by the API and sent on the
// websocket stream.
type StatusJSON struct {
	Event     string       `json:"event,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp string       `json:"timestamp"`
	Sensor    SensorJSON   `json:"sensor"`
	System    SystemJSON   `json:"system"`
	Device    DeviceJSON   `json:"device"`
	MQTT      MQTTStatus   `json:"mqtt"`
	Counts    CountsJSON   `json:"event_counts"`
	Network   *NetworkJSON `json:"network,omitempty"`
}

// SensorJSON reports the latest temperature and door readings.
type SensorJSON struct {
	Temp1       *float64 `json:"temp1"`
	Temp2       *float64 `json:"temp2"`
	TempAvg     *float64 `json:"temp_avg"`
	Valid       bool     `json:"valid"`
	SensorCount int      `json:"sensor_count"`
	DoorOpen    bool     `json:"door_open"`
	DoorOpenSec int64    `json:"door_open_sec"`
}

// SystemJSON reports alarm, defrost and output state.
type SystemJSON struct {
	Ready                bool    `json:"ready"`
	AlertActive          bool    `json:"alert_active"`
	AlertAcknowledged    bool    `json:"alert_acknowledged"`
	Critical             bool    `json:"critical"`
	AlertMessage         string  `json:"alert_message"`
	AlertType            string  `json:"alert_type,omitempty"`
	OverThresholdSec     int64   `json:"over_threshold_sec"`
	RelayOn              bool    `json:"relay_on"`
	BuzzerOn             bool    `json:"buzzer_on"`
	Phase                string  `json:"phase"`
	DefrostMode          bool    `json:"defrost_mode"`
	DefrostMinutes       int64   `json:"defrost_minutes"`
	CooldownMode         bool    `json:"cooldown_mode"`
	CooldownRemainingSec int64   `json:"cooldown_remaining_sec"`
	TempCritical         float64 `json:"temp_critical"`
	UptimeSec            int64   `json:"uptime_sec"`
	StartTime            string  `json:"start_time"`
	TotalAlerts          int     `json:"total_alerts"`
	SimulationMode       bool    `json:"simulation_mode"`
	DoorEnabled          bool    `json:"door_enabled"`
	Sensor2Enabled       bool    `json:"sensor2_enabled"`
	TelegramEnabled      bool    `json:"telegram_enabled"`
	CloudEnabled         bool    `json:"cloud_enabled"`
}

// DeviceJSON identifies the installation.
type DeviceJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Alarms        int `json:"alarms"`
	Clears        int `json:"clears"`
	Acks          int `json:"acks"`
	DefrostStarts int `json:"defrost_starts"`
	DefrostEnds   int `json:"defrost_ends"`
	DoorOpens     int `json:"door_opens"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

func optTemp(t float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	v := math.Round(t*100) / 100
	return &v
}

func seconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Build converts a snapshot into its JSON document.
func Build(snap Snapshot) StatusJSON {
	ls := snap.Logic

	sensorJSON := SensorJSON{
		Temp1:       optTemp(snap.Reading.Temp1, snap.Reading.Valid1),
		Temp2:       optTemp(snap.Reading.Temp2, snap.Reading.Valid2),
		TempAvg:     optTemp(ls.Sample.Average, ls.Sample.Valid),
		Valid:       ls.Sample.Valid,
		SensorCount: snap.Reading.Count,
		DoorOpen:    ls.Door.Open,
	}
	if ls.Door.Open {
		sensorJSON.DoorOpenSec = seconds(snap.Now.Sub(ls.Door.OpenedAt))
	}

	sys := SystemJSON{
		Ready:             snap.Ticked,
		AlertActive:       ls.Alarm.Active,
		AlertAcknowledged: ls.Alarm.Acknowledged,
		Critical:          ls.Alarm.Critical,
		AlertMessage:      ls.Alarm.Message,
		AlertType:         string(ls.Alarm.Kind),
		OverThresholdSec:  seconds(ls.Alarm.OverThreshold),
		RelayOn:           ls.RelayOn,
		BuzzerOn:          ls.BuzzerOn,
		Phase:             string(phaseOrIdle(ls.Phase)),
		DefrostMode:       ls.Defrost.Active,
		CooldownMode:      ls.Defrost.CooldownActive,
		TempCritical:      snap.Settings.TempCritical,
		UptimeSec:         seconds(snap.Uptime()),
		StartTime:         snap.StartTime.UTC().Format(time.RFC3339),
		TotalAlerts:       ls.Alarm.TotalTriggered,
		SimulationMode:    snap.Settings.SimulationMode,
		DoorEnabled:       snap.Settings.DoorEnabled,
		Sensor2Enabled:    snap.Settings.Sensor2Enabled,
		TelegramEnabled:   snap.Settings.TelegramEnabled,
		CloudEnabled:      snap.Settings.CloudEnabled,
	}
	if ls.Defrost.Active {
		sys.DefrostMinutes = int64(snap.Now.Sub(ls.Defrost.StartedAt) / time.Minute)
		if sys.DefrostMinutes < 0 {
			sys.DefrostMinutes = 0
		}
	}
	if ls.Defrost.CooldownActive {
		sys.CooldownRemainingSec = seconds(ls.Defrost.CooldownRemaining)
	}

	out := StatusJSON{
		Timestamp: snap.Now.UTC().Format(time.RFC3339),
		Sensor:    sensorJSON,
		System:    sys,
		Device: DeviceJSON{
			ID:       snap.Info.DeviceID,
			Name:     snap.Info.DeviceName,
			Location: snap.Info.Location,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Info.Broker},
		Counts: CountsJSON{
			Alarms:        ls.Counts.Alarms,
			Clears:        ls.Counts.Clears,
			Acks:          ls.Counts.Acks,
			DefrostStarts: ls.Counts.DefrostStarts,
			DefrostEnds:   ls.Counts.DefrostEnds,
			DoorOpens:     ls.Counts.DoorOpens,
		},
	}
	if n := snap.Network; n != nil {
		out.Device.IP = n.IP
		out.Network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}
	return out
}

func phaseOrIdle(p logic.DefrostPhase) logic.DefrostPhase {
	if p == "" {
		return logic.PhaseIdle
	}
	return p
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Build(snap), "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	doc := Build(snap)
	doc.Event = event
	doc.Reason = reason

	data, _ := json.Marshal(doc)
	return data
}
