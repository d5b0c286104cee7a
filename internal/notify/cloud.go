package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

// Cloud tables.
const (
	TableAlerts          = "alerts"
	TableDefrostSessions = "defrost_sessions"
	TableDoorEvents      = "door_events"
	TablePowerEvents     = "power_events"
	TableReadings        = "readings"
	TableDevices         = "devices"
)

// Cloud writes rows to a PostgREST-style backend.
type Cloud struct {
	baseURL string
	apiKey  string
	device  Device
	client  *http.Client
}

// NewCloud creates a Cloud channel. client may be nil to use http.DefaultClient.
func NewCloud(baseURL, apiKey string, device Device, client *http.Client) *Cloud {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cloud{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		device:  device,
		client:  client,
	}
}

func (c *Cloud) Name() string { return "cloud" }

// Send maps m onto a table row. Kinds and events with no table are ignored.
// Critical texts are skipped: the ALARM event behind every one of them is
// already recorded, and the rate limit on criticals would drop rows.
func (c *Cloud) Send(ctx context.Context, m Message) error {
	switch m.Kind {
	case KindReading:
		if err := c.insert(ctx, TableReadings, c.readingRow(m.Reading)); err != nil {
			return err
		}
		// Each upload doubles as the device heartbeat.
		return c.updateDevice(ctx, deviceRow{
			IsOnline: true,
			LastSeen: m.Reading.Time.UTC().Format(time.RFC3339),
		})
	case KindEvent:
		return c.sendEvent(ctx, m.Event)
	}
	return nil
}

type alertRow struct {
	DeviceID  string `json:"device_id"`
	AlertType string `json:"alert_type"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

type defrostRow struct {
	DeviceID    string   `json:"device_id"`
	TempAtStart *float64 `json:"temp_at_start,omitempty"`
	TriggeredBy string   `json:"triggered_by"`
}

type doorRow struct {
	DeviceID        string   `json:"device_id"`
	DoorNumber      int      `json:"door_number"`
	DoorName        string   `json:"door_name"`
	EventType       string   `json:"event_type"`
	OpenDurationSec *int64   `json:"open_duration_sec,omitempty"`
	TempAtOpen      *float64 `json:"temp_at_open,omitempty"`
	TempAtClose     *float64 `json:"temp_at_close,omitempty"`
	TempRise        *float64 `json:"temp_rise,omitempty"`
}

type powerRow struct {
	DeviceID       string   `json:"device_id"`
	EventType      string   `json:"event_type"`
	BatteryVoltage *float64 `json:"battery_voltage,omitempty"`
}

type deviceRow struct {
	IsOnline bool   `json:"is_online"`
	LastSeen string `json:"last_seen"`
}

type readingRow struct {
	DeviceID       string   `json:"device_id"`
	Temp1          *float64 `json:"temp1"`
	Temp2          *float64 `json:"temp2"`
	TempAvg        *float64 `json:"temp_avg"`
	Door1Open      bool     `json:"door1_open"`
	RelayOn        bool     `json:"relay_on"`
	BuzzerOn       bool     `json:"buzzer_on"`
	AlertActive    bool     `json:"alert_active"`
	DefrostMode    bool     `json:"defrost_mode"`
	CooldownMode   bool     `json:"cooldown_mode"`
	SimulationMode bool     `json:"simulation_mode"`
	UptimeSec      int64    `json:"uptime_sec"`
	ACPower        bool     `json:"ac_power"`
	BatteryVoltage *float64 `json:"battery_voltage,omitempty"`
	CurrentAmps    *float64 `json:"current_amps,omitempty"`
}

func (c *Cloud) readingRow(r Reading) readingRow {
	return readingRow{
		DeviceID:       c.device.ID,
		Temp1:          r.Temp1,
		Temp2:          r.Temp2,
		TempAvg:        r.TempAvg,
		Door1Open:      r.DoorOpen,
		RelayOn:        r.RelayOn,
		BuzzerOn:       r.BuzzerOn,
		AlertActive:    r.AlertActive,
		DefrostMode:    r.DefrostMode,
		CooldownMode:   r.CooldownMode,
		SimulationMode: r.SimulationMode,
		UptimeSec:      int64(r.Uptime / time.Second),
		ACPower:        true,
		BatteryVoltage: r.BatteryVoltage,
		CurrentAmps:    r.CurrentAmps,
	}
}

func (c *Cloud) sendEvent(ctx context.Context, e logic.Event) error {
	switch e.Kind {
	case logic.EventAlarm:
		kind := e.Alarm
		if kind == "" {
			kind = logic.AlarmTemperature
		}
		return c.insert(ctx, TableAlerts, alertRow{
			DeviceID:  c.device.ID,
			AlertType: string(kind),
			Severity:  string(e.Severity),
			Message:   e.Message,
		})

	case logic.EventAlarmClear, logic.EventAlarmAck:
		return c.insert(ctx, TableAlerts, alertRow{
			DeviceID:  c.device.ID,
			AlertType: strings.ToLower(string(e.Kind)),
			Severity:  string(logic.SeverityInfo),
			Message:   e.Message,
		})

	case logic.EventDefrostStart:
		row := defrostRow{DeviceID: c.device.ID, TriggeredBy: sourceLabel(e.Source)}
		if e.TempValid {
			row.TempAtStart = &e.Temperature
		}
		return c.insert(ctx, TableDefrostSessions, row)

	case logic.EventDoor:
		return c.insert(ctx, TableDoorEvents, doorEventRow(c.device.ID, e))

	case logic.EventPower:
		row := powerRow{DeviceID: c.device.ID, EventType: e.Message}
		if e.Battery > 0 {
			row.BatteryVoltage = &e.Battery
		}
		if err := c.insert(ctx, TablePowerEvents, row); err != nil {
			return err
		}
		return c.updateDevice(ctx, deviceRow{
			IsOnline: e.Message != PowerShutdown,
			LastSeen: e.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return nil
}

func doorEventRow(deviceID string, e logic.Event) doorRow {
	row := doorRow{
		DeviceID:   deviceID,
		DoorNumber: 1,
		DoorName:   "Door 1",
		EventType:  "opened",
	}
	if e.On {
		if e.HeldOpen {
			row.EventType = "held_open"
			d := int64(e.Duration / time.Second)
			row.OpenDurationSec = &d
		}
		return row
	}

	row.EventType = "closed"
	d := int64(e.Duration / time.Second)
	row.OpenDurationSec = &d
	if e.TempValid {
		open, closed := e.TempAtOpen, e.Temperature
		rise := closed - open
		row.TempAtOpen, row.TempAtClose, row.TempRise = &open, &closed, &rise
	}
	return row
}

func (c *Cloud) insert(ctx context.Context, table string, row any) error {
	return c.do(ctx, http.MethodPost, c.baseURL+"/rest/v1/"+table, row)
}

func (c *Cloud) updateDevice(ctx context.Context, row deviceRow) error {
	u := c.baseURL + "/rest/v1/" + TableDevices + "?device_id=eq." + url.QueryEscape(c.device.ID)
	return c.do(ctx, http.MethodPatch, u, row)
}

func (c *Cloud) do(ctx context.Context, method, u string, row any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
