package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

type cloudRequest struct {
	method string
	path   string
	query  string
	header http.Header
	row    map[string]any
}

type cloudServer struct {
	mu       sync.Mutex
	requests []cloudRequest
	status   int
}

func (c *cloudServer) all() []cloudRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cloudRequest(nil), c.requests...)
}

func newCloudServer(t *testing.T) (*cloudServer, *Cloud) {
	cs := &cloudServer{status: http.StatusCreated}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			t.Errorf("decode %s: %v", r.URL.Path, err)
		}
		cs.mu.Lock()
		cs.requests = append(cs.requests, cloudRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
			row:    row,
		})
		status := cs.status
		cs.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return cs, NewCloud(srv.URL+"/", "anon-key", dev, srv.Client())
}

func TestCloudReading(t *testing.T) {
	cs, c := newCloudServer(t)
	t1, avg, amps := -18.25, -18.25, 4.2

	err := c.Send(context.Background(), Message{Kind: KindReading, Reading: Reading{
		Time:        t0,
		Temp1:       &t1,
		TempAvg:     &avg,
		RelayOn:     true,
		DefrostMode: true,
		Uptime:      90 * time.Second,
		CurrentAmps: &amps,
	}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	reqs := cs.all()
	if len(reqs) != 2 {
		t.Fatalf("expected reading insert and device update, got %d requests", len(reqs))
	}
	r := reqs[0]
	if r.method != http.MethodPost || r.path != "/rest/v1/readings" {
		t.Errorf("unexpected %s %s", r.method, r.path)
	}
	if r.header.Get("apikey") != "anon-key" || r.header.Get("Authorization") != "Bearer anon-key" {
		t.Errorf("auth headers: %v", r.header)
	}
	if r.header.Get("Prefer") != "return=minimal" {
		t.Errorf("prefer header: %q", r.header.Get("Prefer"))
	}
	if r.row["device_id"] != "reefer-01" || r.row["temp1"] != -18.25 || r.row["temp2"] != nil {
		t.Errorf("row: %v", r.row)
	}
	if r.row["uptime_sec"] != float64(90) || r.row["relay_on"] != true || r.row["defrost_mode"] != true {
		t.Errorf("row: %v", r.row)
	}
	if r.row["current_amps"] != 4.2 {
		t.Errorf("current_amps: %v", r.row["current_amps"])
	}
	if _, ok := r.row["battery_voltage"]; ok {
		t.Error("battery_voltage should be omitted without a gauge")
	}

	patch := reqs[1]
	if patch.method != http.MethodPatch || patch.path != "/rest/v1/devices" || patch.query != "device_id=eq.reefer-01" {
		t.Errorf("unexpected %s %s?%s", patch.method, patch.path, patch.query)
	}
	if patch.row["is_online"] != true || patch.row["last_seen"] != "2026-03-01T12:00:00Z" {
		t.Errorf("device row: %v", patch.row)
	}
}

func TestCloudReadingFailureSkipsDeviceUpdate(t *testing.T) {
	cs, c := newCloudServer(t)
	cs.status = http.StatusServiceUnavailable

	if err := c.Send(context.Background(), Message{Kind: KindReading, Reading: Reading{Time: t0}}); err == nil {
		t.Fatal("expected error on 503")
	}
	if reqs := cs.all(); len(reqs) != 1 {
		t.Errorf("expected only the failed insert, got %d requests", len(reqs))
	}
}

func TestCloudEventRouting(t *testing.T) {
	tests := []struct {
		name  string
		msg   Message
		paths []string
		check func(t *testing.T, row map[string]any)
	}{
		{
			name: "critical text ignored",
			msg:  Message{Kind: KindCritical, Text: "too warm"},
		},
		{
			name: "temperature alarm",
			msg: Message{Kind: KindEvent, Event: logic.Event{
				Kind: logic.EventAlarm, Alarm: logic.AlarmTemperature, Severity: logic.SeverityCritical, Message: "too warm",
			}},
			paths: []string{"/rest/v1/alerts"},
			check: func(t *testing.T, row map[string]any) {
				if row["alert_type"] != "temperature" || row["severity"] != "critical" || row["message"] != "too warm" {
					t.Errorf("row: %v", row)
				}
			},
		},
		{
			name:  "test alarm",
			msg:   Message{Kind: KindEvent, Event: logic.Event{Kind: logic.EventAlarm, Alarm: logic.AlarmTest, Severity: logic.SeverityWarning}},
			paths: []string{"/rest/v1/alerts"},
			check: func(t *testing.T, row map[string]any) {
				if row["alert_type"] != "test" || row["severity"] != "warning" {
					t.Errorf("row: %v", row)
				}
			},
		},
		{
			name:  "ack",
			msg:   Message{Kind: KindEvent, Event: logic.Event{Kind: logic.EventAlarmAck}},
			paths: []string{"/rest/v1/alerts"},
			check: func(t *testing.T, row map[string]any) {
				if row["alert_type"] != "alarm_ack" {
					t.Errorf("row: %v", row)
				}
			},
		},
		{
			name:  "defrost start",
			msg:   Message{Kind: KindEvent, Event: logic.Event{Kind: logic.EventDefrostStart, Source: logic.SourceRelaySignal, Temperature: -17, TempValid: true}},
			paths: []string{"/rest/v1/defrost_sessions"},
			check: func(t *testing.T, row map[string]any) {
				if row["triggered_by"] != "automatic" || row["temp_at_start"] != float64(-17) {
					t.Errorf("row: %v", row)
				}
			},
		},
		{
			name:  "door closed",
			msg:   Message{Kind: KindEvent, Event: logic.Event{Kind: logic.EventDoor, On: false, Duration: 45 * time.Second, TempAtOpen: -18, Temperature: -15, TempValid: true}},
			paths: []string{"/rest/v1/door_events"},
			check: func(t *testing.T, row map[string]any) {
				if row["event_type"] != "closed" || row["open_duration_sec"] != float64(45) || row["temp_rise"] != float64(3) {
					t.Errorf("row: %v", row)
				}
			},
		},
		{
			name:  "door opened",
			msg:   Message{Kind: KindEvent, Event: logic.Event{Kind: logic.EventDoor, On: true}},
			paths: []string{"/rest/v1/door_events"},
			check: func(t *testing.T, row map[string]any) {
				if row["event_type"] != "opened" || row["door_number"] != float64(1) {
					t.Errorf("row: %v", row)
				}
				if _, ok := row["open_duration_sec"]; ok {
					t.Errorf("unexpected duration: %v", row)
				}
			},
		},
		{
			name:  "power",
			msg:   Message{Kind: KindEvent, Event: logic.Event{Kind: logic.EventPower, Message: PowerRestored, Battery: 12.4, Timestamp: t0}},
			paths: []string{"/rest/v1/power_events", "/rest/v1/devices"},
			check: func(t *testing.T, row map[string]any) {
				if row["event_type"] != "power_restored" || row["battery_voltage"] != 12.4 {
					t.Errorf("row: %v", row)
				}
			},
		},
		{
			name: "relay ignored",
			msg:  Message{Kind: KindEvent, Event: logic.Event{Kind: logic.EventRelay, On: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, c := newCloudServer(t)
			if err := c.Send(context.Background(), tt.msg); err != nil {
				t.Fatalf("Send: %v", err)
			}
			reqs := cs.all()
			if len(reqs) != len(tt.paths) {
				t.Fatalf("expected %d requests, got %d", len(tt.paths), len(reqs))
			}
			for i, p := range tt.paths {
				if reqs[i].path != p {
					t.Errorf("request %d: expected %s, got %s", i, p, reqs[i].path)
				}
			}
			if tt.check != nil {
				tt.check(t, reqs[0].row)
			}
		})
	}
}

func TestCloudShutdownMarksDeviceOffline(t *testing.T) {
	cs, c := newCloudServer(t)
	err := c.Send(context.Background(), Message{Kind: KindEvent, Event: logic.Event{
		Kind: logic.EventPower, Message: PowerShutdown, Timestamp: t0,
	}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	reqs := cs.all()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	patch := reqs[1]
	if patch.method != http.MethodPatch || patch.query != "device_id=eq.reefer-01" {
		t.Errorf("unexpected %s ?%s", patch.method, patch.query)
	}
	if patch.row["is_online"] != false || patch.row["last_seen"] != "2026-03-01T12:00:00Z" {
		t.Errorf("row: %v", patch.row)
	}
}

func TestCloudHTTPError(t *testing.T) {
	cs, c := newCloudServer(t)
	cs.status = http.StatusUnauthorized

	e := logic.Event{Kind: logic.EventAlarm, Alarm: logic.AlarmTemperature, Severity: logic.SeverityCritical}
	if err := c.Send(context.Background(), Message{Kind: KindEvent, Event: e}); err == nil {
		t.Fatal("expected error on 401")
	}
}
