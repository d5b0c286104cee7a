package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/reefer-sensor/internal/command"
	"github.com/sweeney/reefer-sensor/internal/config"
	"github.com/sweeney/reefer-sensor/internal/journal"
	"github.com/sweeney/reefer-sensor/internal/logger"
	"github.com/sweeney/reefer-sensor/internal/logic"
	"github.com/sweeney/reefer-sensor/internal/metrics"
	"github.com/sweeney/reefer-sensor/internal/sensor"
	"github.com/sweeney/reefer-sensor/internal/status"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		Thresholds: config.ThresholdsConfig{
			TempCritical:       -10,
			AlertDelaySec:      300,
			DefrostCooldownSec: 1800,
			RelayEnabled:       true,
			BuzzerEnabled:      true,
			DoorOpenMaxSec:     180,
		},
		Sensor: config.SensorConfig{Mode: config.SensorSimulation},
		Loop:   config.LoopConfig{Tick: time.Second, PinPoll: 250 * time.Millisecond, NotifyTimeout: time.Second},
	}
}

// loop serves the bus the way the daemon's control loop does.
type loop struct {
	mu    sync.Mutex
	ctrl  *logic.Controller
	store *config.Store
	now   time.Time
	seen  []command.Request

	// telegramErr is the delivery result of a Telegram test.
	telegramErr error
}

func (l *loop) run(bus *command.Bus, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case req := <-bus.Requests():
			l.mu.Lock()
			l.seen = append(l.seen, req)
			th := l.store.Thresholds()
			applied := true
			var err error
			switch req.Kind {
			case command.Acknowledge:
				_, applied = l.ctrl.Acknowledge(l.now)
			case command.TestAlarm:
				_, applied = l.ctrl.TestAlarm(l.now, th)
			case command.ToggleDefrost:
				l.ctrl.ToggleDefrost(l.now, th)
			case command.SetRelay:
				l.ctrl.SetRelay(req.On, l.now)
			case command.TestTelegram:
				err = l.telegramErr
				applied = err == nil
			}
			l.now = l.now.Add(10 * time.Second)
			snap := l.ctrl.Snapshot()
			l.mu.Unlock()
			req.Reply <- command.Reply{Applied: applied, Err: err, Snapshot: snap}
		}
	}
}

func (l *loop) requests() []command.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]command.Request(nil), l.seen...)
}

type fixture struct {
	ts      *httptest.Server
	srv     *Server
	tracker *status.Tracker
	store   *config.Store
	loop    *loop
	journal *journal.Journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := config.NewStore(testConfig())
	tracker := status.NewTracker(start, status.Info{DeviceID: "reefer-01", DeviceName: "Cold room", Broker: "tcp://broker:1883"})

	j, err := journal.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	done := make(chan struct{})
	bus := command.NewBus(done)
	l := &loop{ctrl: logic.NewController(start), store: store, now: start.Add(time.Minute)}
	go l.run(bus, done)
	t.Cleanup(func() { close(done) })

	srv := New(Options{
		Addr:     ":0",
		Tracker:  tracker,
		Store:    store,
		Commands: bus,
		Events:   j,
		Metrics:  metrics.New().Handler(),
		Log:      logger.Nop(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{ts: ts, srv: srv, tracker: tracker, store: store, loop: l, journal: j}
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("POST %s: decode %q: %v", path, raw, err)
		}
	}
	return resp, out
}

func (f *fixture) getJSON(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	f.tracker.Update(logic.Snapshot{
		Sample: logic.Sample{Average: -18.5, Valid: true},
		Phase:  logic.PhaseIdle,
		Counts: logic.EventCounts{Alarms: 2},
	}, sensor.Reading{Temp1: -18.5, Valid1: true, Count: 1}, f.store.Settings())
	f.tracker.SetMQTTConnected(true)

	var doc status.StatusJSON
	resp := f.getJSON(t, "/api/status", &doc)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	if doc.Sensor.TempAvg == nil || *doc.Sensor.TempAvg != -18.5 {
		t.Errorf("temp_avg: %v", doc.Sensor.TempAvg)
	}
	if !doc.System.Ready || doc.System.TempCritical != -10 {
		t.Errorf("system: %+v", doc.System)
	}
	if !doc.MQTT.Connected || doc.Device.ID != "reefer-01" {
		t.Errorf("mqtt/device: %+v %+v", doc.MQTT, doc.Device)
	}
	if doc.Counts.Alarms != 2 {
		t.Errorf("counts: %+v", doc.Counts)
	}
}

func TestCORSOnAPI(t *testing.T) {
	f := newFixture(t)

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/api/status", nil)
	req.Header.Set("Origin", "http://dashboard.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin: got %q, want *", got)
	}

	pre, _ := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/relay", nil)
	pre.Header.Set("Origin", "http://dashboard.example")
	pre.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(pre)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("preflight status: got %d, want 200", resp.StatusCode)
	}
}

func TestConfigGetAndPatch(t *testing.T) {
	f := newFixture(t)

	var got map[string]any
	f.getJSON(t, "/api/config", &got)
	if got["temp_critical"] != float64(-10) || got["alert_delay_sec"] != float64(300) {
		t.Errorf("config: %v", got)
	}

	resp, body := f.post(t, "/api/config", `{"temp_critical": -15.5, "buzzer_enabled": false}`)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("patch: %d %v", resp.StatusCode, body)
	}
	th := f.store.Thresholds()
	if th.TempCritical != -15.5 || th.BuzzerEnabled {
		t.Errorf("thresholds not applied: %+v", th)
	}
	if th.AlertDelay != 300*time.Second {
		t.Errorf("untouched field changed: %v", th.AlertDelay)
	}
}

func TestConfigPatchRejected(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"out of range", `{"temp_critical": 200}`},
		{"negative delay", `{"alert_delay_sec": -1}`},
		{"malformed", `{"temp_critical":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.post(t, "/api/config", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", resp.StatusCode)
			}
			if body["error"] == nil || body["success"] != false {
				t.Errorf("body: %v", body)
			}
		})
	}
	if f.store.Thresholds().TempCritical != -10 {
		t.Error("rejected patch must not change settings")
	}
}

func TestDefrostToggle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/defrost", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if body["defrost_mode"] != true || body["cooldown_mode"] != false || body["phase"] != "DEFROSTING" {
		t.Errorf("first toggle: %v", body)
	}

	_, body = f.post(t, "/api/defrost", "")
	if body["defrost_mode"] != false || body["cooldown_mode"] != true || body["phase"] != "COOLDOWN" {
		t.Errorf("second toggle: %v", body)
	}

	reqs := f.loop.requests()
	if len(reqs) != 2 || reqs[0].Kind != command.ToggleDefrost || reqs[0].Origin != "http" {
		t.Errorf("requests: %+v", reqs)
	}
}

func TestRelay(t *testing.T) {
	f := newFixture(t)

	_, body := f.post(t, "/api/relay", `{"state": true}`)
	if body["success"] != true || body["state"] != true {
		t.Errorf("relay on: %v", body)
	}
	_, body = f.post(t, "/api/relay", `{"state": false}`)
	if body["state"] != false {
		t.Errorf("relay off: %v", body)
	}

	resp, _ := f.post(t, "/api/relay", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing state: got %d, want 400", resp.StatusCode)
	}
}

func TestAckAndTestAlarm(t *testing.T) {
	f := newFixture(t)

	_, body := f.post(t, "/api/alert/ack", "")
	if body["applied"] != false || body["message"] == nil {
		t.Errorf("ack without alarm: %v", body)
	}

	_, body = f.post(t, "/api/alert/test", "")
	if body["applied"] != true {
		t.Errorf("test alarm: %v", body)
	}

	_, body = f.post(t, "/api/alert/ack", "")
	if body["applied"] != true {
		t.Errorf("ack of test alarm: %v", body)
	}
}

func TestTelegramTest(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/telegram/test", "")
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Errorf("delivered: got %d %v", resp.StatusCode, body)
	}

	f.loop.mu.Lock()
	f.loop.telegramErr = errors.New("telegram: status 401: Unauthorized")
	f.loop.mu.Unlock()

	resp, body = f.post(t, "/api/telegram/test", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("failed delivery: got %d, want 500", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "Unauthorized") {
		t.Errorf("error body: %v", body)
	}

	reqs := f.loop.requests()
	if len(reqs) != 2 || reqs[0].Kind != command.TestTelegram || reqs[0].Origin != "http" {
		t.Errorf("requests: %+v", reqs)
	}
}

type stoppedCommander struct{}

func (stoppedCommander) Send(context.Context, command.Request) (command.Reply, error) {
	return command.Reply{}, command.ErrClosed
}

func TestCommandWhenLoopStopped(t *testing.T) {
	srv := New(Options{
		Tracker:  status.NewTracker(start, status.Info{}),
		Store:    config.NewStore(testConfig()),
		Commands: stoppedCommander{},
		Log:      logger.Nop(),
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/alert/ack", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", resp.StatusCode)
	}

	// No journal configured.
	resp, err = http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("events without journal: got %d, want 404", resp.StatusCode)
	}
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, kind := range []logic.EventKind{logic.EventDefrostStart, logic.EventDefrostEnd, logic.EventAlarm} {
		e := logic.Event{Kind: kind, Timestamp: start.Add(time.Duration(i) * time.Hour), Severity: logic.SeverityInfo}
		if err := f.journal.Append(ctx, journal.FromEvent(e)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var all []journal.Entry
	f.getJSON(t, "/api/events", &all)
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}

	var filtered []journal.Entry
	f.getJSON(t, "/api/events?type=defrost_end", &filtered)
	if len(filtered) != 1 || filtered[0].Kind != "DEFROST_END" {
		t.Errorf("type filter: %+v", filtered)
	}

	var ranged []journal.Entry
	f.getJSON(t, "/api/events?from=2026-01-01T00:30:00Z&to=2026-01-01T01:30:00Z", &ranged)
	if len(ranged) != 1 || ranged[0].Kind != "DEFROST_END" {
		t.Errorf("range filter: %+v", ranged)
	}

	resp := f.getJSON(t, "/api/events?from=yesterday", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad from: got %d, want 400", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "reefer_temperature_celsius") {
		t.Errorf("metrics output missing temperature gauge")
	}
}

func TestHTMLEndpoint(t *testing.T) {
	f := newFixture(t)
	f.tracker.Update(logic.Snapshot{
		Alarm:  logic.AlarmState{Active: true, Message: "Temperature high"},
		Sample: logic.Sample{Average: -4, Valid: true},
	}, sensor.Reading{}, f.store.Settings())

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(f.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q", path, ct)
		}
		for _, want := range []string{"Cold room", "ACTIVE", "-4.0°C", "Temperature high"} {
			if !strings.Contains(string(body), want) {
				t.Errorf("%s: missing %q", path, want)
			}
		}
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStreamPushesUpdates(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() streamMessage {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var m streamMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		return m
	}

	first := read()
	if first.Type != "status" || first.Data.System.Ready {
		t.Errorf("initial frame: %+v", first)
	}

	f.tracker.Update(logic.Snapshot{Phase: logic.PhaseDefrosting, Defrost: logic.DefrostState{Active: true, StartedAt: time.Now()}},
		sensor.Reading{}, f.store.Settings())

	next := read()
	if !next.Data.System.Ready || !next.Data.System.DefrostMode {
		t.Errorf("update frame: %+v", next.Data.System)
	}
}

func TestShutdownClosesStreams(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var m streamMessage
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read initial: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = f.srv.Shutdown(ctx)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseGoingAway {
		t.Errorf("expected going-away close, got %v", err)
	}
}
