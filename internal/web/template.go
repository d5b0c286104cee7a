package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/reefer-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"temp": func(v *float64) string {
		if v == nil {
			return "--"
		}
		return fmt.Sprintf("%.1f°C", *v)
	},
	"onOff": func(b bool) string {
		if b {
			return "ON"
		}
		return "OFF"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{if .Device.Name}}{{.Device.Name}}{{else}}Reefer Sensor{{end}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.alarm { color: red; font-weight: bold; }
.ok { color: green; }
.muted { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
button { font-family: monospace; margin: 0 4px 4px 0; padding: 4px 10px; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>{{if .Device.Name}}{{.Device.Name}}{{else}}Reefer Sensor{{end}}<span id="live-dot" class="live-dot" title="connecting"></span></h1>
{{if .Device.Location}}<p class="muted">{{.Device.Location}}</p>{{end}}

<h2>Temperature</h2>
<table>
<tr><th>Average</th><td id="temp-avg">{{temp .Sensor.TempAvg}}</td></tr>
<tr><th>Sensor 1</th><td id="temp1">{{temp .Sensor.Temp1}}</td></tr>
<tr><th>Sensor 2</th><td id="temp2">{{temp .Sensor.Temp2}}</td></tr>
<tr><th>Limit</th><td>{{printf "%.1f" .System.TempCritical}}°C</td></tr>
<tr><th>Door</th><td id="door">{{if .Sensor.DoorOpen}}open {{.Sensor.DoorOpenSec}}s{{else}}closed{{end}}</td></tr>
</table>

<h2>Alarm</h2>
<table>
<tr><th>State</th><td id="alarm" class="{{if .System.AlertActive}}alarm{{else}}ok{{end}}">{{if .System.AlertActive}}{{if .System.AlertAcknowledged}}ACKNOWLEDGED{{else}}ACTIVE{{end}}{{else}}normal{{end}}</td></tr>
<tr><th>Message</th><td id="alarm-msg">{{.System.AlertMessage}}</td></tr>
<tr><th>Over limit</th><td id="over">{{.System.OverThresholdSec}}s</td></tr>
<tr><th>Defrost</th><td id="phase">{{.System.Phase}}{{if .System.DefrostMode}} ({{.System.DefrostMinutes}} min){{end}}{{if .System.CooldownMode}} ({{.System.CooldownRemainingSec}}s left){{end}}</td></tr>
<tr><th>Relay</th><td id="relay">{{onOff .System.RelayOn}}</td></tr>
<tr><th>Buzzer</th><td id="buzzer">{{onOff .System.BuzzerOn}}</td></tr>
</table>
<p>
<button onclick="post('/api/alert/ack')">Acknowledge</button>
<button onclick="post('/api/defrost')">Toggle defrost</button>
<button onclick="post('/api/relay', {state: true})">Relay on</button>
<button onclick="post('/api/relay', {state: false})">Relay off</button>
<button onclick="post('/api/alert/test')">Test alarm</button>
</p>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTT.Connected}}connected{{else}}disconnected{{end}}">{{if .MQTT.Connected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.MQTT.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Alarms</th><td>{{.Counts.Alarms}}</td></tr>
<tr><th>Cleared</th><td>{{.Counts.Clears}}</td></tr>
<tr><th>Acknowledged</th><td>{{.Counts.Acks}}</td></tr>
<tr><th>Defrost cycles</th><td>{{.Counts.DefrostStarts}}</td></tr>
<tr><th>Door openings</th><td>{{.Counts.DoorOpens}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Device</th><td>{{.Device.ID}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.System.StartTime}}</td></tr>
<tr><th>Simulation</th><td>{{if .System.SimulationMode}}yes{{else}}no{{end}}</td></tr>
</table>

<p><a href="/api/status">JSON</a> · <a href="/api/events">Events</a> · <a href="/metrics">Metrics</a></p>
<script>
function post(path, body) {
  fetch(path, {method: "POST", headers: {"Content-Type": "application/json"}, body: body ? JSON.stringify(body) : "{}"});
}
(function() {
  var dot = document.getElementById("live-dot");
  function t(v) { return v === null || v === undefined ? "--" : v.toFixed(1) + "°C"; }
  function set(id, text) { document.getElementById(id).textContent = text; }
  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onopen = function() { dot.className = "live-dot ok"; dot.title = "live"; };
    ws.onclose = function() { dot.className = "live-dot err"; dot.title = "offline"; setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var m = JSON.parse(ev.data);
        if (m.type !== "status") return;
        var s = m.data.sensor, y = m.data.system;
        set("temp-avg", t(s.temp_avg));
        set("temp1", t(s.temp1));
        set("temp2", t(s.temp2));
        set("door", s.door_open ? "open " + s.door_open_sec + "s" : "closed");
        var a = document.getElementById("alarm");
        a.textContent = y.alert_active ? (y.alert_acknowledged ? "ACKNOWLEDGED" : "ACTIVE") : "normal";
        a.className = y.alert_active ? "alarm" : "ok";
        set("alarm-msg", y.alert_message);
        set("over", y.over_threshold_sec + "s");
        set("phase", y.phase + (y.defrost_mode ? " (" + y.defrost_minutes + " min)" : "") + (y.cooldown_mode ? " (" + y.cooldown_remaining_sec + "s left)" : ""));
        set("relay", y.relay_on ? "ON" : "OFF");
        set("buzzer", y.buzzer_on ? "ON" : "OFF");
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// The template needs Uptime as a field.
	data := struct {
		status.StatusJSON
		Uptime time.Duration
	}{
		StatusJSON: status.Build(snap),
		Uptime:     snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
