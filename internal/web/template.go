package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/step-sensor/internal/logic"
	"github.com/sweeney/step-sensor/internal/status"
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
	"percent": func(value, goal int64) int64 {
		if goal <= 0 {
			return 0
		}
		p := value * 100 / goal
		if p > 100 {
			p = 100
		}
		return p
	},
	"reached": func(l logic.Latch) bool { return l == logic.AtOrAboveGoal },
	"dayOrNone": func(s string) string {
		if s == "" {
			return "none"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Step Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.reached { color: green; font-weight: bold; }
.below { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Step Sensor</h1>

<h2>Today ({{dayOrNone .State.Day}})</h2>
<table>
<tr><th>Steps</th><td id="steps">{{.State.Steps}} / {{.Goals.Steps}} ({{percent .State.Steps .Goals.Steps}}%)</td></tr>
<tr><th>Steps goal</th>{{if reached .State.StepsLatch}}<td class="reached">reached</td>{{else}}<td class="below">not yet</td>{{end}}</tr>
<tr><th>Water</th><td id="water">{{.State.WaterML}} / {{.Goals.WaterML}} ml ({{percent .State.WaterML .Goals.WaterML}}%)</td></tr>
<tr><th>Water goal</th>{{if reached .State.WaterLatch}}<td class="reached">reached</td>{{else}}<td class="below">not yet</td>{{end}}</tr>
</table>

<form id="water-form">
<input type="number" id="water-ml" value="250" min="-5000" max="5000">
<button type="submit">Add water (ml)</button>
<button type="button" data-ack="steps">Dismiss steps</button>
<button type="button" data-ack="water">Dismiss water</button>
</form>

<h2>Sensor</h2>
<table>
<tr><th>Available</th><td class="{{if .State.SensorAvailable}}connected{{else}}disconnected{{end}}">{{if .State.SensorAvailable}}yes{{else}}no{{end}}</td></tr>
<tr><th>Raw count</th><td>{{.State.LastRaw}}</td></tr>
<tr><th>Baseline</th><td>{{.State.Baseline.Value}} ({{dayOrNone .State.Baseline.Day}})</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>Readings</th><td>{{.Counts.Readings}}</td></tr>
<tr><th>Rejected</th><td>{{.Counts.Rejected}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Config.NATSURL}}<tr><th>NATS</th><td>{{.Config.NATSURL}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Sensor</th><td>{{.Config.SensorKind}}</td></tr>
<tr><th>Refresh</th><td>{{.Config.RefreshMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/api/history">History</a> · <a href="/metrics">Metrics</a></p>
<script>
(function() {
  function post(path, body) {
    return fetch(path, {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify(body)})
      .then(function() { location.reload(); });
  }
  document.getElementById("water-form").addEventListener("submit", function(e) {
    e.preventDefault();
    post("/api/water", {ml: parseInt(document.getElementById("water-ml").value, 10)});
  });
  document.querySelectorAll("[data-ack]").forEach(function(b) {
    b.addEventListener("click", function() { post("/api/ack", {metric: b.dataset.ack}); });
  });
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	return indexTmpl.Execute(w, snap)
}
