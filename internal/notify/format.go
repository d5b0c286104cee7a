package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

// Power event reasons carried in Event.Message.
const (
	PowerRestored = "power_restored"
	PowerShutdown = "shutdown"
)

// TestText is the body of an operator-requested test message.
const TestText = "Test message. Notifications are working."

// header is the first line of every Telegram message.
func (d Device) header() string {
	name := d.Name
	if name == "" {
		name = d.ID
	}
	if d.Location != "" {
		return fmt.Sprintf("📍 %s (%s)", name, d.Location)
	}
	return "📍 " + name
}

// FormatCritical renders an alarm text for humans.
func FormatCritical(d Device, msg string) string {
	return "🚨 *CRITICAL ALARM*\n" + d.header() + "\n" + msg
}

// FormatTest renders a test message for humans.
func FormatTest(d Device, msg string) string {
	return "🔔 *Test*\n" + d.header() + "\n" + msg
}

// FormatEvent renders an event for humans. It returns "" for events that are
// not worth a chat message.
func FormatEvent(d Device, e logic.Event) string {
	var body string
	switch e.Kind {
	case logic.EventDefrostStart:
		body = fmt.Sprintf("❄️ *Defrost started* (%s)", sourceLabel(e.Source))
		if e.TempValid {
			body += fmt.Sprintf("\n🌡 %.1f°C", e.Temperature)
		}
	case logic.EventDefrostEnd:
		body = fmt.Sprintf("✅ *Defrost ended* after %d min\nAlarms held off during cooldown", minutes(e.Duration))
	case logic.EventCooldownEnd:
		body = "🟢 *Cooldown finished*, temperature monitoring resumed"
	case logic.EventAlarmClear:
		body = "✅ *Alarm cleared*"
		if e.Source == logic.SourceSensor {
			body += ", temperature back to normal"
		}
	case logic.EventAlarmAck:
		body = "🔕 *Alarm acknowledged*"
	case logic.EventAlarm:
		if e.Alarm != logic.AlarmTest {
			// Critical alarms arrive through FormatCritical
			return ""
		}
		body = "🧪 *Test alarm*"
	case logic.EventDoor:
		if !e.HeldOpen {
			return ""
		}
		body = fmt.Sprintf("🚪 *Door open* for %d min", minutes(e.Duration))
	case logic.EventPower:
		switch e.Message {
		case PowerRestored:
			body = "⚡ *Monitor started* (power restored)"
		case PowerShutdown:
			body = "🔌 *Monitor shutting down*"
		default:
			body = "⚡ *Power event*: " + e.Message
		}
		if e.Battery > 0 {
			body += fmt.Sprintf("\n🔋 %.2f V", e.Battery)
		}
	default:
		return ""
	}

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(d.header())
	return b.String()
}

func sourceLabel(s logic.Source) string {
	switch s {
	case logic.SourceManual:
		return "manual"
	case logic.SourceRelaySignal:
		return "automatic"
	}
	return string(s)
}

func minutes(d time.Duration) int64 {
	return int64(d / time.Minute)
}
