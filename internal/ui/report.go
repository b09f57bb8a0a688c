package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/muurk/minilink/internal/messages"
)

// MessageDetails lists the fields of a decoded report in display order
func MessageDetails(m messages.Message) []Detail {
	switch m := m.(type) {
	case *messages.DeviceInfo:
		return []Detail{
			{"Device ID", fmt.Sprintf("%d", m.DeviceID)},
			{"MAC", m.MACString()},
			{"Bound", fmt.Sprintf("%v", m.Bound)},
			{"Firmware", m.FirmwareVersion.String()},
			{"Hardware", m.HardwareVersion.String()},
			{"Bootloader", m.BootloaderVersion.String()},
			{"BLE", m.BLEVersion.String()},
			{"Protocol", fmt.Sprintf("%d", m.ProtocolVersion)},
		}
	case *messages.Status:
		return []Detail{
			{"Battery", fmt.Sprintf("%d%%", m.Battery)},
			{"Position", m.Position.String()},
			{"Motion", m.Motion.String()},
			{"Work mode", m.WorkMode.String()},
			{"Modules", m.Modules.String()},
			{"Temperature", fmt.Sprintf("%.2f°C", m.Temperature)},
			{"Humidity", fmt.Sprintf("%.2f%%", m.Humidity)},
			{"Report every", m.ReportFrequency.String()},
			{"Heartbeat", m.HeartbeatInterval.String()},
			{"GPS interval", m.GPSInterval.String()},
			{"Upload interval", m.UploadInterval.String()},
			{"Uptime", m.RunTime.String()},
		}
	case *messages.Alarm:
		return []Detail{
			{"Alarm", m.AlarmType.String()},
			{"Device ID", fmt.Sprintf("%d", m.DeviceID)},
			{"At", m.Timestamp.UTC().Format(time.RFC3339)},
			{"Position", m.Position.String()},
			{"Motion", m.Motion.String()},
			{"Battery", fmt.Sprintf("%d%%", m.Battery)},
		}
	case *messages.PositionReport:
		details := []Detail{
			{"Device ID", fmt.Sprintf("%d", m.DeviceID)},
			{"Interval", m.Interval.String()},
			{"Points", fmt.Sprintf("%d", len(m.Points))},
		}
		for _, p := range m.Points {
			details = append(details, Detail{p.Timestamp.UTC().Format("15:04:05"), p.Position.String()})
		}
		return details
	default:
		return []Detail{{"Message", m.String()}}
	}
}

// RenderMessage renders a decoded report under a kind heading
func RenderMessage(m messages.Message) string {
	kind := ReportKindStyle.Render(strings.ToUpper(m.Type().String()))
	if a, ok := m.(*messages.Alarm); ok {
		kind = ErrorTitleStyle.Render(strings.ToUpper(a.AlarmType.String()) + " ALARM")
	}
	lines := append([]string{kind}, renderDetails(MessageDetails(m))...)
	return strings.Join(lines, "\n")
}
