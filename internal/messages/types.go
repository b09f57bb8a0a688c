package messages

import (
	"fmt"
	"strings"
	"time"

	"github.com/muurk/minilink/internal/protocol"
)

// Message is a decoded application report
type Message interface {
	Type() protocol.Command
	String() string
}

// Hemisphere is the ASCII hemisphere flag following a coordinate
type Hemisphere byte

const (
	HemisphereNone  Hemisphere = 0x00 // No fix
	HemisphereNorth Hemisphere = 'N'
	HemisphereSouth Hemisphere = 'S'
	HemisphereEast  Hemisphere = 'E'
	HemisphereWest  Hemisphere = 'W'
)

func (h Hemisphere) String() string {
	if h == HemisphereNone {
		return "-"
	}
	return string(rune(h))
}

// WorkMode is the tracker's power/reporting profile
type WorkMode uint8

const (
	WorkModeNormal      WorkMode = 0
	WorkModePowerSaving WorkMode = 1
	WorkModeRealtime    WorkMode = 2
)

func (m WorkMode) String() string {
	switch m {
	case WorkModeNormal:
		return "normal"
	case WorkModePowerSaving:
		return "powerSaving"
	case WorkModeRealtime:
		return "realtime"
	default:
		return fmt.Sprintf("WorkMode(%d)", uint8(m))
	}
}

// ParseWorkMode resolves a work mode by name
func ParseWorkMode(s string) (WorkMode, error) {
	for _, m := range []WorkMode{WorkModeNormal, WorkModePowerSaving, WorkModeRealtime} {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown work mode %q (want normal, powerSaving or realtime)", s)
}

// Motion reports whether the accelerometer saw movement
type Motion uint8

const (
	MotionStill  Motion = 0
	MotionMoving Motion = 1
)

func (m Motion) String() string {
	switch m {
	case MotionStill:
		return "still"
	case MotionMoving:
		return "moving"
	default:
		return fmt.Sprintf("Motion(%d)", uint8(m))
	}
}

// AlarmType identifies what raised an alarm report
type AlarmType uint8

const (
	AlarmSOS        AlarmType = 1
	AlarmLowBattery AlarmType = 2
	AlarmFall       AlarmType = 3
	AlarmFenceExit  AlarmType = 4
	AlarmTamper     AlarmType = 5
)

func (a AlarmType) String() string {
	switch a {
	case AlarmSOS:
		return "sos"
	case AlarmLowBattery:
		return "lowBattery"
	case AlarmFall:
		return "fall"
	case AlarmFenceExit:
		return "fenceExit"
	case AlarmTamper:
		return "tamper"
	default:
		return fmt.Sprintf("AlarmType(%d)", uint8(a))
	}
}

// ModuleStatus is the bitfield of powered/healthy device modules
type ModuleStatus uint16

const (
	ModuleGPS           ModuleStatus = 0x01
	ModuleCellular      ModuleStatus = 0x02
	ModuleBLE           ModuleStatus = 0x04
	ModuleAccelerometer ModuleStatus = 0x08
	ModuleCharging      ModuleStatus = 0x10
)

// Has reports whether every bit in flag is set
func (s ModuleStatus) Has(flag ModuleStatus) bool {
	return s&flag == flag
}

func (s ModuleStatus) String() string {
	names := []struct {
		flag ModuleStatus
		name string
	}{
		{ModuleGPS, "gps"},
		{ModuleCellular, "cellular"},
		{ModuleBLE, "ble"},
		{ModuleAccelerometer, "accel"},
		{ModuleCharging, "charging"},
	}
	var parts []string
	for _, n := range names {
		if s.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Version is a firmware/hardware version packed as four bytes
type Version uint32

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// Position is one GPS fix. Latitude and Longitude are signed decimal
// degrees (south and west negative); Altitude is in metres.
type Position struct {
	Latitude      float64
	LatHemisphere Hemisphere
	Longitude     float64
	LonHemisphere Hemisphere
	Altitude      float64
}

// HasFix reports whether the device had a GPS fix for this position
func (p Position) HasFix() bool {
	return p.LatHemisphere != HemisphereNone && p.LonHemisphere != HemisphereNone
}

func (p Position) String() string {
	if !p.HasFix() {
		return "no fix"
	}
	return fmt.Sprintf("%.4f,%.4f alt %.1fm", p.Latitude, p.Longitude, p.Altitude)
}

// DeviceInfo (0x0001) describes the tracker's identity and versions
type DeviceInfo struct {
	ProtocolVersion   uint16
	MAC               [6]byte
	Bound             bool
	HardwareVersion   Version
	FirmwareVersion   Version
	BootloaderVersion Version
	BLEVersion        Version
	DeviceID          uint64
}

func (m *DeviceInfo) Type() protocol.Command { return protocol.CmdDeviceInfo }

// MACString formats the MAC as colon-separated hex
func (m *DeviceInfo) MACString() string {
	parts := make([]string, len(m.MAC))
	for i, b := range m.MAC {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

func (m *DeviceInfo) String() string {
	return fmt.Sprintf("DeviceInfo{id=%d, mac=%s, bound=%v, hw=%s, fw=%s, boot=%s, ble=%s, proto=%d}",
		m.DeviceID, m.MACString(), m.Bound, m.HardwareVersion, m.FirmwareVersion,
		m.BootloaderVersion, m.BLEVersion, m.ProtocolVersion)
}

// Status (0x0002) is periodic telemetry
type Status struct {
	RunTime           time.Duration
	Temperature       float64 // Celsius
	Humidity          float64 // Percent relative humidity
	Battery           uint8   // Percent
	Modules           ModuleStatus
	WorkMode          WorkMode
	ReportFrequency   time.Duration
	Position          Position
	Motion            Motion
	HeartbeatInterval time.Duration
	GPSInterval       time.Duration
	UploadInterval    time.Duration
}

func (m *Status) Type() protocol.Command { return protocol.CmdStatusReport }

func (m *Status) String() string {
	return fmt.Sprintf("Status{battery=%d%%, temp=%.2fC, humidity=%.2f%%, mode=%s, modules=%s, motion=%s, position=%s, uptime=%s}",
		m.Battery, m.Temperature, m.Humidity, m.WorkMode, m.Modules, m.Motion, m.Position, m.RunTime)
}

// Alarm (0x0003) is raised by SOS, fall detection and similar events
type Alarm struct {
	DeviceID  uint64
	Timestamp time.Time
	Position  Position
	Motion    Motion
	AlarmType AlarmType
	Battery   uint8
}

func (m *Alarm) Type() protocol.Command { return protocol.CmdAlarmReport }

func (m *Alarm) String() string {
	return fmt.Sprintf("Alarm{id=%d, type=%s, at=%s, position=%s, battery=%d%%}",
		m.DeviceID, m.AlarmType, m.Timestamp.UTC().Format(time.RFC3339), m.Position, m.Battery)
}

// TrackPoint is one record of a position report
type TrackPoint struct {
	Timestamp time.Time
	Position  Position
}

// PositionReport (0x0004) carries a batch of buffered fixes taken at a
// fixed interval
type PositionReport struct {
	DeviceID       uint64
	Interval       time.Duration
	FirstTimestamp time.Time
	Points         []TrackPoint
}

func (m *PositionReport) Type() protocol.Command { return protocol.CmdPositionReport }

func (m *PositionReport) String() string {
	return fmt.Sprintf("PositionReport{id=%d, points=%d, interval=%s, first=%s}",
		m.DeviceID, len(m.Points), m.Interval, m.FirstTimestamp.UTC().Format(time.RFC3339))
}
