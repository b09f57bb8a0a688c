package messages

import (
	"time"

	"github.com/pkg/errors"

	"github.com/muurk/minilink/internal/protocol"
)

// Minimum payload sizes
const (
	DeviceInfoSize      = 33
	StatusSize          = 43
	AlarmSize           = 29
	PositionHeaderSize  = 15
	PositionRecordSize  = 14
	coordinateScale     = 10000.0
	statusAltitudeScale = 10.0
	temperatureScale    = 100.0
	humidityScale       = 100.0
	noScale             = 1.0
)

var (
	// ErrShortPayload is returned when a payload is below a decoder's minimum size
	ErrShortPayload = errors.New("payload too short")
	// ErrUnsupportedCommand is returned for frames that carry no application report
	ErrUnsupportedCommand = errors.New("command carries no application report")
	// ErrBadHemisphere is returned for a hemisphere flag outside N/S/E/W/0x00
	ErrBadHemisphere = errors.New("invalid hemisphere flag")
)

// Decode decodes the payload of a report frame
func Decode(f *protocol.Frame) (Message, error) {
	switch f.Command {
	case protocol.CmdDeviceInfo:
		return DecodeDeviceInfo(f.Payload)
	case protocol.CmdStatusReport:
		return DecodeStatus(f.Payload)
	case protocol.CmdAlarmReport:
		return DecodeAlarm(f.Payload)
	case protocol.CmdPositionReport:
		return DecodePositionReport(f.Payload)
	default:
		return nil, errors.Wrapf(ErrUnsupportedCommand, "%s (serial %d)", f.Command, f.Serial)
	}
}

// DecodeDeviceInfo decodes a device-info payload (33 bytes minimum)
func DecodeDeviceInfo(b []byte) (*DeviceInfo, error) {
	if len(b) < DeviceInfoSize {
		return nil, errors.Wrapf(ErrShortPayload, "device info: %d bytes, need %d", len(b), DeviceInfoSize)
	}

	r := protocol.NewReader(b)
	m := &DeviceInfo{}
	m.ProtocolVersion = r.U16()
	copy(m.MAC[:], r.Bytes(6))
	m.Bound = r.U8() != 0
	m.HardwareVersion = Version(r.U32())
	m.FirmwareVersion = Version(r.U32())
	m.BootloaderVersion = Version(r.U32())
	m.BLEVersion = Version(r.U32())
	m.DeviceID = r.U64()
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(err, "device info")
	}
	return m, nil
}

// DecodeStatus decodes a status-telemetry payload (43 bytes minimum)
func DecodeStatus(b []byte) (*Status, error) {
	if len(b) < StatusSize {
		return nil, errors.Wrapf(ErrShortPayload, "status: %d bytes, need %d", len(b), StatusSize)
	}

	r := protocol.NewReader(b)
	m := &Status{}
	m.RunTime = seconds(r.U32())
	m.Temperature = float64(r.I16()) / temperatureScale
	m.Humidity = float64(r.U16()) / humidityScale
	m.Battery = r.U8()
	m.Modules = ModuleStatus(r.U16())
	m.WorkMode = WorkMode(r.U8())
	m.ReportFrequency = seconds(r.U32())

	pos, err := readPosition(r, statusAltitudeScale)
	if err != nil {
		return nil, errors.Wrap(err, "status")
	}
	m.Position = pos
	m.Motion = Motion(r.U8())
	m.HeartbeatInterval = seconds(r.U32())
	m.GPSInterval = seconds(r.U32())
	m.UploadInterval = seconds(r.U32())
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(err, "status")
	}
	return m, nil
}

// DecodeAlarm decodes an alarm payload (29 bytes minimum)
func DecodeAlarm(b []byte) (*Alarm, error) {
	if len(b) < AlarmSize {
		return nil, errors.Wrapf(ErrShortPayload, "alarm: %d bytes, need %d", len(b), AlarmSize)
	}

	r := protocol.NewReader(b)
	m := &Alarm{}
	m.DeviceID = r.U64()
	m.Timestamp = unix(r.U32())

	pos, err := readPosition(r, noScale)
	if err != nil {
		return nil, errors.Wrap(err, "alarm")
	}
	m.Position = pos
	m.Motion = Motion(r.U8())
	m.AlarmType = AlarmType(r.U8())
	m.Battery = r.U8()
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(err, "alarm")
	}
	return m, nil
}

// DecodePositionReport decodes a batched position payload. The header is
// 15 bytes and each record 14; the payload must hold every record the
// header announces.
func DecodePositionReport(b []byte) (*PositionReport, error) {
	if len(b) < PositionHeaderSize {
		return nil, errors.Wrapf(ErrShortPayload, "position report: %d bytes, need %d", len(b), PositionHeaderSize)
	}

	r := protocol.NewReader(b)
	m := &PositionReport{}
	m.DeviceID = r.U64()
	count := int(r.U8())
	interval := uint32(r.U16())
	m.Interval = seconds(interval)
	first := r.U32()
	m.FirstTimestamp = unix(first)

	if need := PositionHeaderSize + count*PositionRecordSize; len(b) < need {
		return nil, errors.Wrapf(ErrShortPayload, "position report: %d bytes for %d points, need %d", len(b), count, need)
	}

	m.Points = make([]TrackPoint, 0, count)
	for i := 0; i < count; i++ {
		pos, err := readPosition(r, noScale)
		if err != nil {
			return nil, errors.Wrapf(err, "position report point %d", i)
		}
		ts := first + uint32(i)*interval
		m.Points = append(m.Points, TrackPoint{Timestamp: unix(ts), Position: pos})
	}
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(err, "position report")
	}
	return m, nil
}

// readPosition reads lat u32 | latHemi | lon u32 | lonHemi | alt i32 at
// the reader's cursor
func readPosition(r *protocol.Reader, altitudeScale float64) (Position, error) {
	var p Position

	lat := float64(r.U32()) / coordinateScale
	p.LatHemisphere = Hemisphere(r.U8())
	lon := float64(r.U32()) / coordinateScale
	p.LonHemisphere = Hemisphere(r.U8())
	p.Altitude = float64(r.I32()) / altitudeScale

	switch p.LatHemisphere {
	case HemisphereNorth, HemisphereNone:
		p.Latitude = lat
	case HemisphereSouth:
		p.Latitude = -lat
	default:
		return Position{}, errors.Wrapf(ErrBadHemisphere, "latitude flag 0x%02x", byte(p.LatHemisphere))
	}

	switch p.LonHemisphere {
	case HemisphereEast, HemisphereNone:
		p.Longitude = lon
	case HemisphereWest:
		p.Longitude = -lon
	default:
		return Position{}, errors.Wrapf(ErrBadHemisphere, "longitude flag 0x%02x", byte(p.LonHemisphere))
	}
	return p, nil
}

func seconds(v uint32) time.Duration {
	return time.Duration(v) * time.Second
}

func unix(v uint32) time.Time {
	return time.Unix(int64(v), 0).UTC()
}
