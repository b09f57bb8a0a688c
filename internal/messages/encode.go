package messages

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/muurk/minilink/internal/protocol"
)

// Encode serializes a report into its frame payload. The simulator uses it
// to play the device side.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case *DeviceInfo:
		return v.MarshalBinary()
	case *Status:
		return v.MarshalBinary()
	case *Alarm:
		return v.MarshalBinary()
	case *PositionReport:
		return v.MarshalBinary()
	default:
		return nil, errors.Wrapf(ErrUnsupportedCommand, "encode %T", m)
	}
}

func (m *DeviceInfo) MarshalBinary() ([]byte, error) {
	w := protocol.NewWriter(DeviceInfoSize)
	w.PutU16(m.ProtocolVersion).
		PutBytes(m.MAC[:]).
		PutU8(boolByte(m.Bound)).
		PutU32(uint32(m.HardwareVersion)).
		PutU32(uint32(m.FirmwareVersion)).
		PutU32(uint32(m.BootloaderVersion)).
		PutU32(uint32(m.BLEVersion)).
		PutU64(m.DeviceID)
	return w.Bytes(), nil
}

func (m *Status) MarshalBinary() ([]byte, error) {
	w := protocol.NewWriter(StatusSize)
	w.PutU32(durationSeconds(m.RunTime)).
		PutI16(int16(math.Round(m.Temperature * temperatureScale))).
		PutU16(uint16(math.Round(m.Humidity * humidityScale))).
		PutU8(m.Battery).
		PutU16(uint16(m.Modules)).
		PutU8(uint8(m.WorkMode)).
		PutU32(durationSeconds(m.ReportFrequency))
	writePosition(w, m.Position, statusAltitudeScale)
	w.PutU8(uint8(m.Motion)).
		PutU32(durationSeconds(m.HeartbeatInterval)).
		PutU32(durationSeconds(m.GPSInterval)).
		PutU32(durationSeconds(m.UploadInterval))
	return w.Bytes(), nil
}

func (m *Alarm) MarshalBinary() ([]byte, error) {
	w := protocol.NewWriter(AlarmSize)
	w.PutU64(m.DeviceID).PutU32(uint32(m.Timestamp.Unix()))
	writePosition(w, m.Position, noScale)
	w.PutU8(uint8(m.Motion)).PutU8(uint8(m.AlarmType)).PutU8(m.Battery)
	return w.Bytes(), nil
}

func (m *PositionReport) MarshalBinary() ([]byte, error) {
	if len(m.Points) > math.MaxUint8 {
		return nil, errors.Errorf("position report holds %d points, at most %d fit", len(m.Points), math.MaxUint8)
	}
	w := protocol.NewWriter(PositionHeaderSize + len(m.Points)*PositionRecordSize)
	w.PutU64(m.DeviceID).
		PutU8(uint8(len(m.Points))).
		PutU16(uint16(m.Interval / time.Second)).
		PutU32(uint32(m.FirstTimestamp.Unix()))
	for _, p := range m.Points {
		writePosition(w, p.Position, noScale)
	}
	return w.Bytes(), nil
}

func writePosition(w *protocol.Writer, p Position, altitudeScale float64) {
	w.PutU32(uint32(math.Round(math.Abs(p.Latitude) * coordinateScale))).
		PutU8(uint8(p.LatHemisphere)).
		PutU32(uint32(math.Round(math.Abs(p.Longitude) * coordinateScale))).
		PutU8(uint8(p.LonHemisphere)).
		PutI32(int32(math.Round(p.Altitude * altitudeScale)))
}

func durationSeconds(d time.Duration) uint32 {
	return uint32(d / time.Second)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
