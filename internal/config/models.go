package config

import (
	"time"

	"github.com/muurk/minilink/internal/discovery"
	"github.com/muurk/minilink/internal/firmware"
	"github.com/muurk/minilink/internal/link"
	"github.com/muurk/minilink/internal/transport"
)

// CurrentVersion is the settings file format version
const CurrentVersion = 1

// Settings represents the entire user configuration file.
// Sections left out of the file take their defaults on load.
type Settings struct {
	Version  int                `yaml:"version"`
	Link     *LinkSettings      `yaml:"link,omitempty"`
	Firmware *FirmwareSettings  `yaml:"firmware,omitempty"`
	BLE      *BLESettings       `yaml:"ble,omitempty"`
	Serial   *SerialSettings    `yaml:"serial,omitempty"`
	Bridge   *BridgeSettings    `yaml:"bridge,omitempty"`
	Devices  map[string]*Device `yaml:"devices,omitempty"` // Keyed by BLE address, serial port or bridge URL
}

// LinkSettings tunes the dispatcher
type LinkSettings struct {
	MTU              int           `yaml:"mtu"`                // Unit size when the transport cannot report one
	InterPacketDelay time.Duration `yaml:"inter_packet_delay"` // Pause between sub-packets of one frame
	ReplyTimeout     time.Duration `yaml:"reply_timeout"`      // Default wait for a response frame
	MessageBuffer    int           `yaml:"message_buffer"`     // Decoded reports held for slow readers
}

// FirmwareSettings mirrors firmware.Config
type FirmwareSettings struct {
	ChunkSize          int           `yaml:"chunk_size"`
	StartTimeout       time.Duration `yaml:"start_timeout"`
	ChunkTimeout       time.Duration `yaml:"chunk_timeout"`
	EndTimeout         time.Duration `yaml:"end_timeout"`
	MaxChunkRetries    int           `yaml:"max_chunk_retries"`
	PollDelay          time.Duration `yaml:"poll_delay"`
	MaxInProgressPolls int           `yaml:"max_in_progress_polls"`
}

// BLESettings selects the GATT layout of the tracker
type BLESettings struct {
	Target      string        `yaml:"target,omitempty"` // Default address or advertised name
	ServiceUUID string        `yaml:"service_uuid"`
	WriteUUID   string        `yaml:"write_uuid"`
	NotifyUUID  string        `yaml:"notify_uuid"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// SerialSettings configures the UART transport
type SerialSettings struct {
	Port string `yaml:"port,omitempty"`
	Baud int    `yaml:"baud"`
}

// BridgeSettings configures the WebSocket bridge transport
type BridgeSettings struct {
	URL         string        `yaml:"url,omitempty"` // Empty means browse mDNS for the first bridge
	MDNSTimeout time.Duration `yaml:"mdns_timeout"`
}

// Device is what we remember about a tracker we have talked to
type Device struct {
	Nickname        string    `yaml:"nickname,omitempty"`
	Transport       string    `yaml:"transport,omitempty"` // ble, serial or bridge
	DeviceID        uint64    `yaml:"device_id,omitempty"`
	FirmwareVersion string    `yaml:"firmware_version,omitempty"`
	LastSeen        time.Time `yaml:"last_seen,omitempty"`
}

// NewSettings creates Settings with every section at its default
func NewSettings() *Settings {
	s := &Settings{Version: CurrentVersion}
	s.fillDefaults()
	return s
}

func defaultLink() *LinkSettings {
	return &LinkSettings{
		MTU:              transport.DefaultBLEMTU,
		InterPacketDelay: link.DefaultInterPacketDelay,
		ReplyTimeout:     link.DefaultTimeout,
		MessageBuffer:    link.DefaultMessageBuffer,
	}
}

func defaultFirmware() *FirmwareSettings {
	c := firmware.DefaultConfig()
	return &FirmwareSettings{
		ChunkSize:          c.ChunkSize,
		StartTimeout:       c.StartTimeout,
		ChunkTimeout:       c.ChunkTimeout,
		EndTimeout:         c.EndTimeout,
		MaxChunkRetries:    c.MaxChunkRetries,
		PollDelay:          c.PollDelay,
		MaxInProgressPolls: c.MaxInProgressPolls,
	}
}

func defaultBLE() *BLESettings {
	return &BLESettings{
		ServiceUUID: transport.DefaultServiceUUID,
		WriteUUID:   transport.DefaultWriteUUID,
		NotifyUUID:  transport.DefaultNotifyUUID,
		ScanTimeout: transport.DefaultScanTimeout,
	}
}

// fillDefaults replaces missing sections and zero values with defaults.
// MaxChunkRetries keeps an explicit zero.
func (s *Settings) fillDefaults() {
	if s.Devices == nil {
		s.Devices = make(map[string]*Device)
	}

	d := defaultLink()
	if s.Link == nil {
		s.Link = d
	} else {
		if s.Link.MTU <= 0 {
			s.Link.MTU = d.MTU
		}
		if s.Link.InterPacketDelay < 0 {
			s.Link.InterPacketDelay = 0
		}
		if s.Link.ReplyTimeout <= 0 {
			s.Link.ReplyTimeout = d.ReplyTimeout
		}
		if s.Link.MessageBuffer <= 0 {
			s.Link.MessageBuffer = d.MessageBuffer
		}
	}

	fw := defaultFirmware()
	if s.Firmware == nil {
		s.Firmware = fw
	} else {
		if s.Firmware.ChunkSize <= 0 {
			s.Firmware.ChunkSize = fw.ChunkSize
		}
		if s.Firmware.StartTimeout <= 0 {
			s.Firmware.StartTimeout = fw.StartTimeout
		}
		if s.Firmware.ChunkTimeout <= 0 {
			s.Firmware.ChunkTimeout = fw.ChunkTimeout
		}
		if s.Firmware.EndTimeout <= 0 {
			s.Firmware.EndTimeout = fw.EndTimeout
		}
		if s.Firmware.PollDelay <= 0 {
			s.Firmware.PollDelay = fw.PollDelay
		}
		if s.Firmware.MaxInProgressPolls <= 0 {
			s.Firmware.MaxInProgressPolls = fw.MaxInProgressPolls
		}
	}

	b := defaultBLE()
	if s.BLE == nil {
		s.BLE = b
	} else {
		if s.BLE.ServiceUUID == "" {
			s.BLE.ServiceUUID = b.ServiceUUID
		}
		if s.BLE.WriteUUID == "" {
			s.BLE.WriteUUID = b.WriteUUID
		}
		if s.BLE.NotifyUUID == "" {
			s.BLE.NotifyUUID = b.NotifyUUID
		}
		if s.BLE.ScanTimeout <= 0 {
			s.BLE.ScanTimeout = b.ScanTimeout
		}
	}

	if s.Serial == nil {
		s.Serial = &SerialSettings{}
	}
	if s.Serial.Baud <= 0 {
		s.Serial.Baud = transport.DefaultBaud
	}

	if s.Bridge == nil {
		s.Bridge = &BridgeSettings{}
	}
	if s.Bridge.MDNSTimeout <= 0 {
		s.Bridge.MDNSTimeout = discovery.DefaultScanTimeout
	}
}

// LinkOptions returns dispatcher options for the link section
func (s *Settings) LinkOptions() []link.Option {
	return []link.Option{
		link.WithInterPacketDelay(s.Link.InterPacketDelay),
		link.WithDefaultTimeout(s.Link.ReplyTimeout),
		link.WithMessageBuffer(s.Link.MessageBuffer),
	}
}

// FirmwareConfig converts the firmware section
func (s *Settings) FirmwareConfig() firmware.Config {
	f := s.Firmware
	return firmware.Config{
		ChunkSize:          f.ChunkSize,
		StartTimeout:       f.StartTimeout,
		ChunkTimeout:       f.ChunkTimeout,
		EndTimeout:         f.EndTimeout,
		MaxChunkRetries:    f.MaxChunkRetries,
		PollDelay:          f.PollDelay,
		MaxInProgressPolls: f.MaxInProgressPolls,
	}
}

// BLEConfig builds a transport config for target, falling back to the
// configured default target when empty
func (s *Settings) BLEConfig(target string) transport.BLEConfig {
	if target == "" {
		target = s.BLE.Target
	}
	return transport.BLEConfig{
		Target:      target,
		ServiceUUID: s.BLE.ServiceUUID,
		WriteUUID:   s.BLE.WriteUUID,
		NotifyUUID:  s.BLE.NotifyUUID,
		ScanTimeout: s.BLE.ScanTimeout,
		MTU:         s.Link.MTU,
	}
}

// SerialConfig builds a transport config for port, falling back to the
// configured port when empty
func (s *Settings) SerialConfig(port string) transport.SerialConfig {
	if port == "" {
		port = s.Serial.Port
	}
	return transport.SerialConfig{Port: port, Baud: s.Serial.Baud}
}

// GetDevice retrieves what is known about a tracker, or nil
func (s *Settings) GetDevice(key string) *Device {
	return s.Devices[key]
}

// EnsureDevice returns the entry for key, creating it if needed
func (s *Settings) EnsureDevice(key string) *Device {
	if s.Devices == nil {
		s.Devices = make(map[string]*Device)
	}
	if d, ok := s.Devices[key]; ok {
		return d
	}
	d := &Device{}
	s.Devices[key] = d
	return d
}

// RecordDevice stamps the tracker at key as seen now over transportKind
func (s *Settings) RecordDevice(key, transportKind string, deviceID uint64, firmwareVersion string) {
	d := s.EnsureDevice(key)
	d.Transport = transportKind
	d.LastSeen = time.Now()
	if deviceID != 0 {
		d.DeviceID = deviceID
	}
	if firmwareVersion != "" {
		d.FirmwareVersion = firmwareVersion
	}
}

// SetDeviceNickname sets a user-friendly name for a tracker
func (s *Settings) SetDeviceNickname(key, nickname string) {
	s.EnsureDevice(key).Nickname = nickname
}
