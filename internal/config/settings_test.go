package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/muurk/minilink/internal/transport"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "minilink") {
		t.Errorf("GetConfigDir() = %v, should contain 'minilink'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("macOS config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigDirXDG(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG_CONFIG_HOME only applies on Linux and other Unix systems")
	}
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	path, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if want := filepath.Join(xdg, "minilink", "config.yaml"); path != want {
		t.Errorf("GetConfigPath() = %v, want %v", path, want)
	}
}

func TestNewSettings(t *testing.T) {
	s := NewSettings()

	if s.Version != CurrentVersion {
		t.Errorf("Version = %v, want %v", s.Version, CurrentVersion)
	}
	if s.Link.MTU != 20 {
		t.Errorf("Link.MTU = %v, want 20", s.Link.MTU)
	}
	if s.Link.InterPacketDelay != 20*time.Millisecond {
		t.Errorf("Link.InterPacketDelay = %v, want 20ms", s.Link.InterPacketDelay)
	}
	if s.Link.ReplyTimeout != 3*time.Second {
		t.Errorf("Link.ReplyTimeout = %v, want 3s", s.Link.ReplyTimeout)
	}
	if s.Firmware.ChunkSize != 512 || s.Firmware.MaxChunkRetries != 2 || s.Firmware.MaxInProgressPolls != 10 {
		t.Errorf("Firmware = %+v", s.Firmware)
	}
	if s.BLE.ServiceUUID != transport.DefaultServiceUUID {
		t.Errorf("BLE.ServiceUUID = %v", s.BLE.ServiceUUID)
	}
	if s.Serial.Baud != 115200 {
		t.Errorf("Serial.Baud = %v, want 115200", s.Serial.Baud)
	}
	if s.Bridge.MDNSTimeout != 3*time.Second {
		t.Errorf("Bridge.MDNSTimeout = %v, want 3s", s.Bridge.MDNSTimeout)
	}
	if s.Devices == nil {
		t.Error("Devices should not be nil")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
		verify  func(t *testing.T, s *Settings)
	}{
		{
			name: "empty document takes defaults",
			doc:  "",
			verify: func(t *testing.T, s *Settings) {
				if s.Version != CurrentVersion || s.Firmware.ChunkSize != 512 {
					t.Errorf("settings = %+v", s)
				}
			},
		},
		{
			name: "partial sections are completed",
			doc: `version: 1
link:
  mtu: 64
firmware:
  chunk_timeout: 1500ms
  max_chunk_retries: 0
serial:
  port: /dev/ttyUSB0
`,
			verify: func(t *testing.T, s *Settings) {
				if s.Link.MTU != 64 {
					t.Errorf("Link.MTU = %v, want 64", s.Link.MTU)
				}
				if s.Link.ReplyTimeout != 3*time.Second {
					t.Errorf("Link.ReplyTimeout = %v, want default", s.Link.ReplyTimeout)
				}
				if s.Firmware.ChunkTimeout != 1500*time.Millisecond {
					t.Errorf("Firmware.ChunkTimeout = %v, want 1.5s", s.Firmware.ChunkTimeout)
				}
				if s.Firmware.MaxChunkRetries != 0 {
					t.Errorf("Firmware.MaxChunkRetries = %v, want explicit 0", s.Firmware.MaxChunkRetries)
				}
				if s.Firmware.ChunkSize != 512 {
					t.Errorf("Firmware.ChunkSize = %v, want default", s.Firmware.ChunkSize)
				}
				if s.Serial.Port != "/dev/ttyUSB0" || s.Serial.Baud != 115200 {
					t.Errorf("Serial = %+v", s.Serial)
				}
			},
		},
		{
			name:    "future version",
			doc:     "version: 2\n",
			wantErr: ErrUnsupportedVersion,
		},
		{
			name:    "bad duration",
			doc:     "link:\n  reply_timeout: soon\n",
			wantErr: errAny,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(tt.doc))
			if tt.wantErr != nil {
				if err == nil {
					t.Fatal("Parse() expected error")
				}
				if tt.wantErr != errAny && !errors.Is(err, tt.wantErr) {
					t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tt.verify(t, s)
		})
	}
}

var errAny = errors.New("any error")

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	s := NewSettings()
	s.Link.MTU = 180
	s.Firmware.PollDelay = 50 * time.Millisecond
	s.BLE.Target = "GT-03"
	s.Bridge.URL = "ws://10.0.0.2:8765/link"
	s.RecordDevice("AA:BB:CC:DD:EE:FF", "ble", 860000000000042, "1.2.3.4")
	s.SetDeviceNickname("AA:BB:CC:DD:EE:FF", "Grandad")

	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "poll_delay: 50ms") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Link.MTU != 180 {
		t.Errorf("Link.MTU = %v, want 180", loaded.Link.MTU)
	}
	if loaded.Firmware.PollDelay != 50*time.Millisecond {
		t.Errorf("Firmware.PollDelay = %v, want 50ms", loaded.Firmware.PollDelay)
	}
	if loaded.BLE.Target != "GT-03" || loaded.Bridge.URL != "ws://10.0.0.2:8765/link" {
		t.Errorf("BLE = %+v, Bridge = %+v", loaded.BLE, loaded.Bridge)
	}

	dev := loaded.GetDevice("AA:BB:CC:DD:EE:FF")
	if dev == nil {
		t.Fatal("device should exist in loaded settings")
	}
	if dev.Nickname != "Grandad" || dev.Transport != "ble" || dev.DeviceID != 860000000000042 || dev.FirmwareVersion != "1.2.3.4" {
		t.Errorf("device = %+v", dev)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Firmware.ChunkSize != 512 {
		t.Errorf("Firmware.ChunkSize = %v, want default 512", s.Firmware.ChunkSize)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	created, err := CreateDefaultConfig(path)
	if err != nil || !created {
		t.Fatalf("CreateDefaultConfig() = %v, %v; want true, nil", created, err)
	}
	created, err = CreateDefaultConfig(path)
	if err != nil || created {
		t.Errorf("second CreateDefaultConfig() = %v, %v; want false, nil", created, err)
	}
}

func TestRecordDevice(t *testing.T) {
	s := NewSettings()

	before := time.Now()
	s.RecordDevice("/dev/ttyUSB0", "serial", 42, "1.0.0.0")
	after := time.Now()

	d := s.GetDevice("/dev/ttyUSB0")
	if d == nil {
		t.Fatal("device should exist after RecordDevice()")
	}
	if d.LastSeen.Before(before) || d.LastSeen.After(after) {
		t.Errorf("LastSeen = %v, should be between %v and %v", d.LastSeen, before, after)
	}

	// Unknown values keep what we already had
	s.RecordDevice("/dev/ttyUSB0", "serial", 0, "")
	if d.DeviceID != 42 || d.FirmwareVersion != "1.0.0.0" {
		t.Errorf("device = %+v, want id and firmware kept", d)
	}

	if s.EnsureDevice("/dev/ttyUSB0") != d {
		t.Error("EnsureDevice() should return the existing entry")
	}
}

func TestConversions(t *testing.T) {
	s := NewSettings()
	s.Link.MTU = 64
	s.BLE.Target = "GT-03"
	s.Serial.Port = "COM3"
	s.Firmware.MaxChunkRetries = 5

	ble := s.BLEConfig("")
	if ble.Target != "GT-03" || ble.MTU != 64 || ble.NotifyUUID != transport.DefaultNotifyUUID {
		t.Errorf("BLEConfig(\"\") = %+v", ble)
	}
	if got := s.BLEConfig("AA:BB").Target; got != "AA:BB" {
		t.Errorf("BLEConfig(target).Target = %v, want AA:BB", got)
	}

	if sc := s.SerialConfig(""); sc.Port != "COM3" || sc.Baud != 115200 {
		t.Errorf("SerialConfig(\"\") = %+v", sc)
	}

	if fw := s.FirmwareConfig(); fw.MaxChunkRetries != 5 || fw.ChunkSize != 512 {
		t.Errorf("FirmwareConfig() = %+v", fw)
	}

	if n := len(s.LinkOptions()); n != 3 {
		t.Errorf("LinkOptions() returned %d options, want 3", n)
	}
}

func BenchmarkEnsureDevice(b *testing.B) {
	s := NewSettings()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.EnsureDevice("AA:BB:CC:DD:EE:FF")
	}
}
