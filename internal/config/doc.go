// Package config manages the minilink settings file.
//
// Settings are stored as YAML in a platform-appropriate location:
//   - Linux: $XDG_CONFIG_HOME/minilink/config.yaml or $HOME/.config/minilink/config.yaml
//   - macOS: $HOME/.config/minilink/config.yaml
//   - Windows: %LOCALAPPDATA%\minilink\config.yaml
//
// The file has one section per concern (link, firmware, ble, serial,
// bridge) plus a registry of trackers seen before. Missing sections and
// zero values are filled with defaults on load, so an empty file is valid.
// Durations are written as Go duration strings ("200ms", "3s").
//
// # Usage Example
//
//	settings, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	d := link.New(tr, settings.LinkOptions()...)
//	u := firmware.New(d, settings.FirmwareConfig())
//
//	settings.RecordDevice(addr, "ble", info.DeviceID, info.FirmwareVersion.String())
//	if err := settings.Save(""); err != nil {
//	    log.Fatal(err)
//	}
//
// Save writes to a temporary file and renames it into place.
package config
