// Package messages decodes the tracker's application reports.
//
// Reports arrive as complete frames whose command code selects the layout:
//
//   - 0x0001 DeviceInfo: identity, MAC, bind flag, version numbers
//   - 0x0002 StatusReport: battery, temperature, work mode, last fix, intervals
//   - 0x0003 AlarmReport: SOS, fall, fence and tamper alarms with position
//   - 0x0004 PositionReport: a batch of fixes taken at a fixed interval
//
// Every decoder checks the minimum payload size first and fails without
// reading past the buffer. Coordinates are transmitted as unsigned
// ten-thousandths of a degree followed by an ASCII hemisphere flag; a
// zero flag means the device had no fix.
//
// The package also builds the payloads of app-to-device commands
// (bind, SOS number, work mode, report interval, time sync).
package messages
