package messages

import (
	"time"

	"github.com/muurk/minilink/internal/protocol"
)

// Payload builders for app-to-device commands. Encoding failures are
// reported here, before anything reaches the transport.

// BindPayload encodes the owner's phone number for CmdBind
func BindPayload(phone string) ([]byte, error) {
	bcd, err := protocol.EncodePhoneBCD(phone)
	if err != nil {
		return nil, err
	}
	return bcd[:], nil
}

// SOSNumberPayload encodes the emergency contact for CmdSetSOSNumber
func SOSNumberPayload(phone string) ([]byte, error) {
	return BindPayload(phone)
}

// WorkModePayload encodes CmdSetWorkMode
func WorkModePayload(mode WorkMode) []byte {
	return []byte{uint8(mode)}
}

// ReportIntervalPayload encodes CmdSetReportInterval in whole seconds
func ReportIntervalPayload(interval time.Duration) []byte {
	return protocol.NewWriter(4).PutU32(durationSeconds(interval)).Bytes()
}

// SyncTimePayload encodes CmdSyncTime as unix seconds
func SyncTimePayload(t time.Time) []byte {
	return protocol.NewWriter(4).PutU32(uint32(t.Unix())).Bytes()
}
