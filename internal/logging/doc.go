// Package logging provides structured logging for minilink.
//
// This package wraps zap logger with convenience functions for the logging
// patterns used across the link engine: general leveled logging plus
// helpers for dumping the bytes that cross the transport boundary.
//
// # Log Levels
//
//   - Debug: Per-packet traffic (hex dumps, reassembly progress)
//   - Info: Connections, issued commands, upgrade phases
//   - Warn: Dropped frames, checksum mismatches, timeouts, retries
//   - Error: Terminal failures (upgrade aborted, transport lost)
//
// # Configuration
//
// Logging is silent unless a level is passed to Initialize or the
// MINILINK_LOG_LEVEL environment variable is set:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// Output goes to stderr so that CLI output on stdout stays parseable.
//
// # Link Logging
//
//	logging.LogLink("tx", "subpacket", packet)
//	logging.LogRawBytes("Reassembled frame", frame)
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. Initialize and
// SetLogger are expected to run once at startup.
package logging
