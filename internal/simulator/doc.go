// Package simulator plays the tracker side of the link protocol.
//
// A Device reassembles the units written to it, answers reply-bearing
// commands, responds to queries with DeviceInfo and StatusReport frames,
// tracks binding and runs a firmware receiver that verifies the image MD5
// before committing. Faults can be injected to exercise the host's retry
// paths:
//
//	dev := simulator.NewDevice("GT-03", 860000000000001)
//	dev.FailChunk(5, 1)      // answer chunk 5 with failed once
//	dev.CorruptReplies(1)    // break the next reply's checksum
//	dev.ReplyInProgress(3)   // make the next three chunks poll
//
// Pipe connects a Device to a link.Dispatcher in memory:
//
//	pipe := simulator.NewPipe(dev, 20)
//	d := link.New(pipe)
//
// Server exposes a fresh Device per WebSocket connection so the CLI can be
// exercised without hardware, optionally advertised over mDNS and with
// frames captured to JSON Lines.
package simulator
