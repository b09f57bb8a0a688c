// Package protocol implements the tracker's binary wire protocol.
//
// This package handles checksumming, construction and validation of
// command frames, fragmentation of frames into transport-sized
// sub-packets, and reassembly of those sub-packets on receive. It holds no
// connection state of its own apart from the Reassembler, which the link
// dispatcher owns.
//
// # Frame Format
//
// All multi-byte fields are big-endian:
//
//	AA55 | serial(4) | length(2) | command(2) | payload(length) | crc16(2) | 0D0A
//
// The checksum is CRC-16/ARC (reflected polynomial 0xA001, seed 0)
// computed over every byte before the checksum field. A frame whose
// payload is exactly five bytes may be a response:
//
//	respondedSerial(4) | status(1)
//
// Whether it is one depends on the caller having a pending request for
// that serial, so ParseFrame never decides it.
//
// # Sub-packet Format
//
// Frames larger than the transport MTU are split into sub-packets:
//
//	FAF5 | status(1) | packetId(4) | length(2) | data(length)
//
// status is none for a frame that fits in one packet, otherwise start,
// middle... and end, with packet ids increasing by one.
//
// # Usage Example - Sending
//
//	frame, err := protocol.BuildFrame(serial, protocol.CmdFindDevice, nil)
//	if err != nil {
//	    return err
//	}
//	packets, err := protocol.Fragment(frame.Bytes(), mtu, serial)
//	for _, sp := range packets {
//	    transport.Write(sp.Bytes())
//	}
//
// # Usage Example - Receiving
//
//	sp, err := protocol.ParseSubPacket(notification)
//	if err != nil {
//	    return err
//	}
//	if raw, err := reassembler.Feed(sp); raw != nil {
//	    frame, err := protocol.ParseFrame(raw)
//	    if errors.Is(err, protocol.ErrChecksumMismatch) {
//	        // surfaced separately from other malformed frames
//	    }
//	}
//
// # Errors
//
// Failures are *Error values classified by ErrorKind and matched with
// errors.Is against the Err* sentinels.
package protocol
