package link

// Transport is a byte-oriented, MTU-limited connection to a tracker.
// Each Write carries one transport unit (a sub-packet) and each received
// unit is delivered to the receive handler.
type Transport interface {
	// Write sends one unit of at most MaxPayloadSize bytes.
	Write(b []byte) error
	// SetReceiveHandler registers the callback for incoming units.
	SetReceiveHandler(h func(b []byte))
	// MaxPayloadSize is the negotiated maximum bytes per Write.
	MaxPayloadSize() int
	IsConnected() bool
}

// DisconnectNotifier is implemented by transports that report link loss.
// The dispatcher registers itself so disconnection fails outstanding
// requests immediately instead of waiting for their timeouts.
type DisconnectNotifier interface {
	SetDisconnectHandler(h func(err error))
}
