package link

import "time"

// Defaults for a Dispatcher
const (
	DefaultInterPacketDelay = 20 * time.Millisecond
	DefaultTimeout          = 3 * time.Second
	DefaultMessageBuffer    = 32
	inboundBuffer           = 64
)

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithInterPacketDelay sets the pause between consecutive sub-packet
// writes of one frame. Zero disables it.
func WithInterPacketDelay(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d >= 0 {
			disp.interPacketDelay = d
		}
	}
}

// WithDefaultTimeout sets the reply timeout used when a request passes zero
func WithDefaultTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.defaultTimeout = d
		}
	}
}

// WithMessageBuffer sizes the decoded message channel
func WithMessageBuffer(n int) Option {
	return func(disp *Dispatcher) {
		if n >= 0 {
			disp.messageBuffer = n
		}
	}
}

// WithMTUOverride fixes the sub-packet size instead of asking the transport
func WithMTUOverride(mtu int) Option {
	return func(disp *Dispatcher) {
		if mtu > 0 {
			disp.mtuOverride = mtu
		}
	}
}
