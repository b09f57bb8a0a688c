package simulator

import (
	"sync"

	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/protocol"
)

// Pipe is an in-memory link.Transport wired to a Device. Host writes are
// handed to the device synchronously; device units are delivered to the
// host on a separate goroutine, the way BLE notifications arrive.
type Pipe struct {
	device *Device
	mtu    int

	mu        sync.Mutex
	handler   func([]byte)
	onDisc    func(error)
	connected bool
	queue     [][]byte
	writes    int

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewPipe connects a host to device with the given unit size
func NewPipe(device *Device, mtu int) *Pipe {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	p := &Pipe{
		device:    device,
		mtu:       mtu,
		connected: true,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	device.Attach(p.push, mtu)
	go p.pump()
	return p
}

// Write hands one unit to the device
func (p *Pipe) Write(b []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return protocol.ErrNotConnected
	}
	p.writes++
	p.mu.Unlock()

	logging.LogLink("tx", "pipe", b)
	p.device.Receive(append([]byte(nil), b...))
	return nil
}

// SetReceiveHandler registers the host callback for device units
func (p *Pipe) SetReceiveHandler(h func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// SetDisconnectHandler registers the host callback for link loss
func (p *Pipe) SetDisconnectHandler(h func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDisc = h
}

// MaxPayloadSize returns the unit size
func (p *Pipe) MaxPayloadSize() int { return p.mtu }

// IsConnected reports whether the link is up
func (p *Pipe) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Writes counts units written by the host
func (p *Pipe) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Disconnect drops the link, discards undelivered units and notifies the
// host. The device loses any partial state, as after a reboot.
func (p *Pipe) Disconnect(cause error) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = false
	p.queue = nil
	h := p.onDisc
	p.mu.Unlock()

	p.device.Reset()
	if h != nil {
		h(cause)
	}
}

// Reconnect brings the link back up
func (p *Pipe) Reconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
}

// Close stops delivery. The pipe cannot be reused.
func (p *Pipe) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		close(p.done)
	})
	return nil
}

// push queues a device unit for delivery
func (p *Pipe) push(b []byte) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, b)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipe) pump() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if len(p.queue) == 0 || !p.connected {
				p.mu.Unlock()
				break
			}
			b := p.queue[0]
			p.queue = p.queue[1:]
			h := p.handler
			p.mu.Unlock()

			logging.LogLink("rx", "pipe", b)
			if h != nil {
				h(b)
			}
		}
	}
}
