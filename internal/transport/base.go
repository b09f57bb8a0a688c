package transport

import (
	"sync"

	"github.com/muurk/minilink/internal/link"
)

var (
	_ link.Transport          = (*WebSocket)(nil)
	_ link.DisconnectNotifier = (*WebSocket)(nil)
	_ link.Transport          = (*Serial)(nil)
	_ link.DisconnectNotifier = (*Serial)(nil)
	_ link.Transport          = (*BLE)(nil)
	_ link.DisconnectNotifier = (*BLE)(nil)
)

// endpoint holds the callback plumbing every transport shares
type endpoint struct {
	mu        sync.Mutex
	recv      func([]byte)
	disc      func(error)
	connected bool
	lost      sync.Once
}

// SetReceiveHandler registers the callback for incoming units
func (e *endpoint) SetReceiveHandler(h func([]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recv = h
}

// SetDisconnectHandler registers the callback for link loss
func (e *endpoint) SetDisconnectHandler(h func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disc = h
}

// IsConnected reports whether the link is up
func (e *endpoint) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *endpoint) setConnected(c bool) {
	e.mu.Lock()
	e.connected = c
	e.mu.Unlock()
}

// deliver hands a unit to the receive handler. Units arriving before a
// handler is registered are dropped.
func (e *endpoint) deliver(b []byte) {
	e.mu.Lock()
	h := e.recv
	e.mu.Unlock()
	if h != nil {
		h(b)
	}
}

// markLost records link loss and notifies the disconnect handler once
func (e *endpoint) markLost(cause error) {
	e.lost.Do(func() {
		e.mu.Lock()
		e.connected = false
		h := e.disc
		e.mu.Unlock()
		if h != nil {
			h(cause)
		}
	})
}
