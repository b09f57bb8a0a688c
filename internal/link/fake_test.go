package link

import (
	"sync"

	"github.com/muurk/minilink/internal/protocol"
)

// fakeTransport records writes and lets a test play the device side.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	mtu       int
	writes    [][]byte
	frames    []*protocol.Frame
	writeErr  error
	handler   func([]byte)
	onDisc    func(error)
	reasm     *protocol.Reassembler

	// respond is called for every complete frame written, on the writer's
	// goroutine. Returned units are delivered back in order.
	respond func(f *protocol.Frame) [][]byte
}

func newFakeTransport(mtu int) *fakeTransport {
	return &fakeTransport{
		connected: true,
		mtu:       mtu,
		reasm:     protocol.NewReassembler(),
	}
}

func (f *fakeTransport) Write(b []byte) error {
	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	f.writes = append(f.writes, append([]byte(nil), b...))

	var frame *protocol.Frame
	if sp, err := protocol.ParseSubPacket(b); err == nil {
		if raw, err := f.reasm.Feed(sp); err == nil && raw != nil {
			if parsed, err := protocol.ParseFrame(raw); err == nil {
				frame = parsed
				f.frames = append(f.frames, parsed)
			}
		}
	}
	respond, handler := f.respond, f.handler
	f.mu.Unlock()

	if frame != nil && respond != nil && handler != nil {
		for _, unit := range respond(frame) {
			handler(unit)
		}
	}
	return nil
}

func (f *fakeTransport) SetReceiveHandler(h func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) SetDisconnectHandler(h func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisc = h
}

func (f *fakeTransport) MaxPayloadSize() int { return f.mtu }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

func (f *fakeTransport) setResponder(r func(*protocol.Frame) [][]byte) {
	f.mu.Lock()
	f.respond = r
	f.mu.Unlock()
}

// inject delivers a unit as if the device had sent it
func (f *fakeTransport) inject(b []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(b)
}

func (f *fakeTransport) disconnect(err error) {
	f.mu.Lock()
	f.connected = false
	h := f.onDisc
	f.mu.Unlock()
	if h != nil {
		h(err)
	}
}

func (f *fakeTransport) writtenFrames() []*protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Frame(nil), f.frames...)
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// wrap puts raw frame bytes into a single status-none sub-packet
func wrap(raw []byte) []byte {
	return protocol.SubPacket{Status: protocol.PacketNone, PacketID: 1, Data: raw}.Bytes()
}

// ackWith answers every reply-bearing command with status
func ackWith(status protocol.Status) func(*protocol.Frame) [][]byte {
	var serial uint32 = 1000
	return func(f *protocol.Frame) [][]byte {
		if !f.Command.ExpectsReply() {
			return nil
		}
		serial++
		raw, err := protocol.EncodeResponse(serial, f.Command, f.Serial, status)
		if err != nil {
			panic(err)
		}
		return [][]byte{wrap(raw)}
	}
}
