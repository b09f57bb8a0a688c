package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/messages"
	"github.com/muurk/minilink/internal/protocol"
)

// Reply is the device's acknowledgement of a request
type Reply struct {
	Serial   uint32 // Serial assigned to the request
	Response protocol.Response
	Latency  time.Duration
}

// Status is shorthand for r.Response.Status
func (r *Reply) Status() protocol.Status {
	return r.Response.Status
}

type result struct {
	serial uint32
	reply  *Reply
	err    error
}

type request struct {
	ctx         context.Context
	command     protocol.Command
	payload     []byte
	expectReply bool
	timeout     time.Duration
	done        chan result // Buffered; receives exactly one result
}

type pending struct {
	req      *request
	serial   uint32
	issuedAt time.Time
	timer    *time.Timer
	corrupt  error // Checksum failure seen while waiting
}

// Dispatcher owns the link to one tracker: the serial counter, the
// reassembler and the pending correlations. All of that state is confined
// to a single goroutine; public methods communicate with it over channels.
//
// Requests that expect a reply are single flight: they queue in FIFO order
// and the next is written only after the previous one resolves.
type Dispatcher struct {
	transport        Transport
	interPacketDelay time.Duration
	defaultTimeout   time.Duration
	messageBuffer    int
	mtuOverride      int

	sendCh       chan *request
	inbound      chan []byte
	expired      chan *pending
	abandon      chan *request
	disconnected chan error
	msgs         chan messages.Message

	closing   chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	// Actor-owned state
	serial      uint32
	reassembler *protocol.Reassembler
	pending     map[uint32]*pending
	queue       []*request
}

// New starts a Dispatcher on t. The transport's receive handler (and
// disconnect handler, if supported) are replaced by the dispatcher's.
func New(t Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport:        t,
		interPacketDelay: DefaultInterPacketDelay,
		defaultTimeout:   DefaultTimeout,
		messageBuffer:    DefaultMessageBuffer,
		sendCh:           make(chan *request),
		inbound:          make(chan []byte, inboundBuffer),
		expired:          make(chan *pending),
		abandon:          make(chan *request),
		disconnected:     make(chan error, 1),
		closing:          make(chan struct{}),
		exited:           make(chan struct{}),
		reassembler:      protocol.NewReassembler(),
		pending:          make(map[uint32]*pending),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.msgs = make(chan messages.Message, d.messageBuffer)

	t.SetReceiveHandler(d.deliver)
	if n, ok := t.(DisconnectNotifier); ok {
		n.SetDisconnectHandler(d.HandleDisconnect)
	}

	go d.run()
	return d
}

// Messages returns the stream of decoded application reports. The channel
// is closed when the dispatcher closes. Reports arriving while the
// channel is full are dropped.
func (d *Dispatcher) Messages() <-chan messages.Message {
	return d.msgs
}

// Connected reports whether the underlying transport is connected
func (d *Dispatcher) Connected() bool {
	return d.transport.IsConnected()
}

// Request sends a reply-bearing command and waits for the device's
// response, the timeout (zero selects the default), ctx cancellation or
// disconnection. A response with a non-success status is not an error;
// inspect Reply.Status.
func (d *Dispatcher) Request(ctx context.Context, command protocol.Command, payload []byte, timeout time.Duration) (*Reply, error) {
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	res, err := d.submit(ctx, command, payload, true, timeout)
	if err != nil {
		return nil, err
	}
	return res.reply, nil
}

// Send writes a command without waiting for a reply and returns the
// serial it was issued with.
func (d *Dispatcher) Send(ctx context.Context, command protocol.Command, payload []byte) (uint32, error) {
	res, err := d.submit(ctx, command, payload, false, 0)
	if err != nil {
		return 0, err
	}
	return res.serial, nil
}

// SendCommand issues command asynchronously. onReply, if non-nil, is
// called exactly once: with the device's reply for reply-bearing commands,
// or with a nil reply once a fire-and-forget command is written.
// Errors detectable before issuing (not connected, bad payload) are
// returned directly and onReply is not called.
func (d *Dispatcher) SendCommand(command protocol.Command, payload []byte, onReply func(*Reply, error)) error {
	if err := d.precheck(command, payload); err != nil {
		return err
	}
	go func() {
		var (
			reply *Reply
			err   error
		)
		if command.ExpectsReply() {
			reply, err = d.Request(context.Background(), command, payload, 0)
		} else {
			_, err = d.Send(context.Background(), command, payload)
		}
		if onReply != nil {
			onReply(reply, err)
		}
	}()
	return nil
}

// HandleDisconnect fails every outstanding and queued request with
// ErrDisconnected and discards any partial reassembly.
// It never blocks, so transports may call it from any goroutine.
func (d *Dispatcher) HandleDisconnect(cause error) {
	select {
	case d.disconnected <- cause:
	case <-d.exited:
	default:
		// A disconnect is already queued.
	}
}

// Close stops the dispatcher. Outstanding requests fail with ErrClosed.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		close(d.closing)
	})
	<-d.exited
	return nil
}

func (d *Dispatcher) precheck(command protocol.Command, payload []byte) error {
	select {
	case <-d.closing:
		return ErrClosed
	default:
	}
	if !command.IsKnown() {
		return &protocol.Error{Kind: protocol.KindUnknownCommand, Message: fmt.Sprintf("cannot send %s", command)}
	}
	if len(payload) > protocol.MaxPayloadSize {
		return fmt.Errorf("%s: %w", command, protocol.ErrPayloadTooLarge)
	}
	if !d.transport.IsConnected() {
		return protocol.ErrNotConnected
	}
	return nil
}

func (d *Dispatcher) submit(ctx context.Context, command protocol.Command, payload []byte, expectReply bool, timeout time.Duration) (result, error) {
	if err := d.precheck(command, payload); err != nil {
		return result{}, err
	}

	req := &request{
		ctx:         ctx,
		command:     command,
		payload:     append([]byte(nil), payload...),
		expectReply: expectReply,
		timeout:     timeout,
		done:        make(chan result, 1),
	}

	select {
	case d.sendCh <- req:
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-d.closing:
		return result{}, ErrClosed
	}

	select {
	case res := <-req.done:
		return res, res.err
	case <-ctx.Done():
		select {
		case d.abandon <- req:
		case <-d.exited:
		}
		return result{}, ctx.Err()
	}
}

// deliver is the transport receive handler
func (d *Dispatcher) deliver(b []byte) {
	unit := append([]byte(nil), b...)
	select {
	case d.inbound <- unit:
	case <-d.closing:
	}
}

func (d *Dispatcher) run() {
	defer close(d.exited)
	defer close(d.msgs)

	for {
		select {
		case req := <-d.sendCh:
			d.enqueue(req)
		case b := <-d.inbound:
			d.handleInbound(b)
		case p := <-d.expired:
			d.handleExpired(p)
		case req := <-d.abandon:
			d.handleAbandon(req)
		case cause := <-d.disconnected:
			d.handleDisconnect(cause)
		case <-d.closing:
			d.failAll(ErrClosed)
			return
		}
	}
}

func (d *Dispatcher) enqueue(req *request) {
	if !req.expectReply {
		d.issue(req)
		return
	}
	d.queue = append(d.queue, req)
	d.issueNext()
}

// issueNext writes the next queued request once nothing is awaiting a reply
func (d *Dispatcher) issueNext() {
	for len(d.pending) == 0 && len(d.queue) > 0 {
		req := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		if err := req.ctx.Err(); err != nil {
			req.done <- result{err: err}
			continue
		}
		d.issue(req)
	}
}

func (d *Dispatcher) issue(req *request) {
	if !d.transport.IsConnected() {
		req.done <- result{err: protocol.ErrNotConnected}
		return
	}

	d.serial++
	serial := d.serial

	frame, err := protocol.BuildFrame(serial, req.command, req.payload)
	if err != nil {
		req.done <- result{serial: serial, err: err}
		return
	}

	var p *pending
	if req.expectReply {
		p = &pending{req: req, serial: serial, issuedAt: time.Now()}
		d.pending[serial] = p
	}

	logging.Debug("Issuing command",
		zap.Uint32("serial", serial),
		zap.Stringer("command", req.command),
		zap.Int("payload_length", len(req.payload)),
		zap.Bool("expects_reply", req.expectReply),
	)

	if err := d.write(frame.Bytes(), serial); err != nil {
		if p != nil {
			delete(d.pending, serial)
		}
		req.done <- result{serial: serial, err: err}
		return
	}

	if p == nil {
		req.done <- result{serial: serial}
		return
	}
	p.timer = time.AfterFunc(req.timeout, func() {
		select {
		case d.expired <- p:
		case <-d.exited:
		}
	})
}

func (d *Dispatcher) mtu() int {
	if d.mtuOverride > 0 {
		return d.mtuOverride
	}
	return d.transport.MaxPayloadSize()
}

// write fragments one frame and writes its sub-packets in order
func (d *Dispatcher) write(frame []byte, serial uint32) error {
	packets, err := protocol.Fragment(frame, d.mtu(), serial)
	if err != nil {
		return err
	}

	for i, sp := range packets {
		if i > 0 && d.interPacketDelay > 0 {
			t := time.NewTimer(d.interPacketDelay)
			select {
			case <-t.C:
			case <-d.closing:
				t.Stop()
				return ErrClosed
			}
		}
		b := sp.Bytes()
		logging.LogLink("tx", "subpacket", b)
		if err := d.transport.Write(b); err != nil {
			if !d.transport.IsConnected() {
				return &protocol.Error{Kind: protocol.KindNotConnected, Message: fmt.Sprintf("write sub-packet %d/%d", i+1, len(packets)), Err: err}
			}
			return fmt.Errorf("write sub-packet %d/%d of serial %d: %w", i+1, len(packets), serial, err)
		}
	}
	return nil
}

func (d *Dispatcher) handleInbound(b []byte) {
	var raw []byte

	switch {
	case protocol.IsSubPacket(b):
		logging.LogLink("rx", "subpacket", b)
		sp, err := protocol.ParseSubPacket(b)
		if err != nil {
			logging.Warn("Dropping malformed sub-packet", zap.Error(err), logging.Hex("hex", b))
			return
		}
		if sp.Status == protocol.PacketNone && d.reassembler.InProgress() {
			logging.Warn("Unfragmented packet interrupted a reassembly; partial frame discarded",
				zap.Uint32("packet_id", sp.PacketID))
		}
		out, err := d.reassembler.Feed(sp)
		if err != nil {
			logging.Warn("Reassembly aborted", zap.Error(err), zap.Uint32("packet_id", sp.PacketID))
			return
		}
		if out == nil {
			return
		}
		raw = out

	case protocol.IsFrame(b):
		logging.LogLink("rx", "frame", b)
		raw = b

	default:
		logging.Warn("Dropping unrecognized unit", logging.Hex("hex", b))
		return
	}

	d.handleFrame(raw)
}

func (d *Dispatcher) handleFrame(raw []byte) {
	frame, err := protocol.ParseFrame(raw)
	if err != nil {
		// Only a damaged response can explain a missing acknowledgement.
		if cmd, ok := protocol.PeekCommand(raw); ok && cmd.ExpectsReply() && errors.Is(err, protocol.ErrChecksumMismatch) {
			for _, p := range d.pending {
				p.corrupt = err
			}
		}
		serial, _ := protocol.PeekSerial(raw)
		logging.Warn("Dropping invalid frame",
			zap.Error(err),
			zap.Uint32("serial", serial),
			logging.Hex("hex", raw),
		)
		return
	}

	if frame.Command.ExpectsReply() {
		if resp, ok := frame.AsResponse(); ok {
			p, found := d.pending[resp.RespondedSerial]
			if !found {
				logging.Warn("Dropping stale response",
					zap.Uint32("responded_serial", resp.RespondedSerial),
					zap.Stringer("command", frame.Command),
					zap.Stringer("status", resp.Status),
				)
				return
			}
			if p.req.command != frame.Command {
				logging.Debug("Response command differs from request",
					zap.Stringer("request", p.req.command),
					zap.Stringer("response", frame.Command),
				)
			}
			d.resolve(p, result{
				serial: p.serial,
				reply:  &Reply{Serial: p.serial, Response: resp, Latency: time.Since(p.issuedAt)},
			})
			return
		}
	}

	msg, err := messages.Decode(frame)
	if err != nil {
		logging.Warn("Dropping undecodable frame",
			zap.Error(err),
			zap.Uint32("serial", frame.Serial),
			zap.Stringer("command", frame.Command),
		)
		return
	}

	select {
	case d.msgs <- msg:
	default:
		logging.Warn("Message buffer full, dropping report",
			zap.Stringer("command", frame.Command),
			zap.Uint32("serial", frame.Serial),
		)
	}
}

// resolve completes a pending correlation exactly once
func (d *Dispatcher) resolve(p *pending, res result) {
	if d.pending[p.serial] != p {
		return
	}
	delete(d.pending, p.serial)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.req.done <- res
	d.issueNext()
}

func (d *Dispatcher) handleExpired(p *pending) {
	if d.pending[p.serial] != p {
		return
	}
	timeout := &protocol.Error{
		Kind:    protocol.KindCorrelationTimeout,
		Message: fmt.Sprintf("no reply to %s serial %d within %s", p.req.command, p.serial, p.req.timeout),
	}
	var err error = timeout
	if p.corrupt != nil {
		err = fmt.Errorf("%w: %w", timeout, p.corrupt)
	}
	logging.Warn("Request timed out",
		zap.Uint32("serial", p.serial),
		zap.Stringer("command", p.req.command),
		zap.Bool("corrupt_reply", p.corrupt != nil),
	)
	d.resolve(p, result{serial: p.serial, err: err})
}

func (d *Dispatcher) handleAbandon(req *request) {
	for i, q := range d.queue {
		if q == req {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return
		}
	}
	for _, p := range d.pending {
		if p.req == req {
			logging.Debug("Abandoning request", zap.Uint32("serial", p.serial))
			d.resolve(p, result{serial: p.serial, err: req.ctx.Err()})
			return
		}
	}
}

func (d *Dispatcher) handleDisconnect(cause error) {
	err := ErrDisconnected
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrDisconnected, cause)
	}
	logging.Warn("Transport disconnected",
		zap.Error(cause),
		zap.Int("pending", len(d.pending)),
		zap.Int("queued", len(d.queue)),
	)
	d.failAll(err)
	d.reassembler.Reset()
}

func (d *Dispatcher) failAll(err error) {
	for serial, p := range d.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(d.pending, serial)
		p.req.done <- result{serial: serial, err: err}
	}
	for _, req := range d.queue {
		req.done <- result{err: err}
	}
	d.queue = nil
}
