package simulator

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/minilink/internal/firmware"
	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/messages"
	"github.com/muurk/minilink/internal/protocol"
)

// DefaultMTU matches a BLE link without MTU negotiation
const DefaultMTU = 20

// receivedHistory bounds the frames kept for Received
const receivedHistory = 256

// FrameHook observes every frame the device receives ("rx") or sends ("tx")
type FrameHook func(direction string, f *protocol.Frame)

// Device plays the tracker side of the link. It reassembles the units it
// receives, answers commands and queries, and fragments its own frames to
// the configured MTU.
type Device struct {
	mu     sync.Mutex
	name   string
	mtu    int
	send   func([]byte)
	hook   FrameHook
	reasm  *protocol.Reassembler
	serial uint32

	info   messages.DeviceInfo
	status messages.Status

	phone          string
	sosNumber      string
	clockOffset    time.Duration
	findRequests   int
	received       []*protocol.Frame
	upgrade        *upgradeState
	committedImage []byte

	faults faults
}

// upgradeState is the firmware receiver
type upgradeState struct {
	version [4]byte
	total   uint32
	md5     string
	image   []byte
	next    uint32
}

type faults struct {
	failChunk      int
	failChunkTimes int // <0 means always
	dropReplies    int
	corruptReplies int
	inProgress     int
}

// NewDevice returns a device with plausible identity and telemetry
func NewDevice(name string, id uint64) *Device {
	d := &Device{
		name:  name,
		mtu:   DefaultMTU,
		reasm: protocol.NewReassembler(),
		info: messages.DeviceInfo{
			ProtocolVersion:   1,
			MAC:               [6]byte{0xC8, 0x2B, 0x96, byte(id >> 16), byte(id >> 8), byte(id)},
			HardwareVersion:   0x01000000,
			FirmwareVersion:   0x01020300,
			BootloaderVersion: 0x01000001,
			BLEVersion:        0x05000000,
			DeviceID:          id,
		},
		status: messages.Status{
			RunTime:         time.Hour,
			Temperature:     21.5,
			Humidity:        40.25,
			Battery:         87,
			Modules:         messages.ModuleGPS | messages.ModuleBLE | messages.ModuleAccelerometer,
			WorkMode:        messages.WorkModeNormal,
			ReportFrequency: 60 * time.Second,
			Position: messages.Position{
				Latitude:      51.5007,
				LatHemisphere: messages.HemisphereNorth,
				Longitude:     -0.1246,
				LonHemisphere: messages.HemisphereWest,
				Altitude:      35.5,
			},
			Motion:            messages.MotionStill,
			HeartbeatInterval: 5 * time.Minute,
			GPSInterval:       30 * time.Second,
			UploadInterval:    60 * time.Second,
		},
		faults: faults{failChunk: -1},
	}
	return d
}

// Attach sets where the device's units go and the unit size it fragments to
func (d *Device) Attach(send func([]byte), mtu int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.send = send
	if mtu > 0 {
		d.mtu = mtu
	}
}

// SetFrameHook registers an observer for received and sent frames
func (d *Device) SetFrameHook(h FrameHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hook = h
}

// Name returns the advertised device name
func (d *Device) Name() string {
	return d.name
}

// Receive handles one unit written by the host
func (d *Device) Receive(b []byte) {
	var raw []byte
	switch {
	case protocol.IsSubPacket(b):
		sp, err := protocol.ParseSubPacket(b)
		if err != nil {
			logging.Warn("Simulator dropped malformed sub-packet", zap.Error(err), logging.Hex("hex", b))
			return
		}
		d.mu.Lock()
		raw, err = d.reasm.Feed(sp)
		d.mu.Unlock()
		if err != nil {
			logging.Warn("Simulator reassembly aborted", zap.Uint32("packet_id", sp.PacketID), zap.Error(err))
			return
		}
		if raw == nil {
			return
		}
	case protocol.IsFrame(b):
		raw = b
	default:
		logging.Warn("Simulator dropped unrecognised unit", logging.Hex("hex", b))
		return
	}

	f, err := protocol.ParseFrame(raw)
	if err != nil {
		logging.Warn("Simulator dropped frame", zap.Error(err), logging.Hex("hex", raw))
		return
	}
	d.handle(f)
}

func (d *Device) handle(f *protocol.Frame) {
	d.mu.Lock()
	d.received = append(d.received, f)
	if len(d.received) > receivedHistory {
		d.received = d.received[len(d.received)-receivedHistory:]
	}
	hook := d.hook
	d.mu.Unlock()
	if hook != nil {
		hook("rx", f)
	}

	logging.Debug("Simulator received frame",
		zap.Uint32("serial", f.Serial),
		zap.String("command", f.Command.String()),
		zap.Int("payload_length", len(f.Payload)),
	)

	switch f.Command {
	case protocol.CmdQueryDeviceInfo:
		d.mu.Lock()
		info := d.info
		d.mu.Unlock()
		if err := d.emit(&info, false); err != nil {
			logging.Error("Simulator failed to answer query", zap.String("command", f.Command.String()), zap.Error(err))
		}
	case protocol.CmdQueryStatus:
		d.mu.Lock()
		status := d.status
		d.mu.Unlock()
		if err := d.emit(&status, false); err != nil {
			logging.Error("Simulator failed to answer query", zap.String("command", f.Command.String()), zap.Error(err))
		}
	default:
		if f.Command.ExpectsReply() {
			d.reply(f, d.apply(f))
		}
	}
}

// apply performs a reply-bearing command and returns the status to answer
func (d *Device) apply(f *protocol.Frame) protocol.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch f.Command {
	case protocol.CmdBind:
		phone, err := decodePhone(f.Payload)
		if err != nil {
			return protocol.StatusFailed
		}
		d.phone = phone
		d.info.Bound = true
	case protocol.CmdUnbind:
		d.phone = ""
		d.info.Bound = false
	case protocol.CmdSetSOSNumber:
		phone, err := decodePhone(f.Payload)
		if err != nil {
			return protocol.StatusFailed
		}
		d.sosNumber = phone
	case protocol.CmdSetWorkMode:
		if len(f.Payload) != 1 || f.Payload[0] > byte(messages.WorkModeRealtime) {
			return protocol.StatusFailed
		}
		d.status.WorkMode = messages.WorkMode(f.Payload[0])
	case protocol.CmdSetReportInterval:
		r := protocol.NewReader(f.Payload)
		secs := r.U32()
		if r.Err() != nil || secs == 0 {
			return protocol.StatusFailed
		}
		d.status.ReportFrequency = time.Duration(secs) * time.Second
	case protocol.CmdSyncTime:
		r := protocol.NewReader(f.Payload)
		secs := r.U32()
		if r.Err() != nil {
			return protocol.StatusFailed
		}
		d.clockOffset = time.Until(time.Unix(int64(secs), 0))
	case protocol.CmdFindDevice:
		d.findRequests++
		logging.Info("Simulator beeping", zap.String("device", d.name))
	case protocol.CmdFirmwareStart:
		return d.firmwareStart(f.Payload)
	case protocol.CmdFirmwareChunk:
		return d.firmwareChunk(f.Payload)
	case protocol.CmdFirmwareEnd:
		return d.firmwareEnd(f.Payload)
	}
	return protocol.StatusSuccess
}

func decodePhone(b []byte) (string, error) {
	if len(b) != protocol.PhoneBCDLength {
		return "", fmt.Errorf("phone block is %d bytes, want %d", len(b), protocol.PhoneBCDLength)
	}
	return protocol.DecodePhoneBCD(b)
}

func (d *Device) firmwareStart(payload []byte) protocol.Status {
	version, total, sum, err := firmware.ParseStartPayload(payload)
	if err != nil || total == 0 {
		logging.Warn("Simulator rejected firmware start", zap.Error(err))
		return protocol.StatusFailed
	}
	d.upgrade = &upgradeState{
		version: version,
		total:   total,
		md5:     sum,
		image:   make([]byte, 0, total),
	}
	logging.Info("Simulator firmware upgrade started",
		zap.Uint32("total_bytes", total),
		zap.String("md5", sum),
	)
	return protocol.StatusSuccess
}

func (d *Device) firmwareChunk(payload []byte) protocol.Status {
	u := d.upgrade
	if u == nil {
		return protocol.StatusFailed
	}
	index, data, err := firmware.ParseChunkPayload(payload)
	if err != nil {
		return protocol.StatusCRCError
	}

	if d.faults.inProgress > 0 {
		d.faults.inProgress--
		return protocol.StatusInProgress
	}
	if int(index) == d.faults.failChunk && d.faults.failChunkTimes != 0 {
		if d.faults.failChunkTimes > 0 {
			d.faults.failChunkTimes--
		}
		return protocol.StatusFailed
	}

	switch {
	case index == u.next:
		if uint32(len(u.image)+len(data)) > u.total {
			return protocol.StatusFailed
		}
		u.image = append(u.image, data...)
		u.next++
	case index+1 == u.next:
		// resend of a chunk whose acknowledgement was lost
	default:
		logging.Warn("Simulator got out-of-order chunk",
			zap.Uint32("index", index),
			zap.Uint32("expected", u.next),
		)
		return protocol.StatusFailed
	}
	return protocol.StatusSuccess
}

func (d *Device) firmwareEnd(payload []byte) protocol.Status {
	u := d.upgrade
	d.upgrade = nil
	if u == nil || len(payload) != 1 {
		return protocol.StatusFailed
	}
	if uint32(len(u.image)) != u.total {
		logging.Warn("Simulator firmware image incomplete",
			zap.Int("received", len(u.image)),
			zap.Uint32("total_bytes", u.total),
		)
		return protocol.StatusFailed
	}
	sum := md5.Sum(u.image)
	if got := hex.EncodeToString(sum[:]); got != u.md5 {
		logging.Warn("Simulator firmware checksum mismatch",
			zap.String("want", u.md5),
			zap.String("got", got),
		)
		return protocol.StatusCRCError
	}
	d.committedImage = u.image
	d.info.FirmwareVersion = messages.Version(uint32(u.version[0])<<24 | uint32(u.version[1])<<16 | uint32(u.version[2])<<8 | uint32(u.version[3]))
	logging.Info("Simulator firmware committed", zap.String("version", d.info.FirmwareVersion.String()))
	return protocol.StatusSuccess
}

// reply answers f with status, subject to injected faults
func (d *Device) reply(f *protocol.Frame, status protocol.Status) {
	d.mu.Lock()
	if d.faults.dropReplies > 0 {
		d.faults.dropReplies--
		d.mu.Unlock()
		logging.Debug("Simulator dropped reply", zap.Uint32("serial", f.Serial))
		return
	}
	corrupt := false
	if d.faults.corruptReplies > 0 {
		d.faults.corruptReplies--
		corrupt = true
	}
	serial := d.nextSerial()
	d.mu.Unlock()

	raw, err := protocol.EncodeResponse(serial, f.Command, f.Serial, status)
	if err != nil {
		logging.Error("Simulator failed to encode reply", zap.Error(err))
		return
	}
	if corrupt {
		raw[len(raw)-3] ^= 0xFF
	}
	if err := d.transmit(serial, raw); err != nil {
		logging.Error("Simulator failed to send reply", zap.Uint32("serial", serial), zap.Error(err))
	}
}

// Report sends an unsolicited report such as an alarm or position batch
func (d *Device) Report(m messages.Message) error {
	return d.emit(m, true)
}

func (d *Device) emit(m messages.Message, unsolicited bool) error {
	payload, err := messages.Encode(m)
	if err != nil {
		return err
	}
	d.mu.Lock()
	serial := d.nextSerial()
	d.mu.Unlock()

	frame, err := protocol.BuildFrame(serial, m.Type(), payload)
	if err != nil {
		return err
	}
	logging.Debug("Simulator sending report",
		zap.Uint32("serial", serial),
		zap.String("command", m.Type().String()),
		zap.Bool("unsolicited", unsolicited),
	)
	return d.transmit(serial, frame.Bytes())
}

func (d *Device) transmit(serial uint32, raw []byte) error {
	d.mu.Lock()
	send, mtu, hook := d.send, d.mtu, d.hook
	d.mu.Unlock()
	if send == nil {
		return fmt.Errorf("simulator device %s is not attached", d.name)
	}
	if hook != nil {
		if f, err := protocol.ParseFrame(raw); err == nil {
			hook("tx", f)
		}
	}
	packets, err := protocol.Fragment(raw, mtu, serial)
	if err != nil {
		return err
	}
	for _, sp := range packets {
		send(sp.Bytes())
	}
	return nil
}

// nextSerial must be called with d.mu held
func (d *Device) nextSerial() uint32 {
	d.serial++
	return d.serial
}

// FailChunk answers the chunk at index with failed. times < 0 fails it on
// every attempt.
func (d *Device) FailChunk(index, times int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.failChunk = index
	d.faults.failChunkTimes = times
}

// DropReplies silently swallows the next n replies
func (d *Device) DropReplies(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.dropReplies = n
}

// CorruptReplies sends the next n replies with a broken checksum
func (d *Device) CorruptReplies(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.corruptReplies = n
}

// ReplyInProgress answers the next n firmware chunks with inProgress
func (d *Device) ReplyInProgress(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.inProgress = n
}

// Info returns the device identity as it would report it
func (d *Device) Info() messages.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Status returns the current telemetry
func (d *Device) Status() messages.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Phone returns the bound phone number, empty when unbound
func (d *Device) Phone() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phone
}

// SOSNumber returns the configured SOS number
func (d *Device) SOSNumber() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sosNumber
}

// Clock returns the device's notion of now, as set by SyncTime
func (d *Device) Clock() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Now().Add(d.clockOffset)
}

// FindRequests counts FindDevice commands received
func (d *Device) FindRequests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findRequests
}

// Image returns the last committed firmware image
func (d *Device) Image() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committedImage
}

// Received returns the most recent frames received
func (d *Device) Received() []*protocol.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*protocol.Frame(nil), d.received...)
}

// Reset drops any partial reassembly and firmware session, as a reboot would
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasm.Reset()
	d.upgrade = nil
}
