package simulator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/muurk/minilink/internal/firmware"
	"github.com/muurk/minilink/internal/link"
	"github.com/muurk/minilink/internal/messages"
	"github.com/muurk/minilink/internal/protocol"
)

func newLinkedDevice(t *testing.T, mtu int) (*Device, *Pipe, *link.Dispatcher) {
	t.Helper()
	dev := NewDevice("GT-03", 860000000000042)
	pipe := NewPipe(dev, mtu)
	d := link.New(pipe, link.WithInterPacketDelay(0), link.WithDefaultTimeout(time.Second))
	t.Cleanup(func() {
		d.Close()
		pipe.Close()
	})
	return dev, pipe, d
}

func nextMessage(t *testing.T, d *link.Dispatcher) messages.Message {
	t.Helper()
	select {
	case m := <-d.Messages():
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func TestPipeRequestReply(t *testing.T) {
	dev, _, d := newLinkedDevice(t, 20)

	payload, err := messages.BindPayload("13800138000")
	if err != nil {
		t.Fatalf("BindPayload() error = %v", err)
	}
	reply, err := d.Request(context.Background(), protocol.CmdBind, payload, 0)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if reply.Status() != protocol.StatusSuccess {
		t.Errorf("status = %s, want success", reply.Status())
	}
	if reply.Response.RespondedSerial != reply.Serial {
		t.Errorf("responded serial = %d, want %d", reply.Response.RespondedSerial, reply.Serial)
	}
	if !dev.Info().Bound {
		t.Error("device not bound")
	}
}

func TestPipeQueries(t *testing.T) {
	_, _, d := newLinkedDevice(t, 20)

	if _, err := d.Send(context.Background(), protocol.CmdQueryDeviceInfo, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	info, ok := nextMessage(t, d).(*messages.DeviceInfo)
	if !ok || info.DeviceID != 860000000000042 {
		t.Errorf("device info = %v", info)
	}

	if _, err := d.Send(context.Background(), protocol.CmdQueryStatus, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, ok := nextMessage(t, d).(*messages.Status); !ok {
		t.Error("status query not answered with a status report")
	}
}

func TestPipeUnsolicitedReports(t *testing.T) {
	dev, _, d := newLinkedDevice(t, 20)

	report := &messages.PositionReport{
		DeviceID:       860000000000042,
		Interval:       30 * time.Second,
		FirstTimestamp: time.Unix(1700000000, 0),
		Points: []messages.TrackPoint{
			{Timestamp: time.Unix(1700000000, 0), Position: messages.Position{Latitude: 22.5, LatHemisphere: 'N', Longitude: 114.1, LonHemisphere: 'E', Altitude: 12}},
			{Timestamp: time.Unix(1700000030, 0), Position: messages.Position{Latitude: 22.6, LatHemisphere: 'N', Longitude: 114.2, LonHemisphere: 'E', Altitude: 15}},
		},
	}
	if err := dev.Report(report); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	got, ok := nextMessage(t, d).(*messages.PositionReport)
	if !ok || len(got.Points) != 2 {
		t.Fatalf("report = %v", got)
	}
	if !got.Points[1].Timestamp.Equal(time.Unix(1700000030, 0)) {
		t.Errorf("second point at %s", got.Points[1].Timestamp)
	}
}

func testFirmware(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + 7)
	}
	return b
}

func fastFirmwareConfig() firmware.Config {
	cfg := firmware.DefaultConfig()
	cfg.StartTimeout = time.Second
	cfg.ChunkTimeout = 300 * time.Millisecond
	cfg.EndTimeout = time.Second
	cfg.PollDelay = time.Millisecond
	return cfg
}

func TestPipeFirmwareUpgrade(t *testing.T) {
	dev, _, d := newLinkedDevice(t, 20)
	image := testFirmware(5000)
	version := [4]byte{1, 2, 3, 4}

	var progress []int
	u := firmware.New(d, fastFirmwareConfig())
	if err := u.Run(context.Background(), version, image, func(p int) { progress = append(progress, p) }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !bytes.Equal(dev.Image(), image) {
		t.Error("device committed a different image")
	}
	if got := dev.Info().FirmwareVersion.String(); got != "1.2.3.4" {
		t.Errorf("FirmwareVersion = %s, want 1.2.3.4", got)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("progress = %v, want to end at 100", progress)
	}

	var chunks []uint32
	for _, f := range dev.Received() {
		if f.Command == protocol.CmdFirmwareChunk {
			index, _, err := firmware.ParseChunkPayload(f.Payload)
			if err != nil {
				t.Fatalf("ParseChunkPayload() error = %v", err)
			}
			chunks = append(chunks, index)
		}
	}
	if len(chunks) != 10 {
		t.Fatalf("device received %d chunks, want 10", len(chunks))
	}
	for i, idx := range chunks {
		if idx != uint32(i) {
			t.Errorf("chunk %d carried index %d", i, idx)
		}
	}
}

// faultOnChunk runs inject the first time the device receives chunk index
func faultOnChunk(dev *Device, index uint32, inject func()) {
	var once sync.Once
	dev.SetFrameHook(func(direction string, f *protocol.Frame) {
		if direction != "rx" || f.Command != protocol.CmdFirmwareChunk {
			return
		}
		if i, _, err := firmware.ParseChunkPayload(f.Payload); err == nil && i == index {
			once.Do(inject)
		}
	})
}

func TestPipeFirmwareRecovers(t *testing.T) {
	tests := []struct {
		name  string
		setup func(dev *Device)
	}{
		{
			name:  "corrupted acknowledgement",
			setup: func(dev *Device) { faultOnChunk(dev, 3, func() { dev.CorruptReplies(1) }) },
		},
		{
			name:  "lost acknowledgement",
			setup: func(dev *Device) { faultOnChunk(dev, 2, func() { dev.DropReplies(1) }) },
		},
		{
			name:  "busy device",
			setup: func(dev *Device) { dev.ReplyInProgress(3) },
		},
		{
			name:  "one failed chunk",
			setup: func(dev *Device) { dev.FailChunk(4, 1) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, _, d := newLinkedDevice(t, 64)
			tt.setup(dev)
			image := testFirmware(3000)

			u := firmware.New(d, fastFirmwareConfig())
			if err := u.Run(context.Background(), [4]byte{1, 0, 0, 9}, image, nil); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if !bytes.Equal(dev.Image(), image) {
				t.Error("device committed a different image")
			}
		})
	}
}

func TestPipeFirmwareFailedChunk(t *testing.T) {
	dev, _, d := newLinkedDevice(t, 64)
	dev.FailChunk(5, -1)

	u := firmware.New(d, fastFirmwareConfig())
	err := u.Run(context.Background(), [4]byte{1, 0, 0, 9}, testFirmware(5000), nil)

	var f *firmware.Failure
	if !errors.As(err, &f) || f.Phase != firmware.PhaseTransfer || f.Index != 5 {
		t.Fatalf("error = %v, want transfer failure at chunk 5", err)
	}
	for _, fr := range dev.Received() {
		if fr.Command == protocol.CmdFirmwareEnd {
			t.Error("end command sent after failure")
		}
		if fr.Command != protocol.CmdFirmwareChunk {
			continue
		}
		if i, _, _ := firmware.ParseChunkPayload(fr.Payload); i > 5 {
			t.Errorf("chunk %d sent after chunk 5 failed", i)
		}
	}
	if dev.Image() != nil {
		t.Error("image committed after failure")
	}
}

func TestPipeDisconnectDuringUpgrade(t *testing.T) {
	dev, pipe, d := newLinkedDevice(t, 64)
	faultOnChunk(dev, 2, func() { pipe.Disconnect(errors.New("out of range")) })

	u := firmware.New(d, fastFirmwareConfig())
	err := u.Run(context.Background(), [4]byte{1, 0, 0, 9}, testFirmware(5000), nil)

	var f *firmware.Failure
	if !errors.As(err, &f) {
		t.Fatalf("error = %v, want *firmware.Failure", err)
	}
	if !errors.Is(err, link.ErrDisconnected) && !errors.Is(err, protocol.ErrNotConnected) {
		t.Errorf("error = %v, want a disconnection", err)
	}
	if d.Connected() {
		t.Error("dispatcher reports connected after disconnect")
	}

	if _, err := d.Request(context.Background(), protocol.CmdFindDevice, nil, 0); !errors.Is(err, protocol.ErrNotConnected) {
		t.Errorf("Request() after disconnect error = %v, want ErrNotConnected", err)
	}

	pipe.Reconnect()
	if _, err := d.Request(context.Background(), protocol.CmdFindDevice, nil, 0); err != nil {
		t.Errorf("Request() after reconnect error = %v", err)
	}
}

func TestPipeFragmentsToMTU(t *testing.T) {
	_, pipe, d := newLinkedDevice(t, 20)

	payload := bytes.Repeat([]byte{0x5A}, 100)
	before := pipe.Writes()
	if _, err := d.Request(context.Background(), protocol.CmdFirmwareChunk, payload, 0); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	// 114-byte frame in 11-byte sub-packet bodies
	if got := pipe.Writes() - before; got != 11 {
		t.Errorf("writes = %d, want 11", got)
	}
}
