package simulator

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/messages"
	"github.com/muurk/minilink/internal/protocol"
)

// FrameRecord is one captured frame
type FrameRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	RemoteAddr string    `json:"remote_addr"`
	Direction  string    `json:"direction"`
	Serial     uint32    `json:"serial"`
	Command    string    `json:"command"`
	PayloadLen int       `json:"payload_length"`
	PayloadHex string    `json:"payload_hex"`
	Decoded    string    `json:"decoded,omitempty"`
	RawHex     string    `json:"raw_frame_hex"`
}

// Capture appends frames to a JSON Lines file for offline analysis
type Capture struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
}

// NewCapture creates capture-<timestamp>.jsonl in dir
func NewCapture(dir string) (*Capture, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("capture-%s.jsonl", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	logging.Info("Capturing frames", zap.String("filename", path))
	return &Capture{file: f, enc: json.NewEncoder(f), path: path}, nil
}

// Path returns the capture file name
func (c *Capture) Path() string {
	return c.path
}

// Hook returns a FrameHook that records frames for one connection
func (c *Capture) Hook(remoteAddr string) FrameHook {
	return func(direction string, f *protocol.Frame) {
		c.Record(remoteAddr, direction, f)
	}
}

// Record appends one frame
func (c *Capture) Record(remoteAddr, direction string, f *protocol.Frame) {
	rec := FrameRecord{
		Timestamp:  time.Now(),
		RemoteAddr: remoteAddr,
		Direction:  direction,
		Serial:     f.Serial,
		Command:    f.Command.String(),
		PayloadLen: len(f.Payload),
		PayloadHex: hex.EncodeToString(f.Payload),
		RawHex:     hex.EncodeToString(f.Raw),
	}
	if m, err := messages.Decode(f); err == nil {
		rec.Decoded = m.String()
	} else if r, ok := f.AsResponse(); ok && direction == "tx" {
		rec.Decoded = r.String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return
	}
	if err := c.enc.Encode(rec); err != nil {
		logging.Error("Failed to write to capture file",
			zap.String("filename", c.path),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the file
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
