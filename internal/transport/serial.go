package transport

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/protocol"
)

// Serial defaults
const (
	DefaultBaud      = 115200
	DefaultSerialMTU = 256
)

// SerialConfig selects the UART
type SerialConfig struct {
	Port string
	Baud int
	// MTU bounds the units written; the UART itself has no framing limit
	MTU int
}

// Serial carries units over a UART. Incoming bytes are cut into units at
// the FAF5/AA55 markers.
type Serial struct {
	endpoint
	name   string
	port   io.ReadWriteCloser
	mtu    int
	closed chan struct{}
	once   sync.Once
}

// OpenSerial opens the port and starts reading
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name: cfg.Port,
		Baud: cfg.Baud,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}
	logging.Info("Serial port opened",
		zap.String("port", cfg.Port),
		zap.Int("baud", cfg.Baud),
	)
	return newSerial(cfg.Port, port, cfg.MTU), nil
}

// newSerial wraps an open stream; tests pass a net.Pipe end
func newSerial(name string, port io.ReadWriteCloser, mtu int) *Serial {
	if mtu <= 0 {
		mtu = DefaultSerialMTU
	}
	s := &Serial{
		name:   name,
		port:   port,
		mtu:    mtu,
		closed: make(chan struct{}),
	}
	s.connected = true
	go s.readLoop()
	return s
}

// Write sends one unit
func (s *Serial) Write(b []byte) error {
	if !s.IsConnected() {
		return protocol.ErrNotConnected
	}
	if _, err := s.port.Write(b); err != nil {
		s.markLost(err)
		return fmt.Errorf("serial write failed: %w", err)
	}
	logging.LogLink("tx", "serial", b)
	return nil
}

// MaxPayloadSize returns the configured unit size
func (s *Serial) MaxPayloadSize() int { return s.mtu }

// Close closes the port, which ends the read loop
func (s *Serial) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		s.setConnected(false)
		err = s.port.Close()
	})
	return err
}

func (s *Serial) readLoop() {
	scanner := bufio.NewScanner(s.port)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxAssembledSize)
	scanner.Split(protocol.SplitPackets)

	for scanner.Scan() {
		unit := append([]byte(nil), scanner.Bytes()...)
		logging.LogLink("rx", "serial", unit)
		s.deliver(unit)
	}

	err := scanner.Err()
	select {
	case <-s.closed:
		s.markLost(nil)
	default:
		if err == nil {
			err = io.EOF
		}
		logging.Warn("Serial port closed", zap.String("port", s.name), zap.Error(err))
		s.markLost(err)
	}
}
