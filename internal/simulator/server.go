package simulator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/minilink/internal/discovery"
	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/protocol"
	"github.com/muurk/minilink/internal/transport"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

// Config holds the simulator server configuration
type Config struct {
	Host       string
	Port       int
	Path       string // WebSocket endpoint (default "/link")
	MTU        int
	DeviceName string
	DeviceID   uint64
	CertPath   string // Serve wss:// when both CertPath and KeyPath are set
	KeyPath    string
	Advertise  bool   // Register the bridge over mDNS
	CaptureDir string // Directory for JSONL frame captures (empty = disabled)

	// StatusEvery sends an unsolicited status report on each connection
	// at this period. Zero disables it.
	StatusEvery time.Duration

	// NewDevice builds the device for each connection. Defaults to a
	// fresh NewDevice(DeviceName, DeviceID).
	NewDevice func() *Device
}

func (c *Config) withDefaults() {
	if c.Path == "" {
		c.Path = discovery.DefaultPath
	}
	if c.MTU <= 0 {
		c.MTU = DefaultMTU
	}
	if c.DeviceName == "" {
		c.DeviceName = "minilink-sim"
	}
	if c.DeviceID == 0 {
		c.DeviceID = 860000000000001
	}
	if c.NewDevice == nil {
		name, id := c.DeviceName, c.DeviceID
		c.NewDevice = func() *Device { return NewDevice(name, id) }
	}
}

// Server exposes a simulated tracker per WebSocket connection
type Server struct {
	config   Config
	upgrader websocket.Upgrader
	http     *http.Server
	listener net.Listener
	advert   *discovery.Advertisement
	capture  *Capture

	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[string]*websocket.Conn
	connCount   atomic.Int64
}

// NewServer creates a server; call Start or Serve to accept connections
func NewServer(config Config) (*Server, error) {
	config.withDefaults()

	s := &Server{
		config:      config,
		activeConns: make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	if config.CaptureDir != "" {
		c, err := NewCapture(config.CaptureDir)
		if err != nil {
			return nil, err
		}
		s.capture = c
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.Path, s.handleWebSocket)
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if config.CertPath != "" && config.KeyPath != "" {
		tlsConfig, err := NewTLSConfig(config.CertPath, config.KeyPath)
		if err != nil {
			return nil, err
		}
		s.http.TLSConfig = tlsConfig
	}
	return s, nil
}

// Start listens on the configured address and serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.http.TLSConfig != nil {
		ln = tls.NewListener(ln, s.http.TLSConfig)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logging.Info("Starting simulator server",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", s.config.Path),
		zap.Int("mtu", s.config.MTU),
		zap.String("device", s.config.DeviceName),
		zap.Bool("tls", s.http.TLSConfig != nil),
	)

	if s.config.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		ad, err := discovery.Advertise(s.config.DeviceName, port,
			discovery.TXTRecords(s.config.MTU, s.config.DeviceName, s.config.Path))
		if err != nil {
			return err
		}
		s.advert = ad
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutdown requested, stopping simulator server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the listening address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	header := http.Header{}
	header.Set(transport.MTUHeader, strconv.Itoa(s.config.MTU))

	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		logging.Error("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.serveConn(conn, r.RemoteAddr)
}

// serveConn runs one simulated device over conn until either side closes
func (s *Server) serveConn(conn *websocket.Conn, remoteAddr string) {
	s.mu.Lock()
	s.activeConns[remoteAddr] = conn
	s.mu.Unlock()
	s.connCount.Add(1)

	var writeMu sync.Mutex
	done := make(chan struct{})

	defer func() {
		close(done)
		_ = conn.Close()
		s.mu.Lock()
		delete(s.activeConns, remoteAddr)
		s.mu.Unlock()
		logging.Info("Simulator connection closed", zap.String("remote_addr", remoteAddr))
	}()

	logging.Info("Simulator connection accepted", zap.String("remote_addr", remoteAddr))

	device := s.config.NewDevice()
	if s.capture != nil {
		device.SetFrameHook(s.capture.Hook(remoteAddr))
	}
	device.Attach(func(b []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
			logging.Warn("Failed to send unit",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
			return
		}
		logging.LogLink("tx", "websocket", b)
	}, s.config.MTU)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	if s.config.StatusEvery > 0 {
		go func() {
			ticker := time.NewTicker(s.config.StatusEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					status := device.Status()
					if err := device.Report(&status); err != nil {
						logging.Warn("Failed to send status report",
							zap.String("remote_addr", remoteAddr),
							zap.Error(err),
						)
					}
				}
			}
		}()
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info("Connection closed or error reading message",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch kind {
		case websocket.BinaryMessage:
			logging.LogLink("rx", "websocket", data)
			if len(data) > s.config.MTU && !protocol.IsFrame(data) {
				logging.Warn("Unit exceeds MTU",
					zap.String("remote_addr", remoteAddr),
					zap.Int("length", len(data)),
					zap.Int("mtu", s.config.MTU),
				)
			}
			device.Receive(data)
		case websocket.TextMessage:
			logging.Info("Received text WebSocket message",
				zap.String("remote_addr", remoteAddr),
				zap.String("content", string(data)),
			)
		}
	}
}

// Shutdown stops accepting connections, closes active ones and withdraws
// the mDNS advertisement
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down simulator server...")

	if s.advert != nil {
		s.advert.Shutdown()
	}

	err := s.http.Shutdown(ctx)

	s.mu.Lock()
	for addr, conn := range s.activeConns {
		logging.Info("Closing active connection", zap.String("remote_addr", addr))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	if s.capture != nil {
		if cerr := s.capture.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	logging.Sync()
	return err
}

// ActiveConnections returns the number of connected clients
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

// TotalConnections returns how many clients have connected since start
func (s *Server) TotalConnections() int64 {
	return s.connCount.Load()
}
