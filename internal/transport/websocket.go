package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/minilink/internal/logging"
	"github.com/muurk/minilink/internal/protocol"
)

// MTUHeader carries the bridge's transport unit size in the handshake
// response
const MTUHeader = "X-Minilink-MTU"

const (
	wsWriteWait   = 10 * time.Second
	wsDialTimeout = 10 * time.Second
)

// WebSocket relays units through a bridge. Each binary message is one unit.
type WebSocket struct {
	endpoint
	url     string
	conn    *websocket.Conn
	mtu     int
	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// DialWebSocket connects to a bridge. The unit size comes from the
// handshake's MTUHeader; fallbackMTU is used when the bridge omits it.
func DialWebSocket(ctx context.Context, url string, fallbackMTU int) (*WebSocket, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = wsDialTimeout

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to bridge %s (HTTP %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to bridge %s: %w", url, err)
	}

	mtu := fallbackMTU
	if v := headerMTU(resp.Header); v > 0 {
		mtu = v
	}
	if mtu <= protocol.SubPacketOverhead {
		_ = conn.Close()
		return nil, fmt.Errorf("bridge %s: %w (%d)", url, protocol.ErrInvalidMTU, mtu)
	}

	ws := &WebSocket{
		url:    url,
		conn:   conn,
		mtu:    mtu,
		closed: make(chan struct{}),
	}
	ws.connected = true

	logging.Info("Connected to bridge",
		zap.String("url", url),
		zap.Int("mtu", mtu),
	)

	go ws.readLoop()
	return ws, nil
}

func headerMTU(h http.Header) int {
	v, err := strconv.Atoi(h.Get(MTUHeader))
	if err != nil {
		return 0
	}
	return v
}

// Write sends one unit as a binary message
func (ws *WebSocket) Write(b []byte) error {
	if !ws.IsConnected() {
		return protocol.ErrNotConnected
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		ws.markLost(err)
		return fmt.Errorf("write failed: %w", err)
	}
	logging.LogLink("tx", "websocket", b)
	return nil
}

// MaxPayloadSize returns the unit size announced by the bridge
func (ws *WebSocket) MaxPayloadSize() int { return ws.mtu }

// URL returns the bridge address
func (ws *WebSocket) URL() string { return ws.url }

// Close sends a close message and tears the connection down
func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		close(ws.closed)
		ws.writeMu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		err = ws.conn.Close()
		ws.setConnected(false)
	})
	return err
}

func (ws *WebSocket) readLoop() {
	for {
		kind, data, err := ws.conn.ReadMessage()
		if err != nil {
			select {
			case <-ws.closed:
				ws.markLost(nil)
			default:
				if IsCloseError(err) {
					logging.Info("Bridge closed the connection", zap.String("url", ws.url))
				} else {
					logging.Warn("Bridge connection lost", zap.String("url", ws.url), zap.Error(err))
				}
				ws.markLost(err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			logging.Debug("Ignoring non-binary bridge message", zap.Int("type", kind))
			continue
		}
		logging.LogLink("rx", "websocket", data)
		ws.deliver(data)
	}
}

// IsCloseError reports whether err is a normal WebSocket closure
func IsCloseError(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway)
}
