package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/minilink/internal/protocol"
)

// echoBridge answers every binary message with the same bytes and
// announces mtu in the handshake (omitted when mtu is 0)
func echoBridge(t *testing.T, mtu string) (*httptest.Server, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := http.Header{}
		if mtu != "" {
			header.Set(MTUHeader, mtu)
		}
		conn, err := upgrader.Upgrade(w, r, header)
		if err != nil {
			return
		}
		conns <- conn
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/link"
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv, _ := echoBridge(t, "48")

	ws, err := DialWebSocket(context.Background(), wsURL(srv), 20)
	if err != nil {
		t.Fatalf("DialWebSocket() error = %v", err)
	}
	defer ws.Close()

	if ws.MaxPayloadSize() != 48 {
		t.Errorf("MaxPayloadSize() = %d, want 48 from handshake", ws.MaxPayloadSize())
	}
	units := collect(t, ws)

	sub, _ := testUnits(t)
	if err := ws.Write(sub); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := next(t, units); !bytes.Equal(got, sub) {
		t.Errorf("echoed unit = % X, want % X", got, sub)
	}
}

func TestWebSocketMTU(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		fallback int
		want     int
		wantErr  error
	}{
		{name: "header wins", header: "185", fallback: 20, want: 185},
		{name: "fallback when absent", header: "", fallback: 20, want: 20},
		{name: "fallback when garbage", header: "lots", fallback: 64, want: 64},
		{name: "too small", header: "9", fallback: 20, wantErr: protocol.ErrInvalidMTU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := echoBridge(t, tt.header)
			ws, err := DialWebSocket(context.Background(), wsURL(srv), tt.fallback)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DialWebSocket() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DialWebSocket() error = %v", err)
			}
			defer ws.Close()
			if ws.MaxPayloadSize() != tt.want {
				t.Errorf("MaxPayloadSize() = %d, want %d", ws.MaxPayloadSize(), tt.want)
			}
		})
	}
}

func TestWebSocketBridgeClosed(t *testing.T) {
	srv, conns := echoBridge(t, "20")

	ws, err := DialWebSocket(context.Background(), wsURL(srv), 20)
	if err != nil {
		t.Fatalf("DialWebSocket() error = %v", err)
	}
	defer ws.Close()

	lost := make(chan error, 1)
	ws.SetDisconnectHandler(func(err error) { lost <- err })

	conn := <-conns
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
	_ = conn.Close()

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("disconnect handler not called")
	}
	if ws.IsConnected() {
		t.Error("IsConnected() = true after bridge closed")
	}
	if err := ws.Write([]byte{0x01}); !errors.Is(err, protocol.ErrNotConnected) {
		t.Errorf("Write() error = %v, want ErrNotConnected", err)
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := DialWebSocket(ctx, "ws://127.0.0.1:1/link", 20); err == nil {
		t.Error("DialWebSocket() to a closed port succeeded")
	}
}

func TestIsCloseError(t *testing.T) {
	if !IsCloseError(&websocket.CloseError{Code: websocket.CloseNormalClosure}) {
		t.Error("normal closure not recognised")
	}
	if IsCloseError(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}) {
		t.Error("abnormal closure treated as normal")
	}
	if IsCloseError(errors.New("boom")) {
		t.Error("plain error treated as close")
	}
}
