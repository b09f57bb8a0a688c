// Package transport moves sub-packets between a link.Dispatcher and a
// tracker.
//
// Three transports are provided, all implementing link.Transport and
// link.DisconnectNotifier:
//
//   - BLE writes to the tracker's GATT write characteristic and receives
//     notifications on the notify characteristic. Each write or notification
//     is one unit, sized to the negotiated ATT MTU.
//   - Serial carries units over a UART. The byte stream has no message
//     boundaries, so incoming bytes are cut into units with
//     protocol.SplitPackets, which resynchronizes on the FAF5/AA55 markers.
//   - WebSocket relays units through a bridge such as minilink-sim. Each
//     binary message is one unit and the bridge announces its unit size in
//     the X-Minilink-MTU handshake header.
//
// Received units are handed to the callback set with SetReceiveHandler.
// Loss of the link is reported once through SetDisconnectHandler, after
// which IsConnected returns false.
//
// # Usage
//
//	ws, err := transport.DialWebSocket(ctx, "ws://localhost:8765/link", 20)
//	if err != nil {
//	    return err
//	}
//	d := link.New(ws)
//	defer d.Close()
package transport
