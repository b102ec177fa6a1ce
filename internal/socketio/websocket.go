package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const websocketWriteWait = 10 * time.Second

// WebsocketTransport carries Engine.IO packets in websocket text messages.
type WebsocketTransport struct {
	endpoint Endpoint
	dialer   *websocket.Dialer

	writeLock sync.Mutex
	conn      *websocket.Conn
}

// NewWebsocketTransport returns a transport dialing endpoint with dialer, or with the
// gorilla default dialer when dialer is nil.
func NewWebsocketTransport(endpoint Endpoint, dialer *websocket.Dialer) *WebsocketTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebsocketTransport{endpoint: endpoint, dialer: dialer}
}

// Name implements Transport.
func (transport *WebsocketTransport) Name() string { return TransportWebsocket }

// Open implements Transport.
func (transport *WebsocketTransport) Open(ctx context.Context) (OpenInfo, error) {
	target, err := transport.endpoint.url(TransportWebsocket, "")
	if err != nil {
		return OpenInfo{}, err
	}
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	case "http", "":
		target.Scheme = "ws"
	}

	header := http.Header{}
	for key, values := range transport.endpoint.Header {
		header[key] = append([]string(nil), values...)
	}

	conn, response, err := transport.dialer.DialContext(ctx, target.String(), header)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		if response != nil {
			return OpenInfo{}, fmt.Errorf("websocket handshake failed with status %d: %w", response.StatusCode, err)
		}
		return OpenInfo{}, err
	}
	transport.conn = conn
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	packets, err := transport.Receive(time.Time{})
	if err != nil {
		_ = conn.Close()
		return OpenInfo{}, err
	}
	if len(packets) == 0 || packets[0].Type != EngineOpen {
		_ = conn.Close()
		return OpenInfo{}, fmt.Errorf("socketio: expected open packet")
	}
	var info OpenInfo
	if err := json.Unmarshal(packets[0].Data, &info); err != nil {
		_ = conn.Close()
		return OpenInfo{}, fmt.Errorf("socketio: malformed open packet: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	return info, nil
}

// Send implements Transport.
func (transport *WebsocketTransport) Send(packets ...EnginePacket) error {
	if transport.conn == nil {
		return ErrTransportClosed
	}
	transport.writeLock.Lock()
	defer transport.writeLock.Unlock()
	for _, packet := range packets {
		_ = transport.conn.SetWriteDeadline(time.Now().Add(websocketWriteWait))
		if err := transport.conn.WriteMessage(websocket.TextMessage, EncodeEngine(packet)); err != nil {
			return err
		}
	}
	return nil
}

// Receive implements Transport. A zero deadline keeps any deadline already set.
func (transport *WebsocketTransport) Receive(deadline time.Time) ([]EnginePacket, error) {
	if transport.conn == nil {
		return nil, ErrTransportClosed
	}
	if !deadline.IsZero() {
		_ = transport.conn.SetReadDeadline(deadline)
	}
	messageType, data, err := transport.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if messageType != websocket.TextMessage {
		return nil, ErrBinaryUnsupported
	}
	packet, err := DecodeEngine(data)
	if err != nil {
		return nil, err
	}
	return []EnginePacket{packet}, nil
}

// Close implements Transport.
func (transport *WebsocketTransport) Close() error {
	if transport.conn == nil {
		return nil
	}
	transport.writeLock.Lock()
	_ = transport.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	transport.writeLock.Unlock()
	return transport.conn.Close()
}
