package socketio

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ServerOptions configures the server side of a websocket session.
type ServerOptions struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	// Refuse, when set, answers the namespace CONNECT with a CONNECT_ERROR carrying it.
	Refuse string
}

// ServerConn is the server side of a websocket Socket.IO session. It backs the fake
// realtime server and in-process test servers.
type ServerConn struct {
	ws       *websocket.Conn
	options  ServerOptions
	sid      string
	socketID string

	writeLock sync.Mutex
	closeOnce sync.Once
}

// Accept runs both handshakes on an upgraded websocket connection. It returns the raw
// CONNECT payload the client sent, which is nil when the client sent none.
func Accept(ws *websocket.Conn, sid string, socketID string, options ServerOptions) (*ServerConn, json.RawMessage, error) {
	if options.PingInterval <= 0 {
		options.PingInterval = 25 * time.Second
	}
	if options.PingTimeout <= 0 {
		options.PingTimeout = 20 * time.Second
	}
	conn := &ServerConn{ws: ws, options: options, sid: sid, socketID: socketID}

	open, err := json.Marshal(OpenInfo{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: int(options.PingInterval / time.Millisecond),
		PingTimeout:  int(options.PingTimeout / time.Millisecond),
		MaxPayload:   1000000,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := conn.write(EnginePacket{Type: EngineOpen, Data: open}); err != nil {
		return nil, nil, err
	}

	_ = ws.SetReadDeadline(time.Now().Add(options.PingInterval + options.PingTimeout))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, nil, err
		}
		packet, err := DecodeEngine(data)
		if err != nil || packet.Type != EngineMessage {
			continue
		}
		socketPacket, err := DecodePacket(packet.Data)
		if err != nil {
			return nil, nil, err
		}
		if socketPacket.Type != PacketConnect {
			continue
		}
		if options.Refuse != "" {
			body, _ := json.Marshal(map[string]string{"message": options.Refuse})
			_ = conn.write(MessagePacket(Packet{Type: PacketConnectError, Data: body}))
			_ = ws.Close()
			return nil, nil, &ConnectError{Message: options.Refuse}
		}
		ack, _ := json.Marshal(map[string]string{"sid": socketID})
		if err := conn.write(MessagePacket(Packet{Type: PacketConnect, Data: ack})); err != nil {
			return nil, nil, err
		}
		_ = ws.SetReadDeadline(time.Time{})
		return conn, socketPacket.Data, nil
	}
}

// SocketID returns the id announced to the client.
func (conn *ServerConn) SocketID() string { return conn.socketID }

func (conn *ServerConn) write(packet EnginePacket) error {
	conn.writeLock.Lock()
	defer conn.writeLock.Unlock()
	_ = conn.ws.SetWriteDeadline(time.Now().Add(websocketWriteWait))
	return conn.ws.WriteMessage(websocket.TextMessage, EncodeEngine(packet))
}

// Emit sends an event to the client.
func (conn *ServerConn) Emit(name string, args ...any) error {
	packet, err := NewEventPacket(name, args...)
	if err != nil {
		return err
	}
	return conn.write(MessagePacket(packet))
}

// EmitRaw sends a pre-encoded EVENT payload such as `["name",{...}]`.
func (conn *ServerConn) EmitRaw(data json.RawMessage) error {
	return conn.write(MessagePacket(Packet{Type: PacketEvent, Data: data}))
}

// WriteRaw sends an arbitrary text frame, including malformed ones.
func (conn *ServerConn) WriteRaw(frame string) error {
	conn.writeLock.Lock()
	defer conn.writeLock.Unlock()
	return conn.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Serve reads client events until the session ends, pinging the client on the
// configured interval. It returns the reason the session ended.
func (conn *ServerConn) Serve(onEvent func(Event)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(conn.options.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.write(EnginePacket{Type: EnginePing}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_ = conn.ws.SetReadDeadline(time.Now().Add(conn.options.PingInterval + conn.options.PingTimeout))
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return err
		}
		packet, err := DecodeEngine(data)
		if err != nil || packet.Type != EngineMessage {
			if err == nil && packet.Type == EngineClose {
				return &DisconnectError{Reason: ReasonTransportClose}
			}
			continue
		}
		socketPacket, err := DecodePacket(packet.Data)
		if err != nil {
			continue
		}
		switch socketPacket.Type {
		case PacketDisconnect:
			return &DisconnectError{Reason: ReasonClientDisconnect}
		case PacketEvent:
			name, args, err := socketPacket.Event()
			if err != nil {
				continue
			}
			if onEvent != nil {
				onEvent(Event{Name: name, Args: args})
			}
		}
	}
}

// Disconnect tells the client the server ended the session, then closes.
func (conn *ServerConn) Disconnect() error {
	err := conn.write(MessagePacket(Packet{Type: PacketDisconnect}))
	return errors.Join(err, conn.Close())
}

// Close drops the connection without a Socket.IO goodbye.
func (conn *ServerConn) Close() error {
	var err error
	conn.closeOnce.Do(func() { err = conn.ws.Close() })
	return err
}
