package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Disconnect reasons, named as Socket.IO clients report them.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

// ErrMalformedPacket marks an inbound packet that could not be decoded. The
// connection stays usable after it.
var ErrMalformedPacket = errors.New("socketio: malformed packet")

// DisconnectError ends a session and carries the reason the connection went away.
type DisconnectError struct {
	Reason string
	Err    error
}

func (err *DisconnectError) Error() string {
	if err.Err != nil {
		return err.Reason + ": " + err.Err.Error()
	}
	return err.Reason
}

func (err *DisconnectError) Unwrap() error { return err.Err }

// ConnectError is returned by Dial when the server refuses the namespace connection.
type ConnectError struct {
	Message string
}

func (err *ConnectError) Error() string { return "socketio: connect refused: " + err.Message }

// Options configures Dial.
type Options struct {
	Endpoint
	Chooser *TransportChooser
	Dialer  *websocket.Dialer
	// Auth is sent as the CONNECT payload when not nil.
	Auth any
}

// Event is one inbound Socket.IO event with its raw JSON arguments.
type Event struct {
	Name string
	Args []json.RawMessage
}

// Payload returns the first argument, or nil when the event carried none.
func (event Event) Payload() json.RawMessage {
	if len(event.Args) == 0 {
		return nil
	}
	return event.Args[0]
}

// Conn is an established Socket.IO session on the default namespace. Next must be
// called from a single goroutine; Emit and Close may be called from any goroutine.
type Conn struct {
	transport Transport
	info      OpenInfo
	id        string

	pending []EnginePacket
	closed  atomic.Bool
	once    sync.Once
}

// Dial connects to the server, trying each transport the chooser offers until one
// completes both the Engine.IO and the Socket.IO handshakes.
func Dial(ctx context.Context, options Options) (*Conn, error) {
	chooser := options.Chooser
	if chooser == nil {
		chooser = NewTransportChooser()
	}

	var failures []error
	for _, name := range chooser.Order() {
		conn, err := dialTransport(ctx, options, name)
		if err == nil {
			chooser.ReportSuccess(name)
			return conn, nil
		}
		chooser.ReportFailure(name, err)
		failures = append(failures, fmt.Errorf("%s: %w", name, err))

		var refused *ConnectError
		if ctx.Err() != nil || errors.As(err, &refused) {
			break
		}
	}
	return nil, errors.Join(failures...)
}

func newTransport(name string, options Options) Transport {
	if name == TransportPolling {
		return NewPollingTransport(options.Endpoint)
	}
	return NewWebsocketTransport(options.Endpoint, options.Dialer)
}

func dialTransport(ctx context.Context, options Options, name string) (*Conn, error) {
	transport := newTransport(name, options)
	info, err := transport.Open(ctx)
	if err != nil {
		_ = transport.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = transport.Close() })
	conn := &Conn{transport: transport, info: info}

	connect := Packet{Type: PacketConnect, Namespace: DefaultNamespace}
	if options.Auth != nil {
		auth, err := json.Marshal(options.Auth)
		if err != nil {
			stop()
			_ = transport.Close()
			return nil, err
		}
		connect.Data = auth
	}
	if err := transport.Send(MessagePacket(connect)); err != nil {
		stop()
		_ = transport.Close()
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	for {
		packet, err := conn.nextEngine(deadline)
		if err != nil {
			stop()
			_ = transport.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		switch packet.Type {
		case EnginePing:
			if err := transport.Send(EnginePacket{Type: EnginePong, Data: packet.Data}); err != nil {
				stop()
				_ = transport.Close()
				return nil, err
			}
		case EngineClose:
			stop()
			_ = transport.Close()
			return nil, &DisconnectError{Reason: ReasonTransportClose}
		case EngineMessage:
			socketPacket, err := DecodePacket(packet.Data)
			if err != nil {
				stop()
				_ = transport.Close()
				return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
			}
			switch socketPacket.Type {
			case PacketConnect:
				var ack struct {
					SID string `json:"sid"`
				}
				if len(socketPacket.Data) > 0 {
					_ = json.Unmarshal(socketPacket.Data, &ack)
				}
				conn.id = ack.SID
				if !stop() {
					_ = transport.Close()
					return nil, ctx.Err()
				}
				return conn, nil
			case PacketConnectError:
				stop()
				_ = transport.Close()
				return nil, &ConnectError{Message: socketPacket.ConnectError()}
			}
		}
	}
}

func (conn *Conn) nextEngine(deadline time.Time) (EnginePacket, error) {
	for len(conn.pending) == 0 {
		packets, err := conn.transport.Receive(deadline)
		if err != nil {
			return EnginePacket{}, err
		}
		conn.pending = append(conn.pending, packets...)
	}
	packet := conn.pending[0]
	conn.pending = conn.pending[1:]
	return packet, nil
}

// ID returns the socket id assigned by the server.
func (conn *Conn) ID() string { return conn.id }

// TransportName returns the transport the session runs on.
func (conn *Conn) TransportName() string { return conn.transport.Name() }

// Info returns the Engine.IO handshake data.
func (conn *Conn) Info() OpenInfo { return conn.info }

// Emit sends an event with the given arguments.
func (conn *Conn) Emit(name string, args ...any) error {
	if conn.closed.Load() {
		return ErrTransportClosed
	}
	packet, err := NewEventPacket(name, args...)
	if err != nil {
		return err
	}
	return conn.transport.Send(MessagePacket(packet))
}

// Next blocks until the next event arrives. Heartbeats are answered internally. A
// *DisconnectError means the session is over; an error wrapping ErrMalformedPacket
// means one inbound packet was skipped.
func (conn *Conn) Next() (Event, error) {
	for {
		packet, err := conn.nextEngine(time.Now().Add(conn.info.HeartbeatWindow()))
		if err != nil {
			return Event{}, conn.classify(err)
		}
		switch packet.Type {
		case EnginePing:
			if err := conn.transport.Send(EnginePacket{Type: EnginePong, Data: packet.Data}); err != nil {
				return Event{}, conn.classify(err)
			}
		case EngineClose:
			return Event{}, &DisconnectError{Reason: ReasonTransportClose}
		case EngineMessage:
			socketPacket, err := DecodePacket(packet.Data)
			if err != nil {
				return Event{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
			}
			switch socketPacket.Type {
			case PacketEvent:
				name, args, err := socketPacket.Event()
				if err != nil {
					return Event{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
				}
				return Event{Name: name, Args: args}, nil
			case PacketDisconnect:
				return Event{}, &DisconnectError{Reason: ReasonServerDisconnect}
			case PacketConnectError:
				return Event{}, &DisconnectError{
					Reason: ReasonServerDisconnect,
					Err:    &ConnectError{Message: socketPacket.ConnectError()},
				}
			}
		}
	}
}

func (conn *Conn) classify(err error) error {
	if conn.closed.Load() {
		return &DisconnectError{Reason: ReasonClientDisconnect, Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &DisconnectError{Reason: ReasonPingTimeout, Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		return &DisconnectError{Reason: ReasonTransportClose, Err: err}
	}
	return &DisconnectError{Reason: ReasonTransportError, Err: err}
}

// Close leaves the namespace and closes the transport. It is safe to call more than
// once and concurrently with Next.
func (conn *Conn) Close() error {
	var err error
	conn.once.Do(func() {
		conn.closed.Store(true)
		_ = conn.transport.Send(MessagePacket(Packet{Type: PacketDisconnect, Namespace: DefaultNamespace}))
		err = conn.transport.Close()
	})
	return err
}
