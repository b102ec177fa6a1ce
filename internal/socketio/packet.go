// Package socketio implements the client side of the Socket.IO v5 protocol on top of
// Engine.IO v4, over the websocket and HTTP long-polling transports.
//
// Only the subset needed by a realtime subscriber is implemented: the default
// namespace, text events, heartbeats and the connect/disconnect handshake. Binary
// attachments and acknowledgements are rejected as unsupported.
package socketio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EnginePacketType is the single-character Engine.IO packet discriminator.
type EnginePacketType byte

// Engine.IO v4 packet types.
const (
	EngineOpen    EnginePacketType = '0'
	EngineClose   EnginePacketType = '1'
	EnginePing    EnginePacketType = '2'
	EnginePong    EnginePacketType = '3'
	EngineMessage EnginePacketType = '4'
	EngineUpgrade EnginePacketType = '5'
	EngineNoop    EnginePacketType = '6'
)

// payloadSeparator joins Engine.IO packets in a long-polling payload.
const payloadSeparator = 0x1e

// Codec errors.
var (
	ErrEmptyPacket       = errors.New("socketio: empty packet")
	ErrUnknownPacketType = errors.New("socketio: unknown packet type")
	ErrBinaryUnsupported = errors.New("socketio: binary packets are not supported")
	ErrNotAnEvent        = errors.New("socketio: packet is not an event")
)

// EnginePacket is one Engine.IO frame.
type EnginePacket struct {
	Type EnginePacketType
	Data []byte
}

// OpenInfo is the handshake payload of an Engine.IO open packet.
type OpenInfo struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// HeartbeatWindow returns how long the client may wait for a server ping before it
// considers the connection dead.
func (info OpenInfo) HeartbeatWindow() time.Duration {
	interval := time.Duration(info.PingInterval) * time.Millisecond
	timeout := time.Duration(info.PingTimeout) * time.Millisecond
	if interval <= 0 {
		interval = 25 * time.Second
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return interval + timeout
}

func validEngineType(packetType EnginePacketType) bool {
	return packetType >= EngineOpen && packetType <= EngineNoop
}

// EncodeEngine renders an Engine.IO packet in its text form.
func EncodeEngine(packet EnginePacket) []byte {
	out := make([]byte, 0, len(packet.Data)+1)
	out = append(out, byte(packet.Type))
	return append(out, packet.Data...)
}

// DecodeEngine parses one Engine.IO text packet.
func DecodeEngine(raw []byte) (EnginePacket, error) {
	if len(raw) == 0 {
		return EnginePacket{}, ErrEmptyPacket
	}
	if raw[0] == 'b' {
		return EnginePacket{}, ErrBinaryUnsupported
	}
	packetType := EnginePacketType(raw[0])
	if !validEngineType(packetType) {
		return EnginePacket{}, fmt.Errorf("%w: %q", ErrUnknownPacketType, raw[0])
	}
	return EnginePacket{Type: packetType, Data: append([]byte(nil), raw[1:]...)}, nil
}

// EncodePayload joins packets for a long-polling request body.
func EncodePayload(packets []EnginePacket) []byte {
	var buffer bytes.Buffer
	for index, packet := range packets {
		if index > 0 {
			buffer.WriteByte(payloadSeparator)
		}
		buffer.Write(EncodeEngine(packet))
	}
	return buffer.Bytes()
}

// DecodePayload splits a long-polling response body into packets.
func DecodePayload(raw []byte) ([]EnginePacket, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	parts := bytes.Split(raw, []byte{payloadSeparator})
	packets := make([]EnginePacket, 0, len(parts))
	for _, part := range parts {
		packet, err := DecodeEngine(part)
		if err != nil {
			return nil, err
		}
		packets = append(packets, packet)
	}
	return packets, nil
}

// PacketType is the Socket.IO packet discriminator carried inside an Engine.IO message.
type PacketType byte

// Socket.IO v5 packet types.
const (
	PacketConnect      PacketType = '0'
	PacketDisconnect   PacketType = '1'
	PacketEvent        PacketType = '2'
	PacketAck          PacketType = '3'
	PacketConnectError PacketType = '4'
	PacketBinaryEvent  PacketType = '5'
	PacketBinaryAck    PacketType = '6'
)

// DefaultNamespace is the namespace used when a packet names none.
const DefaultNamespace = "/"

// Packet is one Socket.IO frame.
type Packet struct {
	Type      PacketType
	Namespace string
	AckID     int64
	HasAck    bool
	Data      json.RawMessage
}

// EncodePacket renders a Socket.IO packet.
func EncodePacket(packet Packet) []byte {
	var buffer bytes.Buffer
	buffer.WriteByte(byte(packet.Type))
	if packet.Namespace != "" && packet.Namespace != DefaultNamespace {
		buffer.WriteString(packet.Namespace)
		buffer.WriteByte(',')
	}
	if packet.HasAck {
		buffer.WriteString(strconv.FormatInt(packet.AckID, 10))
	}
	buffer.Write(packet.Data)
	return buffer.Bytes()
}

// DecodePacket parses a Socket.IO packet.
func DecodePacket(raw []byte) (Packet, error) {
	if len(raw) == 0 {
		return Packet{}, ErrEmptyPacket
	}
	packet := Packet{Type: PacketType(raw[0]), Namespace: DefaultNamespace}
	switch packet.Type {
	case PacketConnect, PacketDisconnect, PacketEvent, PacketAck, PacketConnectError:
	case PacketBinaryEvent, PacketBinaryAck:
		return Packet{}, ErrBinaryUnsupported
	default:
		return Packet{}, fmt.Errorf("%w: %q", ErrUnknownPacketType, raw[0])
	}

	rest := raw[1:]
	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			packet.Namespace = string(rest)
			return packet, nil
		}
		packet.Namespace = string(rest[:end])
		rest = rest[end+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		ackID, err := strconv.ParseInt(string(rest[:digits]), 10, 64)
		if err != nil {
			return Packet{}, fmt.Errorf("socketio: invalid ack id: %w", err)
		}
		packet.AckID = ackID
		packet.HasAck = true
		rest = rest[digits:]
	}

	if len(rest) > 0 {
		if !json.Valid(rest) {
			return Packet{}, fmt.Errorf("socketio: invalid packet payload %q", rest)
		}
		packet.Data = append(json.RawMessage(nil), rest...)
	}
	return packet, nil
}

// NewEventPacket builds an EVENT packet for the default namespace.
func NewEventPacket(name string, args ...any) (Packet, error) {
	items := make([]any, 0, len(args)+1)
	items = append(items, name)
	items = append(items, args...)
	data, err := json.Marshal(items)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: PacketEvent, Namespace: DefaultNamespace, Data: data}, nil
}

// Event splits an EVENT packet into its name and raw arguments. Arguments are returned
// byte-for-byte as received.
func (packet Packet) Event() (string, []json.RawMessage, error) {
	if packet.Type != PacketEvent {
		return "", nil, ErrNotAnEvent
	}
	var items []json.RawMessage
	if err := json.Unmarshal(packet.Data, &items); err != nil {
		return "", nil, fmt.Errorf("socketio: malformed event payload: %w", err)
	}
	if len(items) == 0 {
		return "", nil, fmt.Errorf("socketio: event without name")
	}
	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, fmt.Errorf("socketio: event name is not a string: %w", err)
	}
	return name, items[1:], nil
}

// ConnectError extracts the message of a CONNECT_ERROR packet.
func (packet Packet) ConnectError() string {
	var body struct {
		Message string `json:"message"`
	}
	if len(packet.Data) > 0 && json.Unmarshal(packet.Data, &body) == nil && body.Message != "" {
		return body.Message
	}
	if len(packet.Data) > 0 {
		var text string
		if json.Unmarshal(packet.Data, &text) == nil {
			return text
		}
		return string(packet.Data)
	}
	return "connection refused"
}

// MessagePacket wraps a Socket.IO packet in an Engine.IO message.
func MessagePacket(packet Packet) EnginePacket {
	return EnginePacket{Type: EngineMessage, Data: EncodePacket(packet)}
}
