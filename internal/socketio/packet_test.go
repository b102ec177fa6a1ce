package socketio

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEngineRoundTripKeepsPayload(t *testing.T) {
	packet := EnginePacket{Type: EngineMessage, Data: []byte(`2["x",1]`)}
	encoded := EncodeEngine(packet)
	if string(encoded) != `42["x",1]` {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	decoded, err := DecodeEngine(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Type != EngineMessage || string(decoded.Data) != `2["x",1]` {
		t.Fatalf("unexpected packet %+v", decoded)
	}
}

func TestDecodeEngineRejectsGarbage(t *testing.T) {
	if _, err := DecodeEngine(nil); !errors.Is(err, ErrEmptyPacket) {
		t.Fatalf("expected empty packet error, got %v", err)
	}
	if _, err := DecodeEngine([]byte("9")); !errors.Is(err, ErrUnknownPacketType) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	if _, err := DecodeEngine([]byte("bAAAA")); !errors.Is(err, ErrBinaryUnsupported) {
		t.Fatalf("expected binary error, got %v", err)
	}
}

func TestPayloadSplitsOnRecordSeparator(t *testing.T) {
	raw := EncodePayload([]EnginePacket{
		{Type: EnginePing},
		{Type: EngineMessage, Data: []byte(`0{"sid":"a"}`)},
	})
	if string(raw) != "2\x1e40{\"sid\":\"a\"}" {
		t.Fatalf("unexpected payload %q", raw)
	}
	packets, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if len(packets) != 2 || packets[0].Type != EnginePing || packets[1].Type != EngineMessage {
		t.Fatalf("unexpected packets %+v", packets)
	}
	if empty, err := DecodePayload(nil); err != nil || empty != nil {
		t.Fatalf("expected nil packets for empty payload, got %v %v", empty, err)
	}
}

func TestDecodePacketNamespaceAndAck(t *testing.T) {
	packet, err := DecodePacket([]byte(`2/admin,17["hello",{"a":1}]`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if packet.Namespace != "/admin" || !packet.HasAck || packet.AckID != 17 {
		t.Fatalf("unexpected header %+v", packet)
	}
	name, args, err := packet.Event()
	if err != nil || name != "hello" || len(args) != 1 || string(args[0]) != `{"a":1}` {
		t.Fatalf("unexpected event %q %s %v", name, args, err)
	}

	bare, err := DecodePacket([]byte("1"))
	if err != nil || bare.Type != PacketDisconnect || bare.Namespace != DefaultNamespace {
		t.Fatalf("unexpected bare packet %+v %v", bare, err)
	}
}

func TestDecodePacketRejectsBinaryAndInvalidJSON(t *testing.T) {
	if _, err := DecodePacket([]byte(`51-["x",{"_placeholder":true,"num":0}]`)); !errors.Is(err, ErrBinaryUnsupported) {
		t.Fatalf("expected binary error, got %v", err)
	}
	if _, err := DecodePacket([]byte(`2["x",`)); err == nil {
		t.Fatalf("expected invalid payload error")
	}
	if _, err := DecodePacket([]byte("x")); !errors.Is(err, ErrUnknownPacketType) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestEventPacketPreservesArgumentBytes(t *testing.T) {
	packet, err := NewEventPacket("join-patient-room", map[string]string{"practiceId": "7"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if string(EncodePacket(packet)) != `2["join-patient-room",{"practiceId":"7"}]` {
		t.Fatalf("unexpected encoding %s", EncodePacket(packet))
	}

	raw, err := DecodePacket([]byte(`2["vital-reading-update",{"SYS":120,"DIA":80}]`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	_, args, err := raw.Event()
	if err != nil {
		t.Fatalf("event failed: %v", err)
	}
	if string(args[0]) != `{"SYS":120,"DIA":80}` {
		t.Fatalf("payload bytes changed: %s", args[0])
	}
}

func TestEventRejectsNonEvents(t *testing.T) {
	if _, _, err := (Packet{Type: PacketConnect}).Event(); !errors.Is(err, ErrNotAnEvent) {
		t.Fatalf("expected not-an-event error, got %v", err)
	}
	if _, _, err := (Packet{Type: PacketEvent, Data: json.RawMessage(`[]`)}).Event(); err == nil {
		t.Fatalf("expected error for nameless event")
	}
	if _, _, err := (Packet{Type: PacketEvent, Data: json.RawMessage(`[1]`)}).Event(); err == nil {
		t.Fatalf("expected error for numeric event name")
	}
}

func TestConnectErrorMessage(t *testing.T) {
	cases := map[string]string{
		`{"message":"not authorized"}`: "not authorized",
		`"plain"`:                      "plain",
		``:                             "connection refused",
	}
	for data, want := range cases {
		packet := Packet{Type: PacketConnectError, Data: json.RawMessage(data)}
		if got := packet.ConnectError(); got != want {
			t.Fatalf("ConnectError(%q) = %q, want %q", data, got, want)
		}
	}
}

func TestHeartbeatWindowDefaults(t *testing.T) {
	if window := (OpenInfo{}).HeartbeatWindow(); window != 45*time.Second {
		t.Fatalf("unexpected default window %v", window)
	}
	if window := (OpenInfo{PingInterval: 100, PingTimeout: 50}).HeartbeatWindow(); window != 150*time.Millisecond {
		t.Fatalf("unexpected window %v", window)
	}
}

func TestTransportChooserAdvancesAndPins(t *testing.T) {
	chooser := NewTransportChooser("websocket", "bogus", "polling", "websocket")
	if order := chooser.Order(); len(order) != 2 || order[0] != TransportWebsocket || order[1] != TransportPolling {
		t.Fatalf("unexpected order %v", order)
	}
	chooser.ReportFailure(TransportWebsocket, errors.New("refused"))
	if chooser.Current() != TransportPolling || chooser.LastError() != "refused" {
		t.Fatalf("expected polling after websocket failure, got %s (%s)", chooser.Current(), chooser.LastError())
	}
	chooser.ReportFailure(TransportWebsocket, nil)
	if chooser.Current() != TransportPolling {
		t.Fatalf("failure of a non-current transport must not advance")
	}
	chooser.ReportSuccess(TransportWebsocket)
	if chooser.Current() != TransportWebsocket || chooser.LastError() != "" {
		t.Fatalf("expected websocket pinned after success")
	}
	if defaults := NewTransportChooser().Order(); len(defaults) != 2 || defaults[0] != TransportWebsocket {
		t.Fatalf("unexpected default order %v", defaults)
	}
}

func TestEndpointURL(t *testing.T) {
	endpoint := Endpoint{BaseURL: "https://vitals.example.com/base", Path: "socket.io"}
	target, err := endpoint.url(TransportPolling, "abc")
	if err != nil {
		t.Fatalf("url failed: %v", err)
	}
	if target.Path != "/base/socket.io/" {
		t.Fatalf("unexpected path %q", target.Path)
	}
	query := target.Query()
	if query.Get("EIO") != "4" || query.Get("transport") != "polling" || query.Get("sid") != "abc" {
		t.Fatalf("unexpected query %q", target.RawQuery)
	}
}
