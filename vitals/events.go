package vitals

import (
	"encoding/json"
	"time"
)

// EventKind enumerates the events a transport or the facade can deliver.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventError
	EventJoinedRoom
	EventVitalReadingUpdate
	EventPatientVitalUpdate
	EventMessage
)

var eventNames = map[EventKind]string{
	EventConnected:          "connected",
	EventDisconnected:       "disconnected",
	EventError:              "error",
	EventJoinedRoom:         "joined-room",
	EventVitalReadingUpdate: "vital-reading-update",
	EventPatientVitalUpdate: "patient-vital-update",
	EventMessage:            "message",
}

// String returns the wire name of the event kind.
func (kind EventKind) String() string {
	if name, ok := eventNames[kind]; ok {
		return name
	}
	return "unknown"
}

// ParseEventKind maps a wire name back to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	for kind, candidate := range eventNames {
		if candidate == name {
			return kind, true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (kind EventKind) MarshalText() ([]byte, error) {
	return []byte(kind.String()), nil
}

// TransportKind names a transport adapter.
type TransportKind string

const (
	TransportSocket TransportKind = "socket"
	TransportStream TransportKind = "stream"
)

// ConnectionState is the lifecycle state of an adapter's connection.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

func (state ConnectionState) String() string {
	switch state {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners. Which fields are set depends on Kind:
//
//   - EventConnected: SocketID (socket transport) and, for the stream transport, Data
//   - EventDisconnected: Reason
//   - EventError: Err, Attempts, Terminal, and Data when the server sent a payload
//   - all other kinds: Data, exactly as received
type Event struct {
	Kind      EventKind       `json:"kind"`
	Transport TransportKind   `json:"transport"`
	Data      json.RawMessage `json:"data,omitempty"`
	SocketID  string          `json:"socketId,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Attempts  int             `json:"attempts,omitempty"`
	Terminal  bool            `json:"terminal,omitempty"`
	Err       error           `json:"-"`
	Received  time.Time       `json:"received"`
}

// ErrorText returns Err's message, or "" when the event carries no error.
func (event Event) ErrorText() string {
	if event.Err == nil {
		return ""
	}
	return event.Err.Error()
}

// MarshalJSON adds the error text to the JSON form, which Err alone cannot provide.
func (event Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(event), Error: event.ErrorText()})
}
