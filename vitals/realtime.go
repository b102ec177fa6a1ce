package vitals

import (
	"sync"

	"github.com/Thejuampi/vitals-client-go/vitals/logging"
)

// ConnectOptions selects what Realtime.Connect subscribes to.
type ConnectOptions struct {
	PracticeID ID
	PatientID  ID
	// Method defaults to TransportSocket.
	Method TransportKind
}

// ConnectionInfo describes the last connection Realtime was asked for.
type ConnectionInfo struct {
	PracticeID ID            `json:"practiceId,omitempty"`
	PatientID  ID            `json:"patientId,omitempty"`
	Transport  TransportKind `json:"transport,omitempty"`
}

// forwardedKinds are re-emitted from the active transport to Realtime listeners.
var forwardedKinds = []EventKind{
	EventConnected,
	EventDisconnected,
	EventVitalReadingUpdate,
	EventPatientVitalUpdate,
	EventError,
}

// Realtime is the single entry point for vitals updates. It owns one transport and
// keeps at most one connection open through it.
type Realtime struct {
	logger   *logging.Logger
	strict   bool
	registry *ListenerRegistry

	// connectLock serializes Connect and Disconnect so a teardown and its rewiring
	// are never interleaved with another caller's.
	connectLock sync.Mutex

	lock      sync.Mutex
	transport Transport
	current   ConnectionInfo
}

// NewRealtime returns a facade over a socket adapter built from cfg, or over the
// transport passed with WithSocketTransport.
func NewRealtime(cfg Config, options ...Option) *Realtime {
	current := newSettings(options)
	transport := current.socket
	if transport == nil {
		transport = NewSocketAdapter(cfg, options...)
	}
	logger := current.logger.With("component", "realtime")
	return &Realtime{
		logger:    logger,
		strict:    current.strictTransport,
		registry:  NewListenerRegistry(logger),
		transport: transport,
	}
}

// Connect tears down the current connection and opens a new one for the given practice
// and optional patient. Methods other than the socket transport are coerced to it unless
// the facade was built WithStrictTransport. Connect and Disconnect run one at a time,
// so listeners must not call either from the disconnected event Connect delivers.
func (realtime *Realtime) Connect(options ConnectOptions) error {
	method := options.Method
	if method == "" {
		method = TransportSocket
	}
	if method != TransportSocket {
		if realtime.strict {
			return NewError(UnsupportedTransportError, string(method))
		}
		realtime.logger.Warn("transport not supported, using socket", "requested", string(method))
		method = TransportSocket
	}
	target := Target{PracticeID: options.PracticeID, PatientID: options.PatientID}
	if err := target.Validate(); err != nil {
		return err
	}
	target = target.normalized()

	realtime.connectLock.Lock()
	defer realtime.connectLock.Unlock()

	realtime.lock.Lock()
	transport := realtime.transport
	realtime.lock.Unlock()

	transport.Disconnect()
	for _, kind := range forwardedKinds {
		transport.On(kind, realtime.forward)
	}

	realtime.lock.Lock()
	realtime.current = ConnectionInfo{PracticeID: target.PracticeID, PatientID: target.PatientID, Transport: method}
	realtime.lock.Unlock()

	return transport.Connect(target)
}

func (realtime *Realtime) forward(event Event) {
	realtime.registry.Emit(event)
}

// Disconnect closes the connection, forgets the current target and removes every
// listener. It is safe to call more than once.
func (realtime *Realtime) Disconnect() {
	realtime.connectLock.Lock()
	defer realtime.connectLock.Unlock()

	realtime.lock.Lock()
	transport := realtime.transport
	realtime.current = ConnectionInfo{}
	realtime.lock.Unlock()

	transport.Disconnect()
	realtime.registry.Clear()
}

// On registers listener for kind.
func (realtime *Realtime) On(kind EventKind, listener Listener) Subscription {
	return realtime.registry.On(kind, listener)
}

// Off removes a listener registered with On.
func (realtime *Realtime) Off(subscription Subscription) bool {
	return realtime.registry.Off(subscription)
}

// IsConnected reports whether the active transport has a live connection.
func (realtime *Realtime) IsConnected() bool {
	realtime.lock.Lock()
	transport := realtime.transport
	realtime.lock.Unlock()
	return transport.Connected()
}

// CurrentConnection returns the practice, patient and transport of the last Connect,
// or the zero value after Disconnect.
func (realtime *Realtime) CurrentConnection() ConnectionInfo {
	realtime.lock.Lock()
	defer realtime.lock.Unlock()
	return realtime.current
}
