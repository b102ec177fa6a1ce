package vitals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thejuampi/vitals-client-go/vitals/logging"
)

// Disconnect reasons carried by EventDisconnected.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

// Transport is what Realtime drives. SocketAdapter and StreamAdapter implement it.
type Transport interface {
	Connect(target Target) error
	Disconnect()
	On(kind EventKind, listener Listener) Subscription
	Off(subscription Subscription) bool
	Connected() bool
}

// adapterCore holds the connection bookkeeping shared by both adapters. Every session
// goroutine carries the generation it was started with; once Connect or Disconnect
// bumps the generation, anything the old goroutine reports is dropped.
type adapterCore struct {
	transport TransportKind
	logger    *logging.Logger
	tracer    trace.Tracer
	registry  *ListenerRegistry

	lock         sync.Mutex
	generation   uint64
	cancel       context.CancelFunc
	closer       io.Closer
	state        ConnectionState
	target       Target
	connectionID string
	socketID     string
	attempts     int
}

func newAdapterCore(transport TransportKind, current settings) *adapterCore {
	logger := current.logger.With("transport", string(transport))
	return &adapterCore{
		transport: transport,
		logger:    logger,
		tracer:    newTracer(current.tracerProvider),
		registry:  NewListenerRegistry(logger),
	}
}

// begin tears down the running session, if any, and starts bookkeeping for a new one.
func (core *adapterCore) begin(target Target) (context.Context, uint64, string) {
	ctx, cancel := context.WithCancel(context.Background())
	connectionID := uuid.NewString()

	core.lock.Lock()
	closer := core.stopLocked()
	core.cancel = cancel
	core.state = StateConnecting
	core.target = target.normalized()
	core.connectionID = connectionID
	core.attempts = 0
	generation := core.generation
	core.lock.Unlock()

	if closer != nil {
		_ = closer.Close()
	}
	return ctx, generation, connectionID
}

func (core *adapterCore) stopLocked() io.Closer {
	core.generation++
	if core.cancel != nil {
		core.cancel()
		core.cancel = nil
	}
	closer := core.closer
	core.closer = nil
	core.socketID = ""
	return closer
}

// disconnect ends the session. Listeners see a local disconnect when a connection was
// up, then the registry is cleared.
func (core *adapterCore) disconnect() {
	core.lock.Lock()
	wasConnected := core.state == StateConnected
	socketID := core.socketID
	closer := core.stopLocked()
	if core.state != StateIdle {
		core.state = StateDisconnected
	}
	core.lock.Unlock()

	if closer != nil {
		_ = closer.Close()
	}
	if wasConnected {
		core.logger.Info("disconnected", "reason", ReasonClientDisconnect)
		core.registry.Emit(Event{
			Kind:      EventDisconnected,
			Transport: core.transport,
			SocketID:  socketID,
			Reason:    ReasonClientDisconnect,
			Received:  time.Now(),
		})
	}
	core.registry.Clear()
}

func (core *adapterCore) current(generation uint64) bool {
	core.lock.Lock()
	defer core.lock.Unlock()
	return core.generation == generation
}

func (core *adapterCore) setState(generation uint64, state ConnectionState) bool {
	core.lock.Lock()
	defer core.lock.Unlock()
	if core.generation != generation {
		return false
	}
	core.state = state
	return true
}

// attach records an open connection so Disconnect can close it. It reports false when
// the session was superseded, in which case the caller owns closing closer.
func (core *adapterCore) attach(generation uint64, closer io.Closer, socketID string) bool {
	core.lock.Lock()
	defer core.lock.Unlock()
	if core.generation != generation {
		return false
	}
	core.closer = closer
	core.socketID = socketID
	return true
}

// markConnected moves an attached session to StateConnected and clears the failed
// attempt count.
func (core *adapterCore) markConnected(generation uint64) bool {
	core.lock.Lock()
	defer core.lock.Unlock()
	if core.generation != generation {
		return false
	}
	core.state = StateConnected
	core.attempts = 0
	return true
}

func (core *adapterCore) detach(generation uint64) bool {
	core.lock.Lock()
	defer core.lock.Unlock()
	if core.generation != generation {
		return false
	}
	core.closer = nil
	core.socketID = ""
	core.state = StateDisconnected
	return true
}

// fail reports one failed attempt. The last allowed attempt is reported as terminal.
func (core *adapterCore) fail(generation uint64, cause error, attempt int, exhausted bool) {
	core.lock.Lock()
	if core.generation != generation {
		core.lock.Unlock()
		return
	}
	core.attempts = attempt
	core.closer = nil
	core.socketID = ""
	if exhausted {
		core.state = StateDisconnected
	} else {
		core.state = StateError
	}
	core.lock.Unlock()

	err := cause
	if exhausted {
		err = &Error{Code: RetriesExhaustedError, Detail: fmt.Sprintf("gave up after %d attempts", attempt), Err: cause}
		core.logger.Error("connection failed, giving up", "attempt", attempt, "error", cause)
	} else {
		core.logger.Warn("connection failed", "attempt", attempt, "error", cause)
	}
	core.emitFrom(generation, Event{Kind: EventError, Err: err, Attempts: attempt, Terminal: exhausted})
}

func (core *adapterCore) emitFrom(generation uint64, event Event) {
	if !core.current(generation) {
		return
	}
	event.Transport = core.transport
	if event.Received.IsZero() {
		event.Received = time.Now()
	}
	core.registry.Emit(event)
}

// On registers listener for kind.
func (core *adapterCore) On(kind EventKind, listener Listener) Subscription {
	return core.registry.On(kind, listener)
}

// Off removes a listener registered with On.
func (core *adapterCore) Off(subscription Subscription) bool {
	return core.registry.Off(subscription)
}

// Connected reports whether a connection is currently established.
func (core *adapterCore) Connected() bool {
	return core.State() == StateConnected
}

// State returns the lifecycle state of the current connection.
func (core *adapterCore) State() ConnectionState {
	core.lock.Lock()
	defer core.lock.Unlock()
	return core.state
}

// Attempts returns the number of consecutive failed attempts of the current connection.
func (core *adapterCore) Attempts() int {
	core.lock.Lock()
	defer core.lock.Unlock()
	return core.attempts
}

// ConnectionID returns the id generated by the last Connect.
func (core *adapterCore) ConnectionID() string {
	core.lock.Lock()
	defer core.lock.Unlock()
	return core.connectionID
}

// Target returns the target of the last Connect.
func (core *adapterCore) Target() Target {
	core.lock.Lock()
	defer core.lock.Unlock()
	return core.target
}

func sleepContext(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// serverErrorMessage extracts a readable message from an error payload: a JSON
// string, an object with a message field, or the raw text.
func serverErrorMessage(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "server reported an error"
	}
	var text string
	if err := json.Unmarshal(payload, &text); err == nil {
		return text
	}
	var object struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &object); err == nil {
		if object.Message != "" {
			return object.Message
		}
		if object.Error != "" {
			return object.Error
		}
	}
	return strings.TrimSpace(string(payload))
}
