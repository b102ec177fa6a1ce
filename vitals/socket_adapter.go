package vitals

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Thejuampi/vitals-client-go/internal/socketio"
)

// Server event names the socket adapter understands.
const (
	joinedRoomEvent         = "joined-room"
	vitalReadingUpdateEvent = "vital-reading-update"
	patientVitalUpdateEvent = "patient-vital-update"
	serverErrorEvent        = "error"
)

const defaultConnectTimeout = 20 * time.Second

// SocketAdapter keeps a Socket.IO connection to the vitals server and re-emits what it
// receives as typed events. Connect returns immediately; the connection, room join and
// reconnects run on a goroutine owned by the adapter.
type SocketAdapter struct {
	*adapterCore
	cfg      Config
	settings settings
}

// NewSocketAdapter returns an idle adapter.
func NewSocketAdapter(cfg Config, options ...Option) *SocketAdapter {
	current := newSettings(options)
	return &SocketAdapter{
		adapterCore: newAdapterCore(TransportSocket, current),
		cfg:         cfg,
		settings:    current,
	}
}

// Connect validates target, replaces any running connection and starts connecting in
// the background. Only an invalid target is reported here; everything else arrives as
// EventError.
func (adapter *SocketAdapter) Connect(target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	ctx, generation, connectionID := adapter.begin(target)
	adapter.logger.Info("connecting",
		"practice_id", string(target.normalized().PracticeID),
		"patient_id", string(target.normalized().PatientID),
		"connection_id", connectionID,
	)
	go adapter.run(ctx, generation, target.normalized(), connectionID)
	return nil
}

// Disconnect closes the connection, delivers a local EventDisconnected when a connection
// was up, and removes every listener. It is safe to call at any time and more than once.
func (adapter *SocketAdapter) Disconnect() {
	adapter.disconnect()
}

// SocketID returns the id the server assigned to the live connection.
func (adapter *SocketAdapter) SocketID() string {
	adapter.lock.Lock()
	defer adapter.lock.Unlock()
	return adapter.socketID
}

func (adapter *SocketAdapter) run(ctx context.Context, generation uint64, target Target, connectionID string) {
	backoff := NewBackoff(adapter.cfg.Socket.Backoff)
	chooser := socketio.NewTransportChooser(adapter.cfg.Socket.Transports...)
	for {
		conn, err := adapter.dial(ctx, chooser, target, connectionID, backoff.Attempts()+1)
		if err != nil {
			if !adapter.retry(ctx, generation, backoff, err) {
				return
			}
			continue
		}

		if !adapter.attach(generation, conn, conn.ID()) {
			_ = conn.Close()
			return
		}
		reason, established, cause := adapter.serve(generation, conn, target)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if !established {
			// The room was never joined, so this counts as a failed attempt.
			if cause == nil {
				cause = fmt.Errorf("session ended before joining: %s", reason)
			}
			if !adapter.retry(ctx, generation, backoff, NewError(ConnectionError, cause)) {
				return
			}
			continue
		}

		backoff.Reset()
		if !adapter.detach(generation) {
			return
		}
		adapter.logger.Info("disconnected", "reason", reason, "error", cause)
		event := Event{Kind: EventDisconnected, SocketID: conn.ID(), Reason: reason}
		if cause != nil {
			event.Err = NewError(DisconnectedError, cause)
		}
		adapter.emitFrom(generation, event)

		if reason == ReasonServerDisconnect || !adapter.cfg.Socket.Reconnection {
			return
		}
		if !sleepContext(ctx, backoff.Policy().Delay(1)) {
			return
		}
		adapter.setState(generation, StateConnecting)
	}
}

// retry reports a failed attempt and waits out its backoff. It returns false once the
// run should stop.
func (adapter *SocketAdapter) retry(ctx context.Context, generation uint64, backoff *Backoff, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	attempt, wait, exhausted := backoff.Failure()
	if !adapter.cfg.Socket.Reconnection {
		exhausted = true
	}
	adapter.fail(generation, err, attempt, exhausted)
	if exhausted || !sleepContext(ctx, wait) {
		return false
	}
	return adapter.setState(generation, StateConnecting)
}

func (adapter *SocketAdapter) dial(ctx context.Context, chooser *socketio.TransportChooser, target Target, connectionID string, attempt int) (*socketio.Conn, error) {
	base, err := adapter.cfg.SocketBaseURL()
	if err != nil {
		return nil, NewError(ConnectionError, err)
	}
	timeout := adapter.cfg.Socket.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dialCtx, span := startConnectSpan(dialCtx, adapter.tracer, SocketConnectSpan, TransportSocket, target, connectionID, attempt)

	var header http.Header
	if len(adapter.cfg.Socket.Headers) > 0 {
		header = make(http.Header, len(adapter.cfg.Socket.Headers))
		for key, value := range adapter.cfg.Socket.Headers {
			header.Set(key, value)
		}
	}
	conn, err := socketio.Dial(dialCtx, socketio.Options{
		Endpoint: socketio.Endpoint{
			BaseURL:    base,
			Path:       adapter.cfg.Socket.Path,
			Header:     header,
			HTTPClient: adapter.settings.httpClient,
		},
		Chooser: chooser,
		Dialer:  adapter.settings.dialer,
	})
	if err != nil {
		err = classifyDialError(err)
		endConnectSpan(span, err, "")
		return nil, err
	}
	endConnectSpan(span, nil, conn.TransportName())
	adapter.logger.Debug("socket open", "transport", conn.TransportName(), "socket_id", conn.ID())
	return conn, nil
}

func classifyDialError(err error) error {
	var refused *socketio.ConnectError
	switch {
	case errors.As(err, &refused):
		return NewError(ConnectionRefusedError, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(TimedOutError, err)
	default:
		return NewError(ConnectionError, err)
	}
}

// serve joins the target's room, announces the connection and pumps events until the
// session ends. established is false when the session ended before it was announced.
func (adapter *SocketAdapter) serve(generation uint64, conn *socketio.Conn, target Target) (reason string, established bool, cause error) {
	name, request := target.joinRequest()
	if err := conn.Emit(name, request); err != nil {
		return ReasonTransportError, false, err
	}
	if !adapter.markConnected(generation) {
		return ReasonClientDisconnect, false, nil
	}
	adapter.logger.Info("connected", "socket_id", conn.ID(), "transport", conn.TransportName())
	adapter.emitFrom(generation, Event{Kind: EventConnected, SocketID: conn.ID()})

	for {
		event, err := conn.Next()
		if err != nil {
			var disconnect *socketio.DisconnectError
			if errors.As(err, &disconnect) {
				return disconnect.Reason, true, disconnect.Err
			}
			if errors.Is(err, socketio.ErrMalformedPacket) {
				adapter.logger.Warn("skipping malformed packet", "error", err)
				continue
			}
			return ReasonTransportError, true, err
		}
		adapter.dispatch(generation, event)
	}
}

func (adapter *SocketAdapter) dispatch(generation uint64, event socketio.Event) {
	payload := event.Payload()
	switch event.Name {
	case joinedRoomEvent:
		adapter.logger.Info("joined room")
		adapter.emitFrom(generation, Event{Kind: EventJoinedRoom, Data: payload})
	case vitalReadingUpdateEvent:
		adapter.emitFrom(generation, Event{Kind: EventVitalReadingUpdate, Data: payload})
	case patientVitalUpdateEvent:
		adapter.emitFrom(generation, Event{Kind: EventPatientVitalUpdate, Data: payload})
	case serverErrorEvent:
		message := serverErrorMessage(payload)
		adapter.logger.Warn("server error", "message", message)
		adapter.emitFrom(generation, Event{Kind: EventError, Data: payload, Err: NewError(ServerError, message)})
	default:
		adapter.logger.Debug("ignoring socket event", "event", event.Name)
	}
}
