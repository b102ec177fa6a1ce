package vitals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/tmaxmax/go-sse"
)

// Frame types carried in the type field of stream payloads.
const (
	streamConnected          = "connected"
	streamVitalReadingUpdate = "vital-reading-update"
	streamPatientVitalUpdate = "patient-vital-update"
	streamHeartbeat          = "heartbeat"
	streamError              = "error"
)

// maxStreamEvent bounds a single event of the stream.
const maxStreamEvent = 1 << 20

// StreamAdapter follows the server-sent event stream of a target. It has the same shape
// as SocketAdapter; reconnects follow the stream backoff policy and resume from the
// last event id the server sent.
type StreamAdapter struct {
	*adapterCore
	cfg    Config
	client *http.Client
}

// NewStreamAdapter returns an idle adapter.
func NewStreamAdapter(cfg Config, options ...Option) *StreamAdapter {
	current := newSettings(options)
	client := current.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	return &StreamAdapter{
		adapterCore: newAdapterCore(TransportStream, current),
		cfg:         cfg,
		client:      client,
	}
}

// Connect validates target, replaces any running stream and starts reading in the
// background. Only an invalid target is reported here.
func (adapter *StreamAdapter) Connect(target Target) error {
	streamURL, err := adapter.cfg.StreamURL(target)
	if err != nil {
		return err
	}
	ctx, generation, connectionID := adapter.begin(target)
	adapter.logger.Info("connecting",
		"practice_id", string(target.normalized().PracticeID),
		"patient_id", string(target.normalized().PatientID),
		"connection_id", connectionID,
	)
	go adapter.run(ctx, generation, target.normalized(), connectionID, streamURL)
	return nil
}

// Disconnect closes the stream, delivers a local EventDisconnected when it was open,
// and removes every listener. It is safe to call at any time and more than once.
func (adapter *StreamAdapter) Disconnect() {
	adapter.disconnect()
}

func (adapter *StreamAdapter) run(ctx context.Context, generation uint64, target Target, connectionID string, streamURL string) {
	backoff := NewBackoff(adapter.cfg.Stream.Backoff)
	lastEventID := ""
	for {
		err := adapter.follow(ctx, generation, target, connectionID, streamURL, backoff, &lastEventID)
		if ctx.Err() != nil || !adapter.current(generation) {
			return
		}
		attempt, wait, exhausted := backoff.Failure()
		adapter.fail(generation, err, attempt, exhausted)
		if exhausted || !sleepContext(ctx, wait) {
			return
		}
		adapter.setState(generation, StateConnecting)
	}
}

// follow opens the stream once and reads it until it ends. It always returns the error
// that ended the stream.
func (adapter *StreamAdapter) follow(ctx context.Context, generation uint64, target Target, connectionID string, streamURL string, backoff *Backoff, lastEventID *string) error {
	body, err := adapter.open(ctx, target, connectionID, streamURL, backoff.Attempts()+1, *lastEventID)
	if err != nil {
		return err
	}
	defer body.Close()

	if !adapter.attach(generation, body, "") || !adapter.markConnected(generation) {
		return NewError(DisconnectedError, "stream superseded")
	}
	backoff.Reset()
	adapter.logger.Info("stream open")

	for frame, err := range sse.Read(body, &sse.ReadConfig{MaxEventSize: maxStreamEvent}) {
		if err != nil {
			adapter.detach(generation)
			return NewError(ConnectionError, err)
		}
		if frame.LastEventID != "" {
			*lastEventID = frame.LastEventID
		}
		if frame.Data == "" {
			continue
		}
		adapter.dispatch(generation, frame)
	}
	adapter.detach(generation)
	return NewError(DisconnectedError, "stream closed by server")
}

func (adapter *StreamAdapter) open(ctx context.Context, target Target, connectionID string, streamURL string, attempt int, lastEventID string) (io.ReadCloser, error) {
	spanCtx, span := startConnectSpan(ctx, adapter.tracer, StreamConnectSpan, TransportStream, target, connectionID, attempt)

	request, err := http.NewRequestWithContext(spanCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		err = NewError(ConnectionError, err)
		endConnectSpan(span, err, "")
		return nil, err
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-cache")
	for key, value := range adapter.cfg.Stream.Headers {
		request.Header.Set(key, value)
	}
	if lastEventID != "" {
		request.Header.Set("Last-Event-ID", lastEventID)
	}
	request.Close = true

	response, err := adapter.client.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			err = NewError(DisconnectedError, ctx.Err())
		} else {
			err = NewError(ConnectionError, err)
		}
		endConnectSpan(span, err, "")
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()
		err = NewError(ConnectionRefusedError, fmt.Sprintf("unexpected status %d", response.StatusCode))
		endConnectSpan(span, err, "")
		return nil, err
	}
	if mediaType, _, parseErr := mime.ParseMediaType(response.Header.Get("Content-Type")); parseErr != nil || mediaType != "text/event-stream" {
		_ = response.Body.Close()
		err = NewError(ProtocolError, fmt.Sprintf("unexpected content type %q", response.Header.Get("Content-Type")))
		endConnectSpan(span, err, "")
		return nil, err
	}
	endConnectSpan(span, nil, "stream open")
	return response.Body, nil
}

func (adapter *StreamAdapter) dispatch(generation uint64, frame sse.Event) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(frame.Data), &envelope); err != nil {
		adapter.logger.Warn("skipping malformed stream payload", "event", frame.Type, "error", err)
		return
	}
	data := json.RawMessage(frame.Data)
	switch envelope.Type {
	case streamConnected:
		adapter.logger.Debug("stream acknowledged")
		adapter.emitFrom(generation, Event{Kind: EventConnected, Data: data})
	case streamVitalReadingUpdate, streamPatientVitalUpdate:
		adapter.emitFrom(generation, Event{Kind: EventVitalReadingUpdate, Data: data})
	case streamHeartbeat:
	case streamError:
		message := serverErrorMessage(data)
		adapter.logger.Warn("server error", "message", message)
		adapter.emitFrom(generation, Event{Kind: EventError, Data: data, Err: NewError(ServerError, message)})
	default:
		adapter.emitFrom(generation, Event{Kind: EventMessage, Data: data})
	}
}
