package socketio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const pollingMaxBody = 4 << 20

// PollingTransport carries Engine.IO packets over HTTP long-polling.
type PollingTransport struct {
	endpoint Endpoint
	client   *http.Client
	private  bool

	lock   sync.Mutex
	sid    string
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewPollingTransport returns a long-polling transport for endpoint. It uses
// endpoint.HTTPClient when set and a private client otherwise.
func NewPollingTransport(endpoint Endpoint) *PollingTransport {
	if endpoint.HTTPClient != nil {
		return &PollingTransport{endpoint: endpoint, client: endpoint.HTTPClient}
	}
	client := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	return &PollingTransport{endpoint: endpoint, client: client, private: true}
}

// Name implements Transport.
func (transport *PollingTransport) Name() string { return TransportPolling }

// Open implements Transport.
func (transport *PollingTransport) Open(ctx context.Context) (OpenInfo, error) {
	body, err := transport.get(ctx, "")
	if err != nil {
		return OpenInfo{}, err
	}
	packets, err := DecodePayload(body)
	if err != nil {
		return OpenInfo{}, err
	}
	if len(packets) == 0 || packets[0].Type != EngineOpen {
		return OpenInfo{}, fmt.Errorf("socketio: expected open packet")
	}
	var info OpenInfo
	if err := json.Unmarshal(packets[0].Data, &info); err != nil {
		return OpenInfo{}, fmt.Errorf("socketio: malformed open packet: %w", err)
	}
	if info.SID == "" {
		return OpenInfo{}, fmt.Errorf("socketio: open packet without sid")
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	transport.lock.Lock()
	transport.sid = info.SID
	transport.ctx = sessionCtx
	transport.cancel = cancel
	transport.lock.Unlock()
	return info, nil
}

func (transport *PollingTransport) session() (string, context.Context, error) {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	if transport.closed || transport.ctx == nil {
		return "", nil, ErrTransportClosed
	}
	return transport.sid, transport.ctx, nil
}

func (transport *PollingTransport) get(ctx context.Context, sid string) ([]byte, error) {
	target, err := transport.endpoint.url(TransportPolling, sid)
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	for key, values := range transport.endpoint.Header {
		request.Header[key] = append([]string(nil), values...)
	}
	response, err := transport.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling request failed with status %d", response.StatusCode)
	}
	return io.ReadAll(io.LimitReader(response.Body, pollingMaxBody))
}

// Send implements Transport.
func (transport *PollingTransport) Send(packets ...EnginePacket) error {
	sid, ctx, err := transport.session()
	if err != nil {
		return err
	}
	target, err := transport.endpoint.url(TransportPolling, sid)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(EncodePayload(packets)))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	for key, values := range transport.endpoint.Header {
		request.Header[key] = append([]string(nil), values...)
	}
	response, err := transport.client.Do(request)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("polling send failed with status %d", response.StatusCode)
	}
	return nil
}

// Receive implements Transport.
func (transport *PollingTransport) Receive(deadline time.Time) ([]EnginePacket, error) {
	sid, ctx, err := transport.session()
	if err != nil {
		return nil, err
	}
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	body, err := transport.get(ctx, sid)
	if err != nil {
		return nil, err
	}
	return DecodePayload(body)
}

// Close implements Transport.
func (transport *PollingTransport) Close() error {
	transport.lock.Lock()
	if transport.closed {
		transport.lock.Unlock()
		return nil
	}
	sid := transport.sid
	cancel := transport.cancel
	transport.lock.Unlock()

	if sid != "" {
		closeCtx, stop := context.WithTimeout(context.Background(), time.Second)
		if target, err := transport.endpoint.url(TransportPolling, sid); err == nil {
			request, err := http.NewRequestWithContext(closeCtx, http.MethodPost, target.String(),
				bytes.NewReader(EncodeEngine(EnginePacket{Type: EngineClose})))
			if err == nil {
				if response, err := transport.client.Do(request); err == nil {
					_, _ = io.Copy(io.Discard, response.Body)
					_ = response.Body.Close()
				}
			}
		}
		stop()
	}

	transport.lock.Lock()
	transport.closed = true
	transport.lock.Unlock()
	if cancel != nil {
		cancel()
	}
	// A caller's client may be shared with other sessions.
	if transport.private {
		transport.client.CloseIdleConnections()
	}
	return nil
}
