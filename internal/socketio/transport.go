package socketio

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Transport names as negotiated with Engine.IO servers.
const (
	TransportWebsocket = "websocket"
	TransportPolling   = "polling"
)

// ErrTransportClosed is returned by operations on a closed transport.
var ErrTransportClosed = errors.New("socketio: transport closed")

// Transport moves Engine.IO packets over one network mechanism.
type Transport interface {
	Name() string
	// Open performs the Engine.IO handshake and returns the server's open packet.
	Open(ctx context.Context) (OpenInfo, error)
	Send(packets ...EnginePacket) error
	// Receive blocks until at least one packet arrives or the deadline passes.
	Receive(deadline time.Time) ([]EnginePacket, error)
	Close() error
}

// Endpoint describes where and how to reach an Engine.IO server.
type Endpoint struct {
	BaseURL    string
	Path       string
	Header     http.Header
	HTTPClient *http.Client
}

func (endpoint Endpoint) url(transport string, sid string) (*url.URL, error) {
	parsed, err := url.Parse(endpoint.BaseURL)
	if err != nil {
		return nil, err
	}
	path := endpoint.Path
	if path == "" {
		path = "/socket.io/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + path

	query := parsed.Query()
	query.Set("EIO", "4")
	query.Set("transport", transport)
	if sid != "" {
		query.Set("sid", sid)
	}
	parsed.RawQuery = query.Encode()
	return parsed, nil
}

// TransportChooser orders transports for connection attempts. A failure moves the
// chooser to the next transport; a success keeps the current one first.
type TransportChooser struct {
	lock      sync.Mutex
	names     []string
	index     int
	lastError string
}

// NewTransportChooser returns a chooser over names, skipping unknown and duplicate
// entries. An empty list selects websocket then polling.
func NewTransportChooser(names ...string) *TransportChooser {
	chooser := &TransportChooser{}
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != TransportWebsocket && name != TransportPolling {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		chooser.names = append(chooser.names, name)
	}
	if len(chooser.names) == 0 {
		chooser.names = []string{TransportWebsocket, TransportPolling}
	}
	return chooser
}

// Order returns every transport name starting from the current one.
func (chooser *TransportChooser) Order() []string {
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	ordered := make([]string, 0, len(chooser.names))
	for offset := range chooser.names {
		ordered = append(ordered, chooser.names[(chooser.index+offset)%len(chooser.names)])
	}
	return ordered
}

// Current returns the transport that will be tried first.
func (chooser *TransportChooser) Current() string {
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	return chooser.names[chooser.index]
}

// ReportFailure records a failed transport and advances when it was the current one.
func (chooser *TransportChooser) ReportFailure(name string, err error) {
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	if err != nil {
		chooser.lastError = err.Error()
	}
	if chooser.names[chooser.index] == name {
		chooser.index = (chooser.index + 1) % len(chooser.names)
	}
}

// ReportSuccess pins name as the first transport for later attempts.
func (chooser *TransportChooser) ReportSuccess(name string) {
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	for index, candidate := range chooser.names {
		if candidate == name {
			chooser.index = index
			break
		}
	}
	chooser.lastError = ""
}

// LastError returns the text of the most recent reported failure.
func (chooser *TransportChooser) LastError() string {
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	return chooser.lastError
}
