package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thejuampi/vitals-client-go/internal/socketio"
)

// SocketSession is one client session accepted by a SocketServer.
type SocketSession struct {
	*socketio.ServerConn
	Auth   json.RawMessage
	Events *Recorder[socketio.Event]
	done   chan struct{}
}

// Done is closed when the session's read loop has ended.
func (session *SocketSession) Done() <-chan struct{} { return session.done }

// SocketServer is an in-process Socket.IO server speaking the websocket transport.
type SocketServer struct {
	*httptest.Server
	options  socketio.ServerOptions
	upgrader websocket.Upgrader
	ids      Counter
	hits     Counter

	available atomic.Bool
	lock      sync.Mutex
	refuse    string
	sessions  chan *SocketSession
	paths     []string
}

// NewSocketServer starts a server closed automatically at test cleanup.
func NewSocketServer(t testing.TB, options socketio.ServerOptions) *SocketServer {
	t.Helper()
	server := &SocketServer{
		options:  options,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions: make(chan *SocketSession, 32),
	}
	server.available.Store(true)
	server.Server = httptest.NewServer(http.HandlerFunc(server.serve))
	t.Cleanup(server.Close)
	return server
}

func (server *SocketServer) serve(writer http.ResponseWriter, request *http.Request) {
	server.hits.Next()
	server.lock.Lock()
	server.paths = append(server.paths, request.URL.Path)
	options := server.options
	options.Refuse = server.refuse
	server.lock.Unlock()

	if !server.available.Load() || request.URL.Query().Get("transport") != socketio.TransportWebsocket {
		http.Error(writer, "unavailable", http.StatusServiceUnavailable)
		return
	}
	ws, err := server.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		return
	}
	id := server.ids.Next()
	conn, auth, err := socketio.Accept(ws, fmt.Sprintf("engine-%d", id), fmt.Sprintf("socket-%d", id), options)
	if err != nil {
		_ = ws.Close()
		return
	}
	session := &SocketSession{ServerConn: conn, Auth: auth, Events: &Recorder[socketio.Event]{}, done: make(chan struct{})}
	server.sessions <- session
	_ = conn.Serve(session.Events.Record)
	_ = conn.Close()
	close(session.done)
}

// SetAvailable makes every new request fail with 503 while false.
func (server *SocketServer) SetAvailable(available bool) { server.available.Store(available) }

// SetRefuse makes later sessions answer CONNECT with a CONNECT_ERROR carrying message.
func (server *SocketServer) SetRefuse(message string) {
	server.lock.Lock()
	server.refuse = message
	server.lock.Unlock()
}

// Hits returns how many HTTP requests reached the server.
func (server *SocketServer) Hits() int { return server.hits.Value() }

// Paths returns the request paths seen so far.
func (server *SocketServer) Paths() []string {
	server.lock.Lock()
	defer server.lock.Unlock()
	return append([]string(nil), server.paths...)
}

// NextSession waits for the next accepted session.
func (server *SocketServer) NextSession(t testing.TB, timeout time.Duration) *SocketSession {
	t.Helper()
	select {
	case session := <-server.sessions:
		return session
	case <-time.After(timeout):
		t.Fatalf("no socket session accepted within %v", timeout)
		return nil
	}
}

// NoSession asserts that no session is accepted within wait.
func (server *SocketServer) NoSession(t testing.TB, wait time.Duration) {
	t.Helper()
	select {
	case session := <-server.sessions:
		t.Fatalf("unexpected socket session %s", session.SocketID())
	case <-time.After(wait):
	}
}
