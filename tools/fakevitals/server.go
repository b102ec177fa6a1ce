package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Thejuampi/vitals-client-go/internal/socketio"
	"github.com/Thejuampi/vitals-client-go/vitals/logging"
)

// Options tunes the fake backend.
type Options struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	// Heartbeat is the interval between heartbeat frames on event streams.
	Heartbeat time.Duration
	History   int
	// SocketPath is where Socket.IO is served.
	SocketPath string
	// AllowOrigins lists browser origins allowed by CORS. Requests without an Origin
	// header are always served.
	AllowOrigins []string
	// TracerProvider records one span per request; nil uses the global provider.
	TracerProvider trace.TracerProvider
}

var defaultAllowOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

func (options Options) withDefaults() Options {
	if options.PingInterval <= 0 {
		options.PingInterval = 25 * time.Second
	}
	if options.PingTimeout <= 0 {
		options.PingTimeout = 20 * time.Second
	}
	if options.Heartbeat <= 0 {
		options.Heartbeat = 15 * time.Second
	}
	if options.History == 0 {
		options.History = 256
	}
	if options.SocketPath == "" {
		options.SocketPath = "/socket.io/"
	}
	if len(options.AllowOrigins) == 0 {
		options.AllowOrigins = defaultAllowOrigins
	}
	return options
}

// Server is a fake vitals backend: Socket.IO rooms, event streams and an admin API to
// publish readings.
type Server struct {
	options  Options
	logger   *logging.Logger
	hub      *Hub
	broker   Broker
	upgrader websocket.Upgrader
	engine   *gin.Engine
}

// NewServer wires routes over broker. A nil broker selects an in-memory one.
func NewServer(options Options, broker Broker, logger *logging.Logger) *Server {
	options = options.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	if broker == nil {
		broker = NewMemoryBroker(0)
	}
	server := &Server{
		options:  options,
		logger:   logger,
		hub:      NewHub(logger, options.History),
		broker:   broker,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	var tracing []otelgin.Option
	if options.TracerProvider != nil {
		tracing = append(tracing, otelgin.WithTracerProvider(options.TracerProvider))
	}
	engine.Use(
		gin.Recovery(),
		otelgin.Middleware("fakevitals", tracing...),
		cors.New(cors.Config{
			AllowOrigins:     options.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Cache-Control", "Last-Event-ID", "X-Requested-With"},
			AllowCredentials: true,
		}),
		server.requestLogger(),
	)

	engine.GET(options.SocketPath, server.handleSocket)
	engine.POST(options.SocketPath, server.handleSocket)

	api := engine.Group("/api")
	{
		api.GET("/vitals/sse/practice/:practiceId", server.handleStream)
		api.GET("/vitals/sse/:practiceId/:patientId", server.handleStream)
	}

	admin := engine.Group("/admin")
	{
		admin.GET("/status", server.handleStatus)
		admin.POST("/vitals", server.handlePublish)
	}
	server.engine = engine
	return server
}

// Handler returns the HTTP handler serving every route.
func (server *Server) Handler() http.Handler { return server.engine }

// Forward moves broker messages into the hub until ctx ends.
func (server *Server) Forward(ctx context.Context) error {
	return server.broker.Forward(ctx, func(message Message) { server.hub.Deliver(message) })
}

// Run serves on listener and forwards broker messages until ctx ends.
func (server *Server) Run(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{Handler: server.engine, ReadHeaderTimeout: 10 * time.Second}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return server.Forward(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Join(httpServer.Shutdown(shutdownCtx), server.broker.Close())
	})
	return group.Wait()
}

func (server *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		server.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(started).String(),
		)
	}
}

// patientRoom and practiceRoom name the rooms readings are published to.
func patientRoom(practiceID string, patientID string) string {
	return "patient:" + practiceID + ":" + patientID
}

func practiceRoom(practiceID string) string {
	return "practice:" + practiceID
}

// idString accepts an id sent as a JSON number or string.
func idString(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err == nil {
		return strings.TrimSpace(value)
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}

type roomRequest struct {
	PracticeID json.RawMessage `json:"practiceId"`
	PatientID  json.RawMessage `json:"patientId"`
}

func (server *Server) handleSocket(c *gin.Context) {
	if c.Query("EIO") != "4" || c.Query("transport") != socketio.TransportWebsocket {
		c.JSON(http.StatusBadRequest, gin.H{"code": 0, "message": "Transport unknown"})
		return
	}
	ws, err := server.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		server.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn, _, err := socketio.Accept(ws, uuid.NewString(), uuid.NewString(), socketio.ServerOptions{
		PingInterval: server.options.PingInterval,
		PingTimeout:  server.options.PingTimeout,
	})
	if err != nil {
		_ = ws.Close()
		server.logger.Warn("socket handshake failed", "error", err)
		return
	}
	server.logger.Info("socket connected", "socket_id", conn.SocketID())

	sub := server.hub.subscribe(conn.SocketID(), 0)
	done := make(chan struct{})
	var pump sync.WaitGroup
	pump.Add(1)
	go func() {
		defer pump.Done()
		for {
			select {
			case <-done:
				return
			case current := <-sub.outbound:
				if err := conn.Emit(current.message.Event, current.message.Payload); err != nil {
					return
				}
			}
		}
	}()

	err = conn.Serve(func(event socketio.Event) { server.handleSocketEvent(conn, sub, event) })
	close(done)
	_ = conn.Close()
	pump.Wait()
	server.hub.remove(sub)
	server.logger.Info("socket disconnected", "socket_id", conn.SocketID(), "reason", err)
}

func (server *Server) handleSocketEvent(conn *socketio.ServerConn, sub *subscriber, event socketio.Event) {
	switch event.Name {
	case "join-patient-room", "join-practice-room":
		var request roomRequest
		if err := json.Unmarshal(event.Payload(), &request); err != nil {
			_ = conn.Emit("error", gin.H{"message": "invalid room request"})
			return
		}
		practiceID := idString(request.PracticeID)
		if practiceID == "" {
			_ = conn.Emit("error", gin.H{"message": "practiceId is required"})
			return
		}
		room := practiceRoom(practiceID)
		if event.Name == "join-patient-room" {
			patientID := idString(request.PatientID)
			if patientID == "" {
				_ = conn.Emit("error", gin.H{"message": "patientId is required"})
				return
			}
			room = patientRoom(practiceID, patientID)
		}
		server.hub.join(sub, room, 0)
		server.logger.Info("joined room", "socket_id", conn.SocketID(), "room", room)
		_ = conn.Emit("joined-room", gin.H{"room": room})
	default:
		server.logger.Debug("ignoring client event", "event", event.Name)
	}
}

func (server *Server) handleStream(c *gin.Context) {
	practiceID := strings.TrimSpace(c.Param("practiceId"))
	patientID := strings.TrimSpace(c.Param("patientId"))
	if practiceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "practiceId is required"})
		return
	}
	room := practiceRoom(practiceID)
	if patientID != "" {
		room = patientRoom(practiceID, patientID)
	}
	lastID, _ := strconv.ParseUint(strings.TrimSpace(c.GetHeader("Last-Event-ID")), 10, 64)

	clientID := uuid.NewString()
	sub := server.hub.subscribe(clientID, 0)
	defer server.hub.remove(sub)
	backlog := server.hub.join(sub, room, lastID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	write := func(event sse.Event) bool {
		if err := sse.Encode(c.Writer, event); err != nil {
			return false
		}
		c.Writer.Flush()
		return true
	}

	connected, _ := json.Marshal(gin.H{"type": "connected", "clientId": clientID, "room": room})
	if !write(sse.Event{Data: string(connected)}) {
		return
	}
	server.logger.Info("stream opened", "client_id", clientID, "room", room, "resume_after", lastID)
	for _, past := range backlog {
		if !write(streamFrame(past)) {
			return
		}
	}

	heartbeat := time.NewTicker(server.options.Heartbeat)
	defer heartbeat.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			server.logger.Info("stream closed", "client_id", clientID)
			return
		case <-heartbeat.C:
			if !write(sse.Event{Data: `{"type":"heartbeat"}`}) {
				return
			}
		case current := <-sub.outbound:
			if !write(streamFrame(current)) {
				return
			}
		}
	}
}

// streamFrame adds the event name as the type field of the payload.
func streamFrame(current delivery) sse.Event {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(current.message.Payload, &fields); err != nil || fields == nil {
		fields = map[string]json.RawMessage{}
		if len(current.message.Payload) > 0 {
			fields["data"] = current.message.Payload
		}
	}
	name, _ := json.Marshal(current.message.Event)
	fields["type"] = name
	data, _ := json.Marshal(fields)
	return sse.Event{Id: strconv.FormatUint(current.id, 10), Data: string(data)}
}

type publishRequest struct {
	PracticeID json.RawMessage `json:"practiceId"`
	PatientID  json.RawMessage `json:"patientId"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

func (server *Server) handlePublish(c *gin.Context) {
	var request publishRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("invalid body: %v", err)})
		return
	}
	practiceID := idString(request.PracticeID)
	if practiceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "practiceId is required"})
		return
	}
	if request.Event == "" {
		request.Event = "vital-reading-update"
	}
	if len(request.Payload) == 0 {
		request.Payload = json.RawMessage(`{}`)
	}

	rooms := []string{practiceRoom(practiceID)}
	if patientID := idString(request.PatientID); patientID != "" {
		rooms = append([]string{patientRoom(practiceID, patientID)}, rooms...)
	}
	message := Message{Rooms: rooms, Event: request.Event, Payload: request.Payload}
	if err := server.broker.Publish(c.Request.Context(), message); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"rooms": rooms, "event": request.Event})
}

func (server *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, server.hub.Stats())
}
