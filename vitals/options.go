package vitals

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thejuampi/vitals-client-go/vitals/logging"
)

// Option configures adapters and the facade.
type Option func(*settings)

type settings struct {
	logger          *logging.Logger
	tracerProvider  trace.TracerProvider
	httpClient      *http.Client
	dialer          *websocket.Dialer
	strictTransport bool
	socket          Transport
}

func newSettings(options []Option) settings {
	current := settings{}
	for _, option := range options {
		if option != nil {
			option(&current)
		}
	}
	if current.logger == nil {
		current.logger = logging.Nop()
	}
	return current
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *logging.Logger) Option {
	return func(current *settings) { current.logger = logger }
}

// WithTracerProvider sets where connection spans go. The default is the global provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(current *settings) { current.tracerProvider = provider }
}

// WithHTTPClient sets the client used for event streams and long-polling.
func WithHTTPClient(client *http.Client) Option {
	return func(current *settings) { current.httpClient = client }
}

// WithDialer sets the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(current *settings) { current.dialer = dialer }
}

// WithStrictTransport makes Realtime.Connect reject methods other than the socket
// transport instead of coercing them.
func WithStrictTransport() Option {
	return func(current *settings) { current.strictTransport = true }
}

// WithSocketTransport replaces the socket adapter Realtime builds for itself.
func WithSocketTransport(transport Transport) Option {
	return func(current *settings) { current.socket = transport }
}
