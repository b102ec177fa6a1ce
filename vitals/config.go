package vitals

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thejuampi/vitals-client-go/vitals/logging"
)

// Config holds everything the realtime subsystem needs from its host application.
type Config struct {
	// APIBaseURL is the REST base, e.g. https://host/api. The socket server lives at
	// the same host with the /api suffix removed; the stream endpoints live under it.
	APIBaseURL string       `yaml:"api_base_url"`
	Socket     SocketConfig `yaml:"socket"`
	Stream     StreamConfig `yaml:"stream"`
	Log        LogConfig    `yaml:"log"`
}

// SocketConfig configures the socket transport.
type SocketConfig struct {
	Path           string            `yaml:"path"`
	Transports     []string          `yaml:"transports"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	Reconnection   bool              `yaml:"reconnection"`
	Backoff        BackoffPolicy     `yaml:"backoff"`
	Headers        map[string]string `yaml:"headers"`
}

// StreamConfig configures the stream transport.
type StreamConfig struct {
	Backoff BackoffPolicy     `yaml:"backoff"`
	Headers map[string]string `yaml:"headers"`
}

// LogConfig selects the logger built by Config.NewLogger.
type LogConfig struct {
	Mode     string `yaml:"mode"`
	HashSalt string `yaml:"hash_salt"`
}

// DefaultConfig returns the defaults applied before any file or environment value.
func DefaultConfig() Config {
	return Config{
		APIBaseURL: "http://localhost:3000/api",
		Socket: SocketConfig{
			Path:           "/socket.io/",
			Transports:     []string{"websocket", "polling"},
			ConnectTimeout: 20 * time.Second,
			Reconnection:   true,
			Backoff:        SocketBackoff(),
		},
		Stream: StreamConfig{Backoff: StreamBackoff()},
		Log:    LogConfig{Mode: "development"},
	}
}

// LoadConfig reads defaults, then the YAML file at path when path is not empty, then
// VITALS_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.APIBaseURL = getEnv("VITALS_API_BASE_URL", cfg.APIBaseURL)
	cfg.Socket.Path = getEnv("VITALS_SOCKET_PATH", cfg.Socket.Path)
	cfg.Socket.Transports = getEnvList("VITALS_SOCKET_TRANSPORTS", cfg.Socket.Transports)
	cfg.Socket.ConnectTimeout = getEnvDuration("VITALS_CONNECT_TIMEOUT", cfg.Socket.ConnectTimeout)
	cfg.Log.Mode = getEnv("VITALS_LOG_MODE", cfg.Log.Mode)
	cfg.Log.HashSalt = getEnv("VITALS_LOG_HASH_SALT", cfg.Log.HashSalt)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the base URL.
func (cfg Config) Validate() error {
	parsed, err := url.Parse(strings.TrimSpace(cfg.APIBaseURL))
	if err != nil {
		return fmt.Errorf("invalid api_base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid api_base_url %q: scheme must be http or https", cfg.APIBaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid api_base_url %q: missing host", cfg.APIBaseURL)
	}
	return nil
}

// SocketBaseURL returns the API base with its /api path suffix, and anything below it,
// removed.
func (cfg Config) SocketBaseURL() (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.APIBaseURL))
	if err != nil {
		return "", err
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	kept := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment == "api" {
			break
		}
		if segment != "" {
			kept = append(kept, segment)
		}
	}
	parsed.Path = ""
	if len(kept) > 0 {
		parsed.Path = "/" + strings.Join(kept, "/")
	}
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

// StreamURL returns the event-stream endpoint for target.
func (cfg Config) StreamURL(target Target) (string, error) {
	if err := target.Validate(); err != nil {
		return "", err
	}
	target = target.normalized()
	base := strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/")
	if target.PatientID != "" {
		return url.JoinPath(base, "vitals", "sse", string(target.PracticeID), string(target.PatientID))
	}
	return url.JoinPath(base, "vitals", "sse", "practice", string(target.PracticeID))
}

// NewLogger builds the logger described by cfg.Log.
func (cfg Config) NewLogger() (*logging.Logger, error) {
	var options []logging.Option
	if cfg.Log.HashSalt != "" {
		options = append(options, logging.WithHashSalt(cfg.Log.HashSalt))
	}
	return logging.New(cfg.Log.Mode, options...)
}

func getEnv(name string, def string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return def
}

func getEnvDuration(name string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvList(name string, def []string) []string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
