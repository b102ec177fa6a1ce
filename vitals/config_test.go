package vitals

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Socket.ConnectTimeout != 20*time.Second || !cfg.Socket.Reconnection {
		t.Fatalf("unexpected socket defaults %+v", cfg.Socket)
	}
	if cfg.Socket.Backoff != SocketBackoff() || cfg.Stream.Backoff != StreamBackoff() {
		t.Fatalf("unexpected backoff defaults")
	}
	if len(cfg.Socket.Transports) != 2 || cfg.Socket.Transports[0] != "websocket" {
		t.Fatalf("websocket must be preferred, got %v", cfg.Socket.Transports)
	}
}

func TestLoadConfigFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitals.yaml")
	raw := []byte(`api_base_url: https://clinic.example/api
socket:
  transports: [polling]
  backoff:
    max_attempts: 9
stream:
  headers:
    X-Client: watch
log:
  mode: prod
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("VITALS_CONNECT_TIMEOUT", "5s")
	t.Setenv("VITALS_SOCKET_TRANSPORTS", "websocket, polling")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "https://clinic.example/api" || cfg.Log.Mode != "prod" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Socket.Backoff.MaxAttempts != 9 || cfg.Socket.Backoff.Initial != time.Second {
		t.Fatalf("partial backoff should keep the other defaults: %+v", cfg.Socket.Backoff)
	}
	if cfg.Socket.ConnectTimeout != 5*time.Second {
		t.Fatalf("env timeout not applied: %v", cfg.Socket.ConnectTimeout)
	}
	if len(cfg.Socket.Transports) != 2 || cfg.Socket.Transports[1] != "polling" {
		t.Fatalf("env transports not applied: %v", cfg.Socket.Transports)
	}
	if cfg.Stream.Headers["X-Client"] != "watch" {
		t.Fatalf("stream headers not loaded: %v", cfg.Stream.Headers)
	}
}

func TestLoadConfigRejectsBadBaseURL(t *testing.T) {
	t.Setenv("VITALS_API_BASE_URL", "ftp://clinic.example")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected an error for a non-http base URL")
	}
}

func TestSocketBaseURLStripsAPISuffix(t *testing.T) {
	cases := map[string]string{
		"https://clinic.example/api":        "https://clinic.example",
		"https://clinic.example/api/":       "https://clinic.example",
		"https://clinic.example/v2/api/x":   "https://clinic.example/v2",
		"https://clinic.example":            "https://clinic.example",
		"http://localhost:3000/apis":        "http://localhost:3000/apis",
		"http://localhost:3000/api?debug=1": "http://localhost:3000",
	}
	for base, want := range cases {
		got, err := Config{APIBaseURL: base}.SocketBaseURL()
		if err != nil || got != want {
			t.Fatalf("%s: expected %s, got %s (%v)", base, want, got, err)
		}
	}
}

func TestStreamURL(t *testing.T) {
	cfg := Config{APIBaseURL: "https://clinic.example/api/"}
	patient, err := cfg.StreamURL(Target{PracticeID: "7", PatientID: "42"})
	if err != nil || patient != "https://clinic.example/api/vitals/sse/7/42" {
		t.Fatalf("unexpected patient stream %s (%v)", patient, err)
	}
	practice, err := cfg.StreamURL(Target{PracticeID: "7"})
	if err != nil || practice != "https://clinic.example/api/vitals/sse/practice/7" {
		t.Fatalf("unexpected practice stream %s (%v)", practice, err)
	}
	if _, err := cfg.StreamURL(Target{}); err == nil {
		t.Fatalf("expected an error without a practice")
	}
}

func TestIDMarshalsNumbersAsNumbers(t *testing.T) {
	raw, err := json.Marshal(patientRoomRequest{PracticeID: IntID(7), PatientID: "p-42"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"practiceId":7,"patientId":"p-42"}` {
		t.Fatalf("unexpected encoding %s", raw)
	}
}

func TestIDQuotesNonCanonicalNumbers(t *testing.T) {
	cases := map[ID]string{
		"7":     `7`,
		"-3":    `-3`,
		"007":   `"007"`,
		"+7":    `"+7"`,
		"00123": `"00123"`,
		"-0":    `"-0"`,
		"p-42":  `"p-42"`,
	}
	for id, want := range cases {
		raw, err := json.Marshal(id)
		if err != nil {
			t.Fatalf("marshal %q: %v", id, err)
		}
		if string(raw) != want {
			t.Fatalf("%q encoded as %s, want %s", id, raw, want)
		}
		if !json.Valid(raw) {
			t.Fatalf("%q produced invalid JSON %s", id, raw)
		}
	}
}

func TestEventKindNames(t *testing.T) {
	for kind := EventConnected; kind <= EventMessage; kind++ {
		parsed, ok := ParseEventKind(kind.String())
		if !ok || parsed != kind {
			t.Fatalf("%v does not round trip", kind)
		}
	}
	if _, ok := ParseEventKind("reconnect"); ok {
		t.Fatalf("unknown names must not parse")
	}
	raw, err := json.Marshal(Event{Kind: EventError, Transport: TransportStream, Attempts: 5, Terminal: true, Err: ErrRetriesExhausted})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	if decoded["kind"] != "error" || decoded["error"] != "RetriesExhaustedError" || decoded["attempts"] != float64(5) {
		t.Fatalf("unexpected event json %s", raw)
	}
}
