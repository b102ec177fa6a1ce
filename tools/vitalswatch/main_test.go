package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Thejuampi/vitals-client-go/internal/socketio"
	"github.com/Thejuampi/vitals-client-go/internal/testutil"
	"github.com/Thejuampi/vitals-client-go/vitals"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 3 * time.Second

func socketConfig(baseURL string) vitals.Config {
	cfg := vitals.DefaultConfig()
	cfg.APIBaseURL = baseURL + "/api"
	cfg.Socket.Transports = []string{"websocket"}
	cfg.Socket.ConnectTimeout = 2 * time.Second
	return cfg
}

func decodeLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("line %q is not JSON: %v", scanner.Text(), err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestWatchPrintsEventsUntilServerDisconnect(t *testing.T) {
	server := testutil.NewSocketServer(t, socketio.ServerOptions{})
	transport, err := newTransport("socket", socketConfig(server.URL))
	if err != nil {
		t.Fatalf("transport: %v", err)
	}

	result := make(chan error, 1)
	var out bytes.Buffer
	go func() {
		result <- watch(context.Background(), &out, transport, vitals.Target{PracticeID: "7", PatientID: "42"})
	}()

	session := server.NextSession(t, waitTimeout)
	session.Events.WaitFor(t, 1, waitTimeout)
	if err := session.Emit("vital-reading-update", map[string]int{"SYS": 120, "DIA": 80}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := session.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("watch did not stop on server disconnect")
	}

	lines := decodeLines(t, &out)
	var kinds []string
	for _, line := range lines {
		kinds = append(kinds, line["kind"].(string))
	}
	if got := strings.Join(kinds, ","); got != "connected,vital-reading-update,disconnected" {
		t.Fatalf("unexpected event sequence %s", got)
	}
	if reading := lines[1]["data"].(map[string]any); reading["SYS"] != float64(120) {
		t.Fatalf("unexpected reading %v", reading)
	}
	if lines[2]["reason"] != vitals.ReasonServerDisconnect {
		t.Fatalf("unexpected reason %v", lines[2]["reason"])
	}
}

func TestWatchReturnsTerminalError(t *testing.T) {
	unavailable := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(unavailable.Close)

	cfg := socketConfig(unavailable.URL)
	cfg.Stream.Backoff = vitals.BackoffPolicy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2, MaxAttempts: 2}
	transport, err := newTransport("stream", cfg)
	if err != nil {
		t.Fatalf("transport: %v", err)
	}

	var out bytes.Buffer
	err = watch(context.Background(), &out, transport, vitals.Target{PracticeID: "7"})
	if !errors.Is(err, vitals.ErrRetriesExhausted) || !errors.Is(err, vitals.ErrConnectionRefused) {
		t.Fatalf("expected exhausted refusal, got %v", err)
	}
	lines := decodeLines(t, &out)
	if len(lines) != 2 || lines[1]["terminal"] != true {
		t.Fatalf("expected two error lines ending terminal, got %v", lines)
	}
}

func TestWatchRejectsInvalidTarget(t *testing.T) {
	transport, _ := newTransport("stream", vitals.DefaultConfig())
	err := watch(context.Background(), &bytes.Buffer{}, transport, vitals.Target{})
	if !errors.Is(err, vitals.ErrInvalidTarget) {
		t.Fatalf("expected invalid target, got %v", err)
	}
}

func TestNewTransportRejectsUnknownMethod(t *testing.T) {
	if _, err := newTransport("carrier-pigeon", vitals.DefaultConfig()); vitals.ErrorCode(err) != vitals.UnsupportedTransportError {
		t.Fatalf("expected unsupported transport, got %v", err)
	}
}

func TestRootCommandTracesConnect(t *testing.T) {
	server := testutil.NewSocketServer(t, socketio.ServerOptions{})
	t.Setenv("VITALS_API_BASE_URL", server.URL+"/api")
	t.Setenv("VITALS_SOCKET_TRANSPORTS", "websocket")
	t.Setenv("VITALS_LOG_MODE", "prod")

	var out, errOut bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--practice", "7", "--trace", "--duration", "300ms"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if lines := decodeLines(t, &out); len(lines) == 0 || lines[0]["kind"] != "connected" {
		t.Fatalf("expected a connected line, got %q", out.String())
	}
	if !strings.Contains(errOut.String(), vitals.SocketConnectSpan) {
		t.Fatalf("expected the connect span on stderr, got %q", errOut.String())
	}
	if strings.Contains(errOut.String(), `"vitals.patient_id"`) {
		t.Fatalf("patient ids must stay out of spans")
	}
}

func TestRootCommandRequiresPractice(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--transport", "stream"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected missing --practice to fail")
	}
}
