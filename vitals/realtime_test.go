package vitals

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Thejuampi/vitals-client-go/internal/socketio"
	"github.com/Thejuampi/vitals-client-go/internal/testutil"
	"github.com/Thejuampi/vitals-client-go/vitals/logging"
)

type fakeTransport struct {
	registry *ListenerRegistry

	lock        sync.Mutex
	targets     []Target
	disconnects int
	connected   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{registry: NewListenerRegistry(nil)}
}

func (fake *fakeTransport) Connect(target Target) error {
	fake.lock.Lock()
	fake.targets = append(fake.targets, target)
	fake.connected = true
	fake.lock.Unlock()
	fake.registry.Emit(Event{Kind: EventConnected, Transport: TransportSocket, SocketID: "fake"})
	return nil
}

func (fake *fakeTransport) Disconnect() {
	fake.lock.Lock()
	wasConnected := fake.connected
	fake.connected = false
	fake.disconnects++
	fake.lock.Unlock()
	if wasConnected {
		fake.registry.Emit(Event{Kind: EventDisconnected, Reason: ReasonClientDisconnect})
	}
	fake.registry.Clear()
}

func (fake *fakeTransport) On(kind EventKind, listener Listener) Subscription {
	return fake.registry.On(kind, listener)
}

func (fake *fakeTransport) Off(subscription Subscription) bool {
	return fake.registry.Off(subscription)
}

func (fake *fakeTransport) Connected() bool {
	fake.lock.Lock()
	defer fake.lock.Unlock()
	return fake.connected
}

func (fake *fakeTransport) snapshot() ([]Target, int) {
	fake.lock.Lock()
	defer fake.lock.Unlock()
	return append([]Target(nil), fake.targets...), fake.disconnects
}

func TestRealtimeCoercesUnsupportedMethod(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	fake := newFakeTransport()
	realtime := NewRealtime(DefaultConfig(), WithSocketTransport(fake), WithLogger(logging.FromZap(zap.New(core))))

	if err := realtime.Connect(ConnectOptions{PracticeID: "7", PatientID: "42", Method: TransportStream}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	targets, _ := fake.snapshot()
	if len(targets) != 1 || targets[0] != (Target{PracticeID: "7", PatientID: "42"}) {
		t.Fatalf("unexpected targets %+v", targets)
	}
	if info := realtime.CurrentConnection(); info.Transport != TransportSocket || info.PracticeID != "7" || info.PatientID != "42" {
		t.Fatalf("unexpected connection info %+v", info)
	}
	if logs.FilterMessage("transport not supported, using socket").Len() != 1 {
		t.Fatalf("coercion should be logged, got %v", logs.All())
	}
}

func TestRealtimeStrictRejectsUnsupportedMethod(t *testing.T) {
	fake := newFakeTransport()
	realtime := NewRealtime(DefaultConfig(), WithSocketTransport(fake), WithStrictTransport())

	err := realtime.Connect(ConnectOptions{PracticeID: "7", Method: TransportStream})
	if !errors.Is(err, ErrUnsupportedTransport) {
		t.Fatalf("expected ErrUnsupportedTransport, got %v", err)
	}
	if targets, disconnects := fake.snapshot(); len(targets) != 0 || disconnects != 0 {
		t.Fatalf("a rejected connect must not touch the transport")
	}
	if err := realtime.Connect(ConnectOptions{PracticeID: "7"}); err != nil {
		t.Fatalf("socket connect in strict mode: %v", err)
	}
}

func TestRealtimeRejectsMissingPractice(t *testing.T) {
	fake := newFakeTransport()
	realtime := NewRealtime(DefaultConfig(), WithSocketTransport(fake))
	if err := realtime.Connect(ConnectOptions{PatientID: "42"}); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if info := realtime.CurrentConnection(); info != (ConnectionInfo{}) {
		t.Fatalf("connection info must stay empty, got %+v", info)
	}
}

func TestRealtimeForwardsTransportEvents(t *testing.T) {
	fake := newFakeTransport()
	realtime := NewRealtime(DefaultConfig(), WithSocketTransport(fake))
	connected := record(realtime, EventConnected)
	readings := record(realtime, EventVitalReadingUpdate)
	updates := record(realtime, EventPatientVitalUpdate)
	failures := record(realtime, EventError)
	joined := record(realtime, EventJoinedRoom)

	if err := realtime.Connect(ConnectOptions{PracticeID: "7"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	fake.registry.Emit(Event{Kind: EventVitalReadingUpdate, Data: json.RawMessage(`{"SYS":120,"DIA":80}`)})
	fake.registry.Emit(Event{Kind: EventPatientVitalUpdate, Data: json.RawMessage(`{}`)})
	fake.registry.Emit(Event{Kind: EventError, Attempts: 2, Err: NewError(ConnectionError)})
	fake.registry.Emit(Event{Kind: EventJoinedRoom})

	if connected.Len() != 1 || readings.Len() != 1 || updates.Len() != 1 || failures.Len() != 1 {
		t.Fatalf("events not forwarded: %d %d %d %d", connected.Len(), readings.Len(), updates.Len(), failures.Len())
	}
	if string(readings.Items()[0].Data) != `{"SYS":120,"DIA":80}` || failures.Items()[0].Attempts != 2 {
		t.Fatalf("forwarded events changed")
	}
	if joined.Len() != 0 {
		t.Fatalf("room acknowledgements stay inside the transport")
	}
	if !realtime.IsConnected() {
		t.Fatalf("IsConnected should proxy the transport")
	}
}

func TestRealtimeSecondConnectKeepsOneWiring(t *testing.T) {
	fake := newFakeTransport()
	realtime := NewRealtime(DefaultConfig(), WithSocketTransport(fake))
	readings := record(realtime, EventVitalReadingUpdate)
	disconnected := record(realtime, EventDisconnected)

	_ = realtime.Connect(ConnectOptions{PracticeID: "7"})
	_ = realtime.Connect(ConnectOptions{PracticeID: "8", PatientID: "1"})

	targets, disconnects := fake.snapshot()
	if len(targets) != 2 || disconnects != 2 {
		t.Fatalf("each connect tears down first: %d connects %d disconnects", len(targets), disconnects)
	}
	if disconnected.Len() != 1 {
		t.Fatalf("replacing a live connection reports its disconnect, got %d", disconnected.Len())
	}
	if fake.registry.Count(EventVitalReadingUpdate) != 1 {
		t.Fatalf("facade wired itself %d times", fake.registry.Count(EventVitalReadingUpdate))
	}
	fake.registry.Emit(Event{Kind: EventVitalReadingUpdate})
	if readings.Len() != 1 {
		t.Fatalf("expected one delivery, got %d", readings.Len())
	}
	if info := realtime.CurrentConnection(); info.PracticeID != "8" || info.PatientID != "1" {
		t.Fatalf("unexpected connection info %+v", info)
	}
}

func TestRealtimeConcurrentConnectsWireOnce(t *testing.T) {
	fake := newFakeTransport()
	realtime := NewRealtime(DefaultConfig(), WithSocketTransport(fake))
	readings := record(realtime, EventVitalReadingUpdate)

	var group sync.WaitGroup
	for index := 0; index < 16; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			_ = realtime.Connect(ConnectOptions{PracticeID: IntID(int64(index + 1))})
		}()
	}
	group.Wait()

	for _, kind := range forwardedKinds {
		if count := fake.registry.Count(kind); count != 1 {
			t.Fatalf("%v wired %d times after concurrent connects", kind, count)
		}
	}
	fake.registry.Emit(Event{Kind: EventVitalReadingUpdate})
	if readings.Len() != 1 {
		t.Fatalf("expected one delivery, got %d", readings.Len())
	}
	targets, _ := fake.snapshot()
	if info := realtime.CurrentConnection(); info.PracticeID != targets[len(targets)-1].PracticeID {
		t.Fatalf("current connection %+v does not match the last connect %+v", info, targets[len(targets)-1])
	}
}

func TestRealtimeDisconnectClearsState(t *testing.T) {
	fake := newFakeTransport()
	realtime := NewRealtime(DefaultConfig(), WithSocketTransport(fake))
	disconnected := record(realtime, EventDisconnected)
	_ = realtime.Connect(ConnectOptions{PracticeID: "7", PatientID: "42"})

	realtime.Disconnect()
	realtime.Disconnect()

	if disconnected.Len() != 1 || disconnected.Items()[0].Reason != ReasonClientDisconnect {
		t.Fatalf("expected one disconnect event, got %+v", disconnected.Items())
	}
	if realtime.IsConnected() || realtime.CurrentConnection() != (ConnectionInfo{}) {
		t.Fatalf("state not cleared")
	}
	if realtime.registry.Count(EventDisconnected) != 0 {
		t.Fatalf("listeners not cleared")
	}
}

func TestRealtimeOffStopsDelivery(t *testing.T) {
	fake := newFakeTransport()
	realtime := NewRealtime(DefaultConfig(), WithSocketTransport(fake))
	readings := &testutil.Recorder[Event]{}
	subscription := realtime.On(EventVitalReadingUpdate, readings.Record)
	_ = realtime.Connect(ConnectOptions{PracticeID: "7"})

	if !realtime.Off(subscription) {
		t.Fatalf("Off should find the listener")
	}
	fake.registry.Emit(Event{Kind: EventVitalReadingUpdate})
	if readings.Len() != 0 {
		t.Fatalf("listener still called after Off")
	}
}

func TestRealtimeEndToEndOverSocket(t *testing.T) {
	server := testutil.NewSocketServer(t, socketio.ServerOptions{})
	realtime := NewRealtime(testConfig(server.URL))
	t.Cleanup(realtime.Disconnect)
	connected := record(realtime, EventConnected)
	readings := record(realtime, EventVitalReadingUpdate)

	if err := realtime.Connect(ConnectOptions{PracticeID: IntID(7)}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	session := server.NextSession(t, waitTimeout)
	if join := session.Events.WaitFor(t, 1, waitTimeout)[0]; string(join.Payload()) != `{"practiceId":7}` {
		t.Fatalf("unexpected join payload %s", join.Payload())
	}
	if got := connected.WaitFor(t, 1, waitTimeout)[0]; got.SocketID != session.SocketID() {
		t.Fatalf("connected event carries socket %q, want %q", got.SocketID, session.SocketID())
	}
	if !realtime.IsConnected() {
		t.Fatalf("facade should report the live socket")
	}

	_ = session.EmitRaw(json.RawMessage(`["vital-reading-update",{"SYS":120,"DIA":80}]`))
	if got := readings.WaitFor(t, 1, waitTimeout)[0]; string(got.Data) != `{"SYS":120,"DIA":80}` {
		t.Fatalf("payload changed in transit: %s", got.Data)
	}

	realtime.Disconnect()
	select {
	case <-session.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("server never saw the session end")
	}
}
