package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/agent"
	"github.com/nerrad567/fleetlink-core/internal/audit"
	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/device/devicetest"
	"github.com/nerrad567/fleetlink-core/internal/tasks"
)

const testMAC = "AA:BB:CC:DD:EE:01"

var errBroken = errors.New("broken pipe")

type emitted struct {
	event   string
	payload any
}

type fakeTarget struct {
	id  string
	err error

	mu   sync.Mutex
	sent []emitted
}

func (f *fakeTarget) ID() string { return f.id }

func (f *fakeTarget) Emit(event string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, emitted{event, payload})
	return nil
}

func (f *fakeTarget) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSessions struct {
	sessions map[[2]string]Target
	room     []Target
}

func (s *fakeSessions) Session(owner, mac string) (Target, bool) {
	t, ok := s.sessions[[2]string{owner, mac}]
	return t, ok
}

func (s *fakeSessions) RoomMembers(string) []Target { return s.room }

type fakeAgent struct {
	err  error
	sent []agent.Outbound
}

func (a *fakeAgent) ID() string { return "agent-1" }

func (a *fakeAgent) Send(msg agent.Outbound) error {
	if a.err != nil {
		return a.err
	}
	a.sent = append(a.sent, msg)
	return nil
}

type fakePublisher struct {
	err       error
	published []string
}

func (p *fakePublisher) PublishCommand(mac, command string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, mac+":"+command)
	return nil
}

type fakeEvents struct{ shutdowns []string }

func (e *fakeEvents) DeviceShutdown(mac string) { e.shutdowns = append(e.shutdowns, mac) }

type fakeAudit struct{ entries []audit.Entry }

func (f *fakeAudit) Create(_ context.Context, e *audit.Entry) error {
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	return &audit.ListResult{Entries: f.entries}, nil
}

type harness struct {
	relay    *Relay
	store    *devicetest.MemoryStore
	agents   *agent.Registry
	sessions *fakeSessions
	events   *fakeEvents
	audit    *fakeAudit
}

func newHarness(connected bool) *harness {
	store := devicetest.NewMemoryStore().Seed(device.Device{
		MACAddress:  testMAC,
		UserID:      "u1",
		Name:        "workstation",
		IPAddress:   "10.0.0.5",
		IsConnected: connected,
	})
	h := &harness{
		store:    store,
		agents:   agent.NewRegistry(),
		sessions: &fakeSessions{sessions: map[[2]string]Target{}},
		events:   &fakeEvents{},
		audit:    &fakeAudit{},
	}
	h.relay = New(store, h.agents, h.sessions, h.events, tasks.Inline{})
	h.relay.SetAudit(audit.NewRecorder(h.audit, tasks.Inline{}))
	return h
}

func (h *harness) assertUntouched(t *testing.T) {
	t.Helper()
	if n := h.store.UpdateCount(); n != 0 {
		t.Errorf("store updates = %d, want 0", n)
	}
	if len(h.events.shutdowns) != 0 {
		t.Errorf("shutdown events = %v, want none", h.events.shutdowns)
	}
}

func TestShutdown_Preconditions(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		req       Requester
		mac       string
		wantErr   error
	}{
		{"invalid mac", true, Requester{UserID: "u1"}, "nope", ErrInvalidMAC},
		{"missing device as admin", true, Requester{UserID: "admin", IsAdmin: true}, "AA:BB:CC:DD:EE:99", ErrDeviceNotFound},
		{"missing device as user", true, Requester{UserID: "u1"}, "AA:BB:CC:DD:EE:99", ErrNotOwned},
		{"not owned", true, Requester{UserID: "u2"}, testMAC, ErrNotOwned},
		{"not connected", false, Requester{UserID: "u1"}, testMAC, ErrNotConnected},
		{"not connected as admin", false, Requester{UserID: "admin", IsAdmin: true}, testMAC, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.connected)
			a := &fakeAgent{}
			h.agents.Put(testMAC, a)

			_, err := h.relay.Shutdown(context.Background(), tt.req, tt.mac)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Shutdown() error = %v, want %v", err, tt.wantErr)
			}
			if len(a.sent) != 0 {
				t.Errorf("agent received %d frames, want none", len(a.sent))
			}
			if len(h.audit.entries) != 0 {
				t.Errorf("audit entries = %d, want none before delivery", len(h.audit.entries))
			}
			h.assertUntouched(t)
		})
	}
}

func TestShutdown_StoreFailure(t *testing.T) {
	h := newHarness(true)
	h.store.SetErr(errors.New("database is locked"))

	_, err := h.relay.Shutdown(context.Background(), Requester{UserID: "u1"}, testMAC)
	if err == nil || errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Shutdown() error = %v, want wrapped store error", err)
	}
	if Message(err) != "Internal server error" {
		t.Errorf("Message() = %q", Message(err))
	}
}

func TestShutdown_SessionFirst(t *testing.T) {
	h := newHarness(true)
	requesterSession := &fakeTarget{id: "dash-1"}
	tracked := &fakeTarget{id: "dash-2"}
	h.sessions.sessions[[2]string{"u1", testMAC}] = tracked
	a := &fakeAgent{}
	h.agents.Put(testMAC, a)

	path, err := h.relay.Shutdown(context.Background(),
		Requester{UserID: "u1", Session: requesterSession, Source: "dashboard"}, "aa-bb-cc-dd-ee-01")
	if err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if path != PathSession {
		t.Errorf("path = %q, want %q", path, PathSession)
	}
	if tracked.count() != 1 {
		t.Fatalf("tracked session got %d events, want 1", tracked.count())
	}
	if got := tracked.sent[0]; got.event != CommandEvent || got.payload != (CommandPayload{MACAddress: testMAC}) {
		t.Errorf("session event = %+v", got)
	}
	if len(a.sent) != 0 {
		t.Error("agent must not be tried after session delivery succeeds")
	}

	d, _ := h.store.Snapshot(testMAC)
	if d.IsConnected {
		t.Error("device should be marked disconnected after delivery")
	}
	if d.LastSeen == nil {
		t.Error("last seen should be set after delivery")
	}
	if len(h.events.shutdowns) != 1 || h.events.shutdowns[0] != testMAC {
		t.Errorf("shutdown events = %v", h.events.shutdowns)
	}

	if len(h.audit.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(h.audit.entries))
	}
	e := h.audit.entries[0]
	if e.EntityID != testMAC || e.UserID != "u1" || e.Source != "dashboard" || e.Details["path"] != "session" {
		t.Errorf("audit entry = %+v", e)
	}
}

func TestShutdown_SessionPathNeedsOwnerSession(t *testing.T) {
	h := newHarness(true)
	tracked := &fakeTarget{id: "dash-owner"}
	h.sessions.sessions[[2]string{"u1", testMAC}] = tracked
	a := &fakeAgent{}
	h.agents.Put(testMAC, a)

	// An admin's session is not the owner's, and an HTTP caller has none.
	for _, req := range []Requester{
		{UserID: "admin", IsAdmin: true, Session: &fakeTarget{id: "dash-admin"}},
		{UserID: "u1"},
	} {
		path, err := h.relay.Shutdown(context.Background(), req, testMAC)
		if err != nil {
			t.Fatalf("Shutdown(%+v) error = %v", req, err)
		}
		if path != PathAgent {
			t.Errorf("Shutdown(%+v) path = %q, want %q", req, path, PathAgent)
		}
		// Reset so the device is connected for the next request.
		h.store.Seed(device.Device{MACAddress: testMAC, UserID: "u1", IsConnected: true})
	}
	if tracked.count() != 0 {
		t.Errorf("owner session got %d events, want 0", tracked.count())
	}
	if len(a.sent) != 2 || a.sent[0] != agent.ShutdownCommand() {
		t.Errorf("agent frames = %+v", a.sent)
	}
}

func TestShutdown_FallsThroughFailedPaths(t *testing.T) {
	h := newHarness(true)
	h.sessions.sessions[[2]string{"u1", testMAC}] = &fakeTarget{id: "dead", err: errBroken}
	h.agents.Put(testMAC, &fakeAgent{err: errBroken})
	live := &fakeTarget{id: "room-live"}
	h.sessions.room = []Target{&fakeTarget{id: "room-dead", err: errBroken}, live}

	path, err := h.relay.Shutdown(context.Background(),
		Requester{UserID: "u1", Session: &fakeTarget{id: "me"}}, testMAC)
	if err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if path != PathRoom {
		t.Errorf("path = %q, want %q", path, PathRoom)
	}
	if live.count() != 1 {
		t.Errorf("live room member got %d events, want 1", live.count())
	}
}

func TestShutdown_BrokerPublishIsNotDelivery(t *testing.T) {
	h := newHarness(true)
	h.agents.Put(testMAC, &fakeAgent{err: errBroken})
	pub := &fakePublisher{}
	h.relay.SetPublisher(pub)

	_, err := h.relay.Shutdown(context.Background(), Requester{UserID: "u1"}, testMAC)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Shutdown() error = %v, want ErrDeliveryFailed", err)
	}
	if len(pub.published) != 1 || pub.published[0] != testMAC+":shutdown" {
		t.Errorf("published = %v, want the command mirrored once", pub.published)
	}

	h.assertUntouched(t)
	d, _ := h.store.Snapshot(testMAC)
	if !d.IsConnected {
		t.Error("stored connectivity must be untouched when no channel took the command")
	}
}

func TestShutdown_RoomWithBroker(t *testing.T) {
	h := newHarness(true)
	live := &fakeTarget{id: "room-live"}
	h.sessions.room = []Target{live}
	pub := &fakePublisher{}
	h.relay.SetPublisher(pub)

	path, err := h.relay.Shutdown(context.Background(), Requester{UserID: "u1"}, testMAC)
	if err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if path != PathRoom {
		t.Errorf("path = %q, want %q", path, PathRoom)
	}
	if live.count() != 1 || len(pub.published) != 1 {
		t.Errorf("room events = %d, published = %v", live.count(), pub.published)
	}
	if len(h.events.shutdowns) != 1 {
		t.Errorf("shutdown events = %v, want one", h.events.shutdowns)
	}
}

func TestShutdown_DeliveryFailed(t *testing.T) {
	h := newHarness(true)
	h.agents.Put(testMAC, &fakeAgent{err: errBroken})
	h.relay.SetPublisher(&fakePublisher{err: errBroken})

	_, err := h.relay.Shutdown(context.Background(), Requester{UserID: "u1"}, testMAC)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Shutdown() error = %v, want ErrDeliveryFailed", err)
	}

	h.assertUntouched(t)
	d, _ := h.store.Snapshot(testMAC)
	if !d.IsConnected {
		t.Error("stored connectivity must be untouched on failure")
	}
	if len(h.audit.entries) != 1 || h.audit.entries[0].Details["success"] != false {
		t.Errorf("audit entries = %+v, want one failed attempt", h.audit.entries)
	}
}

type dropScheduler struct{}

func (dropScheduler) Submit(string, tasks.Func) bool { return false }

func TestShutdown_ReconcileDropped(t *testing.T) {
	h := newHarness(true)
	h.agents.Put(testMAC, &fakeAgent{})
	h.relay = New(h.store, h.agents, nil, h.events, dropScheduler{})
	h.relay.now = func() time.Time { return time.Unix(0, 0) }

	if _, err := h.relay.Shutdown(context.Background(), Requester{UserID: "u1"}, testMAC); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	// Delivery already happened; a dropped reconciliation is logged only.
	h.assertUntouched(t)
}

func TestMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "Shutdown command sent successfully"},
		{ErrInvalidMAC, "A valid MAC address is required"},
		{ErrDeviceNotFound, "Device not found"},
		{ErrNotOwned, "Device not found or does not belong to user"},
		{ErrNotConnected, "Device is not connected"},
		{ErrDeliveryFailed, "Failed to send shutdown command to device"},
		{errBroken, "Internal server error"},
	}
	for _, tt := range tests {
		if got := Message(tt.err); got != tt.want {
			t.Errorf("Message(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
