package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/device/devicetest"
)

const testMAC = "AA:BB:CC:DD:EE:01"

type fakeChannel struct {
	id string

	mu   sync.Mutex
	sent []Outbound
}

func newFakeChannel(id string) *fakeChannel {
	return &fakeChannel{id: id}
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(msg Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) messages() []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Outbound(nil), c.sent...)
}

func (c *fakeChannel) last(t *testing.T) Outbound {
	t.Helper()
	msgs := c.messages()
	if len(msgs) == 0 {
		t.Fatal("no message sent")
	}
	return msgs[len(msgs)-1]
}

type recordedEvent struct {
	kind string
	mac  string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *fakeEvents) record(kind, mac string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{kind, mac})
}

func (e *fakeEvents) DeviceUpdated(mac string)      { e.record("update", mac) }
func (e *fakeEvents) DeviceDisconnected(mac string) { e.record("disconnect", mac) }
func (e *fakeEvents) DeviceShutdown(mac string)     { e.record("shutdown", mac) }

func (e *fakeEvents) all() []recordedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recordedEvent(nil), e.events...)
}

type fakeTelemetry struct {
	writes []string
}

func (f *fakeTelemetry) WriteHardware(mac string, _ *device.Hardware, _ time.Time) {
	f.writes = append(f.writes, mac)
}

type harness struct {
	store      *devicetest.MemoryStore
	events     *fakeEvents
	dispatcher *Dispatcher
}

func newHarness() *harness {
	h := &harness{store: devicetest.NewMemoryStore(), events: &fakeEvents{}}
	h.dispatcher = NewDispatcher(h.store, NewRegistry(), h.events)
	return h
}

func (h *harness) handle(ch Channel, raw string) {
	h.dispatcher.Handle(context.Background(), ch, []byte(raw))
}

func seeded(connected bool) device.Device {
	return device.Device{
		MACAddress:  testMAC,
		UserID:      "u1",
		Name:        "build-box",
		IPAddress:   "10.0.0.5",
		IsConnected: connected,
	}
}

func TestDispatcher_CoversEveryKind(t *testing.T) {
	d := NewDispatcher(devicetest.NewMemoryStore(), NewRegistry(), nil)
	for _, k := range Kinds() {
		if _, ok := d.processors[k]; !ok {
			t.Errorf("no processor for %s", k)
		}
		if _, ok := failureReplies[k]; !ok {
			t.Errorf("no failure reply for %s", k)
		}
	}
	if len(d.processors) != len(Kinds()) {
		t.Errorf("processor table has %d entries, want %d", len(d.processors), len(Kinds()))
	}
}

func TestDispatcher_Opened(t *testing.T) {
	h := newHarness()
	ch := newFakeChannel("c1")

	h.dispatcher.Opened(ch)

	if got := ch.last(t); got != Info(InfoConnected) {
		t.Errorf("greeting = %+v, want info WS Connected", got)
	}
}

func TestDispatcher_InvalidFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"format", `{"foo":1}`, "Invalid message format: messageType is required"},
		{"unknown", `{"messageType":"reboot"}`, "Unknown message type: reboot"},
		{"validation", `{"messageType":"exists"}`, "Invalid exists message: MAC address is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			ch := newFakeChannel("c1")

			h.handle(ch, tt.raw)

			if got := ch.last(t); got != Error(tt.want) {
				t.Errorf("reply = %+v, want error %q", got, tt.want)
			}
			if h.store.UpdateCount() != 0 || h.dispatcher.Registry().Len() != 0 || len(h.events.all()) != 0 {
				t.Error("invalid frame mutated state")
			}
		})
	}
}

func TestRegister_NewDeviceRequiresOwner(t *testing.T) {
	h := newHarness()
	ch := newFakeChannel("c1")

	h.handle(ch, `{"messageType":"register","macAddress":"aa:bb:cc:dd:ee:01","ipAddress":"10.0.0.5","machineName":"build-box"}`)

	if got := ch.last(t); got != Error("userId required for new device registration") {
		t.Errorf("reply = %+v", got)
	}
	if _, ok := h.store.Snapshot(testMAC); ok {
		t.Error("device was created without an owner")
	}
	if h.dispatcher.Registry().Len() != 0 {
		t.Error("registry entry added without an owner")
	}
	if len(h.events.all()) != 0 {
		t.Error("broadcast scheduled for rejected registration")
	}
}

func TestRegister_NewDevice(t *testing.T) {
	h := newHarness()
	tel := &fakeTelemetry{}
	h.dispatcher.SetTelemetry(tel)
	ch := newFakeChannel("c1")

	h.handle(ch, `{"messageType":"register","macAddress":"aa:bb:cc:dd:ee:01","ipAddress":"10.0.0.5","machineName":"build-box","userId":"u1",
		"hardware":{"memory":{"total":32,"used":8,"available":24,"usage":25}}}`)

	if got := ch.last(t); got != Info(InfoRegistered) {
		t.Errorf("reply = %+v, want info registered", got)
	}
	d, ok := h.store.Snapshot(testMAC)
	if !ok {
		t.Fatal("device not created")
	}
	if d.UserID != "u1" || !d.IsConnected || d.LastSeen == nil {
		t.Errorf("created device = %+v", d)
	}
	if got, ok := h.dispatcher.Registry().Get(testMAC); !ok || got != ch {
		t.Error("registry does not point at the registering channel")
	}
	if ev := h.events.all(); len(ev) != 1 || ev[0] != (recordedEvent{"update", testMAC}) {
		t.Errorf("events = %v, want one update", ev)
	}
	if len(tel.writes) != 1 {
		t.Errorf("telemetry writes = %d, want 1", len(tel.writes))
	}
}

func TestRegister_ExistingDevice(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		want      string
	}{
		{"was connected", true, InfoUpdated},
		{"was disconnected", false, InfoReconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.store.Seed(seeded(tt.connected))
			ch := newFakeChannel("c1")

			// userId of a different user must not change the owner.
			h.handle(ch, `{"messageType":"register","macAddress":"AA:BB:CC:DD:EE:01","ipAddress":"10.0.0.9","machineName":"renamed","userId":"u2"}`)

			if got := ch.last(t); got != Info(tt.want) {
				t.Errorf("reply = %+v, want info %s", got, tt.want)
			}
			d, _ := h.store.Snapshot(testMAC)
			if d.UserID != "u1" {
				t.Errorf("owner = %q, want u1", d.UserID)
			}
			if d.Name != "renamed" || d.IPAddress != "10.0.0.9" || !d.IsConnected {
				t.Errorf("device = %+v", d)
			}
			if got, ok := h.dispatcher.Registry().Get(testMAC); !ok || got != ch {
				t.Error("registry does not point at the registering channel")
			}
		})
	}
}

func TestRegister_ReplacesRegistryHandle(t *testing.T) {
	h := newHarness()
	first, second := newFakeChannel("c1"), newFakeChannel("c2")
	frame := `{"messageType":"register","macAddress":"AA:BB:CC:DD:EE:01","ipAddress":"1","machineName":"m","userId":"u1"}`

	h.handle(first, frame)
	h.handle(second, frame)

	if got, _ := h.dispatcher.Registry().Get(testMAC); got != second {
		t.Error("second registration should own the MAC")
	}
	if h.dispatcher.Registry().Len() != 1 {
		t.Errorf("registry has %d entries, want 1", h.dispatcher.Registry().Len())
	}

	// The superseded channel closing must not evict the newcomer.
	h.dispatcher.Closed(context.Background(), first)
	if _, ok := h.dispatcher.Registry().Get(testMAC); !ok {
		t.Error("closing the old channel removed the new entry")
	}
}

func TestRegisterThenExists_RoundTrip(t *testing.T) {
	h := newHarness()
	ch := newFakeChannel("c1")

	h.handle(ch, `{"messageType":"register","macAddress":"AA:BB:CC:DD:EE:01","ipAddress":"1","machineName":"m","userId":"u1"}`)
	h.handle(ch, `{"messageType":"exists","macAddress":"AA:BB:CC:DD:EE:01"}`)

	got := ch.last(t)
	payload, ok := got.Payload.(ExistsPayload)
	if got.MessageType != TypeExists || !ok {
		t.Fatalf("reply = %+v, want exists payload", got)
	}
	if !payload.Exists || payload.IsConnected == nil || !*payload.IsConnected {
		t.Errorf("payload = %+v, want exists and connected", payload)
	}
	if payload.Name == nil || *payload.Name != "m" {
		t.Errorf("payload name = %v, want m", payload.Name)
	}
}

func TestExists_Missing(t *testing.T) {
	h := newHarness()
	ch := newFakeChannel("c1")

	h.handle(ch, `{"messageType":"exists","macAddress":"AA:BB:CC:DD:EE:01"}`)

	payload, _ := ch.last(t).Payload.(ExistsPayload)
	if payload.Exists || payload.Name != nil || payload.IsConnected != nil {
		t.Errorf("payload = %+v, want bare exists=false", payload)
	}
}

func TestUpdate(t *testing.T) {
	t.Run("existing device", func(t *testing.T) {
		h := newHarness()
		h.store.Seed(seeded(false))
		ch := newFakeChannel("c1")

		h.handle(ch, `{"messageType":"update","macAddress":"AA:BB:CC:DD:EE:01","ipAddress":"10.0.0.7","machineName":"m2"}`)

		if got := ch.last(t); got != Info(InfoUpdated) {
			t.Errorf("reply = %+v", got)
		}
		d, _ := h.store.Snapshot(testMAC)
		if !d.IsConnected || d.Name != "m2" || d.UserID != "u1" {
			t.Errorf("device = %+v", d)
		}
		if h.dispatcher.Registry().Len() != 0 {
			t.Error("update should not touch the registry")
		}
	})

	t.Run("unknown device still acknowledged", func(t *testing.T) {
		h := newHarness()
		ch := newFakeChannel("c1")

		h.handle(ch, `{"messageType":"update","macAddress":"AA:BB:CC:DD:EE:01","ipAddress":"1","machineName":"m"}`)

		if got := ch.last(t); got != Info(InfoUpdated) {
			t.Errorf("reply = %+v", got)
		}
		if _, ok := h.store.Snapshot(testMAC); ok {
			t.Error("update must not create a device")
		}
		if ev := h.events.all(); len(ev) != 1 || ev[0].kind != "update" {
			t.Errorf("events = %v, want one update", ev)
		}
	})
}

func TestDisconnect(t *testing.T) {
	h := newHarness()
	h.store.Seed(seeded(true))
	ch := newFakeChannel("c1")
	h.dispatcher.Registry().Put(testMAC, ch)

	h.handle(ch, `{"messageType":"disconnect","macAddress":"AA:BB:CC:DD:EE:01"}`)

	if got := ch.last(t); got != Info(InfoDisconnected) {
		t.Errorf("reply = %+v", got)
	}
	if d, _ := h.store.Snapshot(testMAC); d.IsConnected {
		t.Error("device still marked connected")
	}
	if h.dispatcher.Registry().Len() != 0 {
		t.Error("registry entry not removed")
	}
	if ev := h.events.all(); len(ev) != 1 || ev[0] != (recordedEvent{"disconnect", testMAC}) {
		t.Errorf("events = %v, want one disconnect", ev)
	}
}

func TestShutdown_NotInRegistry(t *testing.T) {
	h := newHarness()
	h.store.Seed(seeded(true))
	ch := newFakeChannel("c1")

	h.handle(ch, `{"messageType":"shutdown","macAddress":"AA:BB:CC:DD:EE:01"}`)

	if msgs := ch.messages(); len(msgs) != 0 {
		t.Errorf("shutdown should not reply, sent %+v", msgs)
	}
	if d, _ := h.store.Snapshot(testMAC); d.IsConnected {
		t.Error("device still marked connected")
	}
	if ev := h.events.all(); len(ev) != 1 || ev[0] != (recordedEvent{"shutdown", testMAC}) {
		t.Errorf("events = %v, want one shutdown", ev)
	}
}

func TestClosed_SweepsEveryServedMAC(t *testing.T) {
	h := newHarness()
	other := seeded(true)
	other.MACAddress = "AA:BB:CC:DD:EE:02"
	h.store.Seed(seeded(true), other)

	ch, bystander := newFakeChannel("c1"), newFakeChannel("c2")
	h.dispatcher.Registry().Put(testMAC, ch)
	h.dispatcher.Registry().Put("AA:BB:CC:DD:EE:02", ch)
	h.dispatcher.Registry().Put("AA:BB:CC:DD:EE:03", bystander)

	h.dispatcher.Closed(context.Background(), ch)

	for _, mac := range []string{testMAC, "AA:BB:CC:DD:EE:02"} {
		d, _ := h.store.Snapshot(mac)
		if d.IsConnected || d.LastSeen == nil {
			t.Errorf("%s = %+v, want disconnected with last seen", mac, d)
		}
	}
	if h.dispatcher.Registry().Len() != 1 {
		t.Errorf("registry has %d entries, want only the bystander", h.dispatcher.Registry().Len())
	}
	if ev := h.events.all(); len(ev) != 2 {
		t.Errorf("events = %v, want two disconnects", ev)
	}
}

type panickingStore struct {
	*devicetest.MemoryStore
}

func (panickingStore) Get(context.Context, string) (*device.Device, error) {
	panic("store exploded")
}

func TestDispatcher_ProcessorFailures(t *testing.T) {
	t.Run("store error", func(t *testing.T) {
		h := newHarness()
		h.store.SetErr(errors.New("disk full"))
		ch := newFakeChannel("c1")

		h.handle(ch, `{"messageType":"register","macAddress":"AA:BB:CC:DD:EE:01","ipAddress":"1","machineName":"m","userId":"u1"}`)

		if got := ch.last(t); got != Error("Failed to register/update device") {
			t.Errorf("reply = %+v", got)
		}
	})

	t.Run("panic recovered", func(t *testing.T) {
		d := NewDispatcher(panickingStore{devicetest.NewMemoryStore()}, NewRegistry(), nil)
		ch := newFakeChannel("c1")

		d.Handle(context.Background(), ch, []byte(`{"messageType":"exists","macAddress":"AA:BB:CC:DD:EE:01"}`))

		if got := ch.last(t); got != Error("Server error processing message") {
			t.Errorf("reply = %+v", got)
		}
	})
}
