package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/infrastructure/config"
)

// testConfig returns a configuration pointing at a local broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fleetlink-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnected returns a client that never dialled a broker.
func disconnected() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

func TestTopics(t *testing.T) {
	const mac = "AA:BB:CC:DD:EE:01"
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"SystemStatus", Topics{}.SystemStatus(), "fleetlink/system/status"},
		{"DeviceCommand", Topics{}.DeviceCommand(mac), "fleetlink/command/AA:BB:CC:DD:EE:01"},
		{"DeviceEvent", Topics{}.DeviceEvent(mac), "fleetlink/event/AA:BB:CC:DD:EE:01"},
		{"DeviceAck", Topics{}.DeviceAck(mac), "fleetlink/ack/AA:BB:CC:DD:EE:01"},
		{"AllDeviceAcks", Topics{}.AllDeviceAcks(), "fleetlink/ack/+"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestMACFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		kind   string
		want   string
		wantOK bool
	}{
		{"fleetlink/ack/AA:BB:CC:DD:EE:01", "ack", "AA:BB:CC:DD:EE:01", true},
		{"fleetlink/event/AA:BB:CC:DD:EE:01", "ack", "", false},
		{"fleetlink/ack/", "ack", "", false},
		{"fleetlink/ack/a/b", "ack", "", false},
		{"other/ack/AA", "ack", "", false},
	}
	for _, tt := range tests {
		got, ok := MACFromTopic(tt.topic, tt.kind)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("MACFromTopic(%q, %q) = %q, %v; want %q, %v", tt.topic, tt.kind, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "svc", Password: "secret"}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "fleetlink-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "svc" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("expected clean session with auto-reconnect")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" || opts.TLSConfig == nil {
		t.Errorf("TLS broker = %v, tls config set = %v", opts.Servers[0], opts.TLSConfig != nil)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "fleetlink-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("will should be enabled and retained")
	}
	if opts.WillTopic != "fleetlink/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != statusOffline || p.Reason != reasonUnexpected || p.ClientID != "fleetlink-test" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal(buildStatusPayload("core-1", statusOnline, ""), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Status != "online" || p.Reason != "" {
		t.Errorf("payload = %+v", p)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC 3339", p.Timestamp)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := disconnected()
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"bad qos", "fleetlink/x", nil, 3, ErrInvalidQoS},
		{"oversized", "fleetlink/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "fleetlink/x", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := c.PublishJSON("fleetlink/x", make(chan int), false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(unmarshalable) error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnected()
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("fleetlink/#", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("fleetlink/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("fleetlink/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Error("failed subscriptions must not be tracked")
	}
}

func TestCloseAndHealthCheck_Disconnected(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	c := disconnected()
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never dialled")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestWrapHandler(t *testing.T) {
	c := disconnected()
	logger := &recordingLogger{}
	c.SetLogger(logger)
	msg := fakeMessage{topic: "fleetlink/ack/AA", payload: []byte("{}")}

	c.wrapHandler(func(string, []byte) error { return errors.New("bad ack") })(nil, msg)
	c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, msg)

	var seen string
	c.wrapHandler(func(topic string, _ []byte) error { seen = topic; return nil })(nil, msg)

	if len(logger.warns) != 1 || len(logger.errors) != 1 {
		t.Errorf("warns = %v, errors = %v; want one of each", logger.warns, logger.errors)
	}
	if seen != msg.topic {
		t.Errorf("handler saw topic %q", seen)
	}
}

type fakePublisher struct {
	topics   []string
	payloads []any
	handler  MessageHandler
	subTopic string
}

func (f *fakePublisher) PublishJSON(topic string, v any, _ bool) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, v)
	return nil
}

func (f *fakePublisher) Subscribe(topic string, _ byte, h MessageHandler) error {
	f.subTopic = topic
	f.handler = h
	return nil
}

func TestBroker_Publish(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBroker(pub, 1)
	b.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	if err := b.PublishCommand("AA:BB:CC:DD:EE:01", "shutdown"); err != nil {
		t.Fatalf("PublishCommand() error = %v", err)
	}
	if err := b.PublishEvent("AA:BB:CC:DD:EE:01", "device-shutdown"); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	if pub.topics[0] != "fleetlink/command/AA:BB:CC:DD:EE:01" || pub.topics[1] != "fleetlink/event/AA:BB:CC:DD:EE:01" {
		t.Errorf("topics = %v", pub.topics)
	}
	want := CommandMessage{Command: "shutdown", MACAddress: "AA:BB:CC:DD:EE:01", Timestamp: "2026-03-01T09:00:00Z"}
	if pub.payloads[0] != want {
		t.Errorf("command payload = %+v, want %+v", pub.payloads[0], want)
	}
	if ev := pub.payloads[1].(EventMessage); ev.Event != "device-shutdown" {
		t.Errorf("event payload = %+v", ev)
	}
}

func TestBroker_OnAck(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBroker(pub, 1)

	var gotMAC string
	var gotAck Ack
	if err := b.OnAck(func(mac string, ack Ack) { gotMAC, gotAck = mac, ack }); err != nil {
		t.Fatalf("OnAck() error = %v", err)
	}
	if pub.subTopic != "fleetlink/ack/+" {
		t.Errorf("subscribed to %q", pub.subTopic)
	}

	err := pub.handler("fleetlink/ack/AA:BB:CC:DD:EE:01", []byte(`{"command":"shutdown","success":true}`))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if gotMAC != "AA:BB:CC:DD:EE:01" || !gotAck.Success || gotAck.Command != "shutdown" {
		t.Errorf("ack = %s %+v", gotMAC, gotAck)
	}

	if err := pub.handler("fleetlink/ack/AA", []byte(`not json`)); err == nil || !strings.Contains(err.Error(), "decoding ack") {
		t.Errorf("bad payload error = %v", err)
	}
	if err := pub.handler("fleetlink/event/AA", []byte(`{}`)); err == nil {
		t.Error("expected error for a non-ack topic")
	}
}
