//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// These tests need a broker at 127.0.0.1:1883.
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func TestIntegration_CommandAckRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "fleetlink-int-core"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	broker := NewBroker(client, 1)
	acks := make(chan Ack, 1)
	if err := broker.OnAck(func(_ string, ack Ack) { acks <- ack }); err != nil {
		t.Fatalf("OnAck() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", client.SubscriptionCount())
	}

	// Play the agent: receive the command and acknowledge it.
	agentCfg := testConfig()
	agentCfg.Broker.ClientID = "fleetlink-int-agent"
	agent, err := Connect(agentCfg)
	if err != nil {
		t.Fatalf("Connect(agent) error = %v", err)
	}
	defer agent.Close()

	const mac = "AA:BB:CC:DD:EE:01"
	err = agent.Subscribe(Topics{}.DeviceCommand(mac), 1, func(string, []byte) error {
		return agent.PublishJSON(Topics{}.DeviceAck(mac), Ack{Command: "shutdown", Success: true}, false)
	})
	if err != nil {
		t.Fatalf("agent Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := broker.PublishCommand(mac, "shutdown"); err != nil {
		t.Fatalf("PublishCommand() error = %v", err)
	}

	select {
	case ack := <-acks:
		if !ack.Success {
			t.Errorf("ack = %+v", ack)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no ack received")
	}
}
