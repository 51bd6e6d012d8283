package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// Publisher is the subset of Client used by Broker.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// CommandMessage is published to a device command topic.
type CommandMessage struct {
	Command    string `json:"command"`
	MACAddress string `json:"macAddress"`
	Timestamp  string `json:"timestamp"`
}

// EventMessage mirrors a dashboard device event. It carries no device body.
type EventMessage struct {
	Event      string `json:"event"`
	MACAddress string `json:"macAddress"`
	Timestamp  string `json:"timestamp"`
}

// Ack is an agent's acknowledgement of a command.
type Ack struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Broker publishes fleetlink commands and events over a Publisher.
type Broker struct {
	pub Publisher
	qos byte
	now func() time.Time
}

// NewBroker creates a broker using qos for subscriptions.
func NewBroker(pub Publisher, qos byte) *Broker {
	return &Broker{pub: pub, qos: qos, now: time.Now}
}

func (b *Broker) timestamp() string {
	return b.now().UTC().Format(time.RFC3339)
}

// PublishCommand sends command to the device's command topic.
func (b *Broker) PublishCommand(mac, command string) error {
	return b.pub.PublishJSON(Topics{}.DeviceCommand(mac), CommandMessage{
		Command:    command,
		MACAddress: mac,
		Timestamp:  b.timestamp(),
	}, false)
}

// PublishEvent mirrors a device event to the device's event topic.
func (b *Broker) PublishEvent(mac, event string) error {
	return b.pub.PublishJSON(Topics{}.DeviceEvent(mac), EventMessage{
		Event:      event,
		MACAddress: mac,
		Timestamp:  b.timestamp(),
	}, false)
}

// OnAck subscribes to every device acknowledgement topic.
func (b *Broker) OnAck(fn func(mac string, ack Ack)) error {
	return b.pub.Subscribe(Topics{}.AllDeviceAcks(), b.qos, func(topic string, payload []byte) error {
		mac, ok := MACFromTopic(topic, "ack")
		if !ok {
			return fmt.Errorf("unexpected ack topic %q", topic)
		}
		var ack Ack
		if err := json.Unmarshal(payload, &ack); err != nil {
			return fmt.Errorf("decoding ack from %s: %w", mac, err)
		}
		fn(mac, ack)
		return nil
	})
}
