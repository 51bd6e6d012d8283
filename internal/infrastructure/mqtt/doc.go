// Package mqtt connects fleetlink to an optional MQTT broker.
//
// The broker carries three things:
//   - the retained service status on fleetlink/system/status, with a Last
//     Will so subscribers see the service go offline if it crashes
//   - shutdown commands on fleetlink/command/<mac> when no direct channel to
//     the device is available
//   - a mirror of device lifecycle events on fleetlink/event/<mac>
//
// Agents that take commands over the broker acknowledge them on
// fleetlink/ack/<mac>.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	broker := mqtt.NewBroker(client, byte(cfg.MQTT.QoS))
//	err = broker.PublishCommand("AA:BB:CC:DD:EE:01", "shutdown")
package mqtt
