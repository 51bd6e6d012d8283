package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every fleetlink topic.
const TopicPrefix = "fleetlink"

// Topics builds fleetlink topic names.
//
//	fleetlink/system/status        retained service status and LWT
//	fleetlink/command/<mac>        commands for one device
//	fleetlink/event/<mac>          device lifecycle events
//	fleetlink/ack/<mac>            command acknowledgements from agents
type Topics struct{}

// SystemStatus returns the retained service status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// DeviceCommand returns the command topic for mac.
func (Topics) DeviceCommand(mac string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, mac)
}

// DeviceEvent returns the event topic for mac.
func (Topics) DeviceEvent(mac string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, mac)
}

// DeviceAck returns the acknowledgement topic for mac.
func (Topics) DeviceAck(mac string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, mac)
}

// AllDeviceAcks matches every device acknowledgement topic.
func (Topics) AllDeviceAcks() string {
	return TopicPrefix + "/ack/+"
}

// MACFromTopic extracts the device address from a per-device topic of the
// given kind (command, event or ack).
func MACFromTopic(topic, kind string) (string, bool) {
	prefix := TopicPrefix + "/" + kind + "/"
	mac, ok := strings.CutPrefix(topic, prefix)
	if !ok || mac == "" || strings.Contains(mac, "/") {
		return "", false
	}
	return mac, true
}
