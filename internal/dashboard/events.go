package dashboard

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/fleetlink-core/internal/relay"
)

// Event names, inbound and outbound.
const (
	EventAuth        = "auth"
	EventAuthSuccess = "auth-success"
	EventAuthError   = "auth-error"

	EventRegisterDevice  = "register-device"
	EventRegisterSuccess = "register-success"
	EventRegisterError   = "register-error"

	EventGetDevices  = "get-devices"
	EventDevicesList = "devices-list"
	EventDevicesErr  = "devices-error"

	EventShutdownRequest  = "shutdown-request"
	EventShutdownResponse = "shutdown-response"
	EventShutdownCommand  = relay.CommandEvent

	EventDeviceUpdate     = "device-update"
	EventDeviceDisconnect = "device-disconnect"
	EventDeviceShutdown   = "device-shutdown"
)

// Envelope is a decoded inbound frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame is an outbound frame.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Encode marshals an outbound frame.
func Encode(event string, payload any) ([]byte, error) {
	b, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", event, err)
	}
	return b, nil
}

// ErrorPayload carries a failure message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RegisterRequest is the register-device payload.
type RegisterRequest struct {
	MACAddress string `json:"macAddress"`
	IPAddress  string `json:"ipAddress,omitempty"`
}

// RegisterSuccess acknowledges register-device.
type RegisterSuccess struct {
	MACAddress string `json:"macAddress"`
}

// GetDevicesRequest is the get-devices payload. A RequestID suffixes the
// response event so concurrent requests can be told apart.
type GetDevicesRequest struct {
	RequestID string `json:"requestId,omitempty"`
}

// DevicesList answers get-devices and the HTTP device listing. Devices holds
// []device.Device for users and []device.DeviceWithOwner for admins.
type DevicesList struct {
	Success bool `json:"success"`
	Devices any  `json:"devices"`
	Count   int  `json:"count"`
	IsAdmin bool `json:"isAdmin"`
}

// DevicesError reports a failed listing.
type DevicesError struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ShutdownRequest is the shutdown-request payload.
type ShutdownRequest struct {
	MACAddress string `json:"macAddress"`
}

// ShutdownResponse answers shutdown-request.
type ShutdownResponse struct {
	Success    bool   `json:"success"`
	MACAddress string `json:"macAddress"`
	Message    string `json:"message"`
}

// withRequestID suffixes event with the request id when one was given.
func withRequestID(event, requestID string) string {
	if requestID == "" {
		return event
	}
	return event + "-" + requestID
}
