package relay

import "errors"

// Relay errors. Message maps each to the text shown to callers.
var (
	ErrInvalidMAC     = errors.New("relay: invalid MAC address")
	ErrDeviceNotFound = errors.New("relay: device not found")
	ErrNotOwned       = errors.New("relay: device not found or not owned")
	ErrNotConnected   = errors.New("relay: device not connected")
	ErrDeliveryFailed = errors.New("relay: delivery failed")
)

// Message returns the caller-facing text for a relay error.
func Message(err error) string {
	switch {
	case err == nil:
		return "Shutdown command sent successfully"
	case errors.Is(err, ErrInvalidMAC):
		return "A valid MAC address is required"
	case errors.Is(err, ErrDeviceNotFound):
		return "Device not found"
	case errors.Is(err, ErrNotOwned):
		return "Device not found or does not belong to user"
	case errors.Is(err, ErrNotConnected):
		return "Device is not connected"
	case errors.Is(err, ErrDeliveryFailed):
		return "Failed to send shutdown command to device"
	default:
		return "Internal server error"
	}
}
