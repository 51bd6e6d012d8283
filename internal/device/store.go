package device

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store defines device persistence operations.
// Implementations must be safe for concurrent use; writes are last-write-wins.
type Store interface {
	// Get retrieves a device by MAC address.
	// Returns ErrDeviceNotFound if the device does not exist.
	Get(ctx context.Context, mac string) (*Device, error)

	// Create inserts a new device. CreatedAt and UpdatedAt are set when zero.
	// Returns ErrDeviceExists if the MAC address is already registered.
	Create(ctx context.Context, d *Device) error

	// Update applies a partial update and bumps UpdatedAt.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, mac string, p Patch) error

	// OwnerOf returns the owning user id of a device.
	// Returns ErrDeviceNotFound if the device does not exist.
	OwnerOf(ctx context.Context, mac string) (string, error)

	// ListByOwner returns the devices owned by userID, ordered by name.
	ListByOwner(ctx context.Context, userID string) ([]Device, error)

	// ListWithOwners returns every device joined with its owner, ordered by name.
	ListWithOwners(ctx context.Context) ([]DeviceWithOwner, error)

	// ListConnected returns every device whose connectivity flag is set.
	ListConnected(ctx context.Context) ([]Device, error)
}

func marshalHardware(h *Hardware) (*string, error) {
	if h == nil {
		return nil, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshalling hardware: %w", err)
	}
	s := string(b)
	return &s, nil
}

func unmarshalHardware(s *string) (*Hardware, error) {
	if s == nil || *s == "" || *s == "null" {
		return nil, nil
	}
	var h Hardware
	if err := json.Unmarshal([]byte(*s), &h); err != nil {
		return nil, fmt.Errorf("unmarshalling hardware: %w", err)
	}
	return &h, nil
}
