// Package devicetest provides an in-memory device.Store for tests.
package devicetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/device"
)

// MemoryStore is a mutex-guarded in-memory device.Store with error injection.
type MemoryStore struct {
	mu      sync.Mutex
	devices map[string]device.Device
	owners  map[string]device.Owner

	// Err, when set, is returned by every operation.
	Err error

	// Updates records every successful Update call in order.
	Updates []Update
}

// Update is one recorded call to MemoryStore.Update.
type Update struct {
	MAC   string
	Patch device.Patch
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]device.Device),
		owners:  make(map[string]device.Owner),
	}
}

// Seed inserts devices directly, bypassing validation.
func (m *MemoryStore) Seed(devices ...device.Device) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range devices {
		m.devices[d.MACAddress] = d
	}
	return m
}

// AddOwner makes a user resolvable by ListWithOwners.
func (m *MemoryStore) AddOwner(o device.Owner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[o.ID] = o
}

// SetErr sets the injected error under the lock.
func (m *MemoryStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Snapshot returns a copy of a device without going through Get's error injection.
func (m *MemoryStore) Snapshot(mac string) (device.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[mac]
	return d, ok
}

// UpdateCount returns the number of successful updates.
func (m *MemoryStore) UpdateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Updates)
}

// Get implements device.Store.
func (m *MemoryStore) Get(_ context.Context, mac string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	d, ok := m.devices[mac]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return &d, nil
}

// Create implements device.Store.
func (m *MemoryStore) Create(_ context.Context, d *device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.devices[d.MACAddress]; ok {
		return device.ErrDeviceExists
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	m.devices[d.MACAddress] = *d
	return nil
}

// Update implements device.Store.
func (m *MemoryStore) Update(_ context.Context, mac string, p device.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	d, ok := m.devices[mac]
	if !ok {
		return device.ErrDeviceNotFound
	}
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.IPAddress != nil {
		d.IPAddress = *p.IPAddress
	}
	if p.IsConnected != nil {
		d.IsConnected = *p.IsConnected
	}
	if p.Hardware != nil {
		d.Hardware = p.Hardware
	}
	if p.LastSeen != nil {
		t := *p.LastSeen
		d.LastSeen = &t
	}
	d.UpdatedAt = time.Now().UTC()
	m.devices[mac] = d
	m.Updates = append(m.Updates, Update{MAC: mac, Patch: p})
	return nil
}

// OwnerOf implements device.Store.
func (m *MemoryStore) OwnerOf(_ context.Context, mac string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	d, ok := m.devices[mac]
	if !ok {
		return "", device.ErrDeviceNotFound
	}
	return d.UserID, nil
}

// ListByOwner implements device.Store.
func (m *MemoryStore) ListByOwner(_ context.Context, userID string) ([]device.Device, error) {
	return m.filter(func(d device.Device) bool { return d.UserID == userID })
}

// ListConnected implements device.Store.
func (m *MemoryStore) ListConnected(_ context.Context) ([]device.Device, error) {
	return m.filter(func(d device.Device) bool { return d.IsConnected })
}

// ListWithOwners implements device.Store.
func (m *MemoryStore) ListWithOwners(_ context.Context) ([]device.DeviceWithOwner, error) {
	all, err := m.filter(func(device.Device) bool { return true })
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.DeviceWithOwner, 0, len(all))
	for _, d := range all {
		dw := device.DeviceWithOwner{Device: d}
		if o, ok := m.owners[d.UserID]; ok {
			dw.Owner = &o
		}
		out = append(out, dw)
	}
	return out, nil
}

func (m *MemoryStore) filter(keep func(device.Device) bool) ([]device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []device.Device
	for _, d := range m.devices {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].MACAddress < out[j].MACAddress
	})
	return out, nil
}

var _ device.Store = (*MemoryStore)(nil)
