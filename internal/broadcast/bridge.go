package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/fleetlink-core/internal/agent"
	"github.com/nerrad567/fleetlink-core/internal/dashboard"
	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/relay"
	"github.com/nerrad567/fleetlink-core/internal/tasks"
)

// ErrNoAudience is returned by the synchronous emitters before Attach.
var ErrNoAudience = errors.New("broadcast: no audience attached")

// Audience enumerates live dashboard channels. dashboard.Hub implements it.
type Audience interface {
	Recipients(ownerID string) []dashboard.Channel
	All() []dashboard.Channel
}

// Mirror republishes scoped events outside the process, e.g. to MQTT.
type Mirror interface {
	PublishEvent(mac, event string) error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

var (
	_ agent.Events     = (*Bridge)(nil)
	_ dashboard.Events = (*Bridge)(nil)
	_ relay.Events     = (*Bridge)(nil)
)

// Bridge computes the authorized recipients of each device event and emits to them.
type Bridge struct {
	store    device.Store
	sched    tasks.Scheduler
	audience Audience
	mirror   Mirror
	logger   Logger
}

// NewBridge creates a bridge reading owners from store and running fan-out on sched.
func NewBridge(store device.Store, sched tasks.Scheduler) *Bridge {
	return &Bridge{store: store, sched: sched, logger: noopLogger{}}
}

// Attach sets the channel source. Call before any event can fire.
func (b *Bridge) Attach(a Audience) {
	b.audience = a
}

// SetMirror enables event mirroring.
func (b *Bridge) SetMirror(m Mirror) {
	b.mirror = m
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// DeviceUpdated schedules a device-update broadcast carrying the full record.
func (b *Bridge) DeviceUpdated(mac string) {
	b.schedule(dashboard.EventDeviceUpdate, mac, b.Update)
}

// DeviceDisconnected schedules a device-disconnect broadcast.
func (b *Bridge) DeviceDisconnected(mac string) {
	b.schedule(dashboard.EventDeviceDisconnect, mac, b.Disconnect)
}

// DeviceShutdown schedules a device-shutdown broadcast.
func (b *Bridge) DeviceShutdown(mac string) {
	b.schedule(dashboard.EventDeviceShutdown, mac, b.Shutdown)
}

func (b *Bridge) schedule(event, mac string, run func(context.Context, string) (int, error)) {
	ok := b.sched.Submit("broadcast "+event, func(ctx context.Context) {
		// run logs its own failures.
		_, _ = run(ctx, mac)
	})
	if !ok {
		b.logger.Warn("broadcast dropped", "event", event, "mac_address", mac)
	}
}

// Update emits device-update with the stored record to the owner and admins.
//
// The payload is the full device, last seen formatted as RFC 3339 or null.
// A recipient that fails to accept the event is logged and skipped.
//
// Parameters:
//   - ctx: Context for the device lookup
//   - mac: Canonical hardware address of the device
//
// Returns:
//   - int: Number of channels that accepted the event
//   - error: Wrapped device.ErrDeviceNotFound or store error; nothing is emitted
func (b *Bridge) Update(ctx context.Context, mac string) (int, error) {
	d, err := b.store.Get(ctx, mac)
	if err != nil {
		b.logLookup(dashboard.EventDeviceUpdate, mac, err)
		return 0, fmt.Errorf("loading device %s: %w", mac, err)
	}
	return b.scoped(d.UserID, dashboard.EventDeviceUpdate, mac, d)
}

// Disconnect emits device-disconnect with the MAC to the owner and admins.
func (b *Bridge) Disconnect(ctx context.Context, mac string) (int, error) {
	return b.byOwner(ctx, dashboard.EventDeviceDisconnect, mac)
}

// Shutdown emits device-shutdown with the MAC to the owner and admins.
func (b *Bridge) Shutdown(ctx context.Context, mac string) (int, error) {
	return b.byOwner(ctx, dashboard.EventDeviceShutdown, mac)
}

func (b *Bridge) byOwner(ctx context.Context, event, mac string) (int, error) {
	owner, err := b.store.OwnerOf(ctx, mac)
	if err != nil {
		b.logLookup(event, mac, err)
		return 0, fmt.Errorf("loading owner of %s: %w", mac, err)
	}
	return b.scoped(owner, event, mac, mac)
}

func (b *Bridge) logLookup(event, mac string, err error) {
	if errors.Is(err, device.ErrDeviceNotFound) {
		b.logger.Warn("broadcast skipped, device not found", "event", event, "mac_address", mac)
		return
	}
	b.logger.Error("broadcast lookup failed", "event", event, "mac_address", mac, "error", err)
}

func (b *Bridge) scoped(owner, event, mac string, payload any) (int, error) {
	if b.audience == nil {
		return 0, ErrNoAudience
	}
	sent := b.emit(b.audience.Recipients(owner), event, payload)
	b.logger.Debug("broadcast sent", "event", event, "mac_address", mac, "recipients", sent)

	if b.mirror != nil {
		if err := b.mirror.PublishEvent(mac, event); err != nil {
			b.logger.Warn("broadcast mirror failed", "event", event, "mac_address", mac, "error", err)
		}
	}
	return sent, nil
}

// EmitAll sends event to every live channel regardless of identity.
func (b *Bridge) EmitAll(event string, payload any) (int, error) {
	if b.audience == nil {
		return 0, ErrNoAudience
	}
	return b.emit(b.audience.All(), event, payload), nil
}

func (b *Bridge) emit(chans []dashboard.Channel, event string, payload any) int {
	sent := 0
	for _, ch := range chans {
		if err := ch.Emit(event, payload); err != nil {
			b.logger.Warn("broadcast emit failed", "event", event, "channel_id", ch.ID(), "error", err)
			continue
		}
		sent++
	}
	return sent
}
