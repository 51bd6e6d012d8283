package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/device"
)

// register creates or refreshes a device and binds its MAC to ch.
func (d *Dispatcher) register(ctx context.Context, ch Channel, m Register) error {
	now := d.now()

	existing, err := d.store.Get(ctx, m.MACAddress)
	switch {
	case err == nil:
		connected := true
		patch := device.Patch{
			Name:        &m.MachineName,
			IPAddress:   &m.IPAddress,
			IsConnected: &connected,
			Hardware:    m.Hardware,
			LastSeen:    &now,
		}
		if err := d.store.Update(ctx, m.MACAddress, patch); err != nil {
			return fmt.Errorf("updating registered device: %w", err)
		}

		d.bind(m.MACAddress, ch)
		if existing.IsConnected {
			d.reply(ch, Info(InfoUpdated))
		} else {
			d.reply(ch, Info(InfoReconnected))
		}
		d.logger.Info("agent re-registered", "mac_address", m.MACAddress, "name", m.MachineName)

	case errors.Is(err, device.ErrDeviceNotFound):
		if m.UserID == "" {
			return ErrOwnerRequired
		}
		dev := &device.Device{
			MACAddress:  m.MACAddress,
			UserID:      m.UserID,
			Name:        m.MachineName,
			IPAddress:   m.IPAddress,
			IsConnected: true,
			Hardware:    m.Hardware,
			LastSeen:    &now,
		}
		if err := d.store.Create(ctx, dev); err != nil {
			return fmt.Errorf("creating device: %w", err)
		}

		d.bind(m.MACAddress, ch)
		d.reply(ch, Info(InfoRegistered))
		d.logger.Info("agent registered", "mac_address", m.MACAddress, "name", m.MachineName, "user_id", m.UserID)

	default:
		return fmt.Errorf("looking up device: %w", err)
	}

	d.events.DeviceUpdated(m.MACAddress)
	d.recordHardware(m.MACAddress, m.Hardware, now)
	return nil
}

// exists answers whether a MAC is registered. Read-only.
func (d *Dispatcher) exists(ctx context.Context, ch Channel, m Exists) error {
	dev, err := d.store.Get(ctx, m.MACAddress)
	switch {
	case err == nil:
		d.reply(ch, Outbound{MessageType: TypeExists, Payload: ExistsPayload{
			Exists:      true,
			Name:        &dev.Name,
			IsConnected: &dev.IsConnected,
		}})
	case errors.Is(err, device.ErrDeviceNotFound):
		d.reply(ch, Outbound{MessageType: TypeExists, Payload: ExistsPayload{Exists: false}})
	default:
		return fmt.Errorf("looking up device: %w", err)
	}
	return nil
}

// update writes the reported state without an existence check.
// Updating an unknown MAC changes nothing but is still acknowledged.
func (d *Dispatcher) update(ctx context.Context, ch Channel, m Update) error {
	now := d.now()
	connected := true
	patch := device.Patch{
		Name:        &m.MachineName,
		IPAddress:   &m.IPAddress,
		IsConnected: &connected,
		Hardware:    m.Hardware,
		LastSeen:    &now,
	}
	if err := d.store.Update(ctx, m.MACAddress, patch); err != nil {
		if !errors.Is(err, device.ErrDeviceNotFound) {
			return fmt.Errorf("updating device: %w", err)
		}
		d.logger.Warn("update for unregistered device", "mac_address", m.MACAddress)
	}

	d.reply(ch, Info(InfoUpdated))
	d.events.DeviceUpdated(m.MACAddress)
	d.recordHardware(m.MACAddress, m.Hardware, now)
	return nil
}

// disconnect handles an agent leaving cleanly.
func (d *Dispatcher) disconnect(ctx context.Context, ch Channel, m Disconnect) error {
	if err := d.markDisconnected(ctx, m.MACAddress); err != nil {
		return err
	}
	d.agents.Remove(m.MACAddress)
	d.reply(ch, Info(InfoDisconnected))
	d.events.DeviceDisconnected(m.MACAddress)
	d.logger.Info("agent disconnected", "mac_address", m.MACAddress, "channel_id", ch.ID())
	return nil
}

// shutdown handles an agent reporting it is powering off. No reply is sent;
// the agent is about to go away.
func (d *Dispatcher) shutdown(ctx context.Context, ch Channel, m Shutdown) error {
	if err := d.markDisconnected(ctx, m.MACAddress); err != nil {
		return err
	}
	d.agents.Remove(m.MACAddress)
	d.events.DeviceShutdown(m.MACAddress)
	d.logger.Info("agent shutting down", "mac_address", m.MACAddress, "channel_id", ch.ID())
	return nil
}

func (d *Dispatcher) markDisconnected(ctx context.Context, mac string) error {
	err := d.store.Update(ctx, mac, device.ConnectionPatch(false, d.now()))
	if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
		return fmt.Errorf("marking device disconnected: %w", err)
	}
	return nil
}

// bind points mac at ch. A different channel previously holding the MAC keeps
// running but no longer receives commands for it.
func (d *Dispatcher) bind(mac string, ch Channel) {
	if prev, replaced := d.agents.Put(mac, ch); replaced && prev != ch {
		d.logger.Info("agent channel replaced",
			"mac_address", mac, "old_channel_id", prev.ID(), "channel_id", ch.ID())
	}
}

func (d *Dispatcher) recordHardware(mac string, hw *device.Hardware, at time.Time) {
	if d.telemetry == nil || hw == nil {
		return
	}
	d.telemetry.WriteHardware(mac, hw, at)
}
