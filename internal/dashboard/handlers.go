package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/fleetlink-core/internal/auth"
	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/relay"
)

const (
	msgAuthFailed        = "Authentication failed"
	msgAlreadyAuthed     = "Already authenticated"
	msgNotAuthenticated  = "Not authenticated"
	msgRegisterFailed    = "Cannot register device"
	msgDevicesFailed     = "Failed to get devices"
	msgShutdownUnhandled = "Shutdown is not available"
)

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

func (h *Hub) handleAuth(_ context.Context, ch Channel, data json.RawMessage) {
	var creds auth.Credentials
	if err := decode(data, &creds); err != nil {
		h.emit(ch, EventAuthError, ErrorPayload{Message: msgAuthFailed})
		return
	}

	if _, ok := h.Identity(ch); ok {
		h.emit(ch, EventAuthError, ErrorPayload{Message: msgAlreadyAuthed})
		return
	}

	id, err := h.verifier.Verify(creds)
	if err != nil {
		h.logger.Info("dashboard auth rejected", "channel_id", ch.ID(), "error", err)
		h.emit(ch, EventAuthError, ErrorPayload{Message: msgAuthFailed})
		return
	}

	if err := h.authenticate(ch, id); err != nil {
		h.emit(ch, EventAuthError, ErrorPayload{Message: errorMessage(err, msgAuthFailed)})
		return
	}

	h.logger.Info("dashboard authenticated", "channel_id", ch.ID(), "user_id", id.UserID, "is_admin", id.IsAdmin)
	h.emit(ch, EventAuthSuccess, id)
}

func (h *Hub) handleRegister(ctx context.Context, ch Channel, data json.RawMessage) {
	id, err := h.requireIdentity(ch)
	if err != nil {
		h.emit(ch, EventRegisterError, ErrorPayload{Message: errorMessage(err, msgRegisterFailed)})
		return
	}

	var req RegisterRequest
	if err = decode(data, &req); err != nil {
		h.emit(ch, EventRegisterError, ErrorPayload{Message: msgRegisterFailed})
		return
	}

	mac, err := h.registerDevice(ctx, ch, id, req)
	if err != nil {
		h.logger.Warn("dashboard device registration failed",
			"channel_id", ch.ID(), "user_id", id.UserID, "mac_address", req.MACAddress, "error", err)
		h.emit(ch, EventRegisterError, ErrorPayload{Message: msgRegisterFailed})
		return
	}

	h.emit(ch, EventRegisterSuccess, RegisterSuccess{MACAddress: mac})
	h.events.DeviceUpdated(mac)
}

// registerDevice marks the device connected and binds it to ch.
func (h *Hub) registerDevice(ctx context.Context, ch Channel, id auth.Identity, req RegisterRequest) (string, error) {
	mac, err := device.NormalizeMAC(req.MACAddress)
	if err != nil {
		return "", err
	}

	d, err := h.store.Get(ctx, mac)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return "", ErrNotAllowed
	}
	if err != nil {
		return "", err
	}
	if !id.CanAccess(d.UserID) {
		return "", ErrNotAllowed
	}

	patch := device.ConnectionPatch(true, h.now())
	if req.IPAddress != "" {
		if err := device.ValidateIP(req.IPAddress); err != nil {
			return "", err
		}
		patch.IPAddress = &req.IPAddress
	}
	if err := h.store.Update(ctx, mac, patch); err != nil {
		return "", err
	}

	key := SessionKey{UserID: d.UserID, MAC: mac}
	if prev, replaced := h.sessions.Put(key, ch); replaced && prev != ch {
		h.logger.Debug("dashboard session replaced", "mac_address", mac, "old_channel_id", prev.ID())
	}
	h.rooms.Join(UserRoom(id.UserID), ch)
	h.rooms.Join(DeviceRoom(mac), ch)

	h.logger.Info("dashboard device registered", "user_id", id.UserID, "owner_id", d.UserID, "mac_address", mac)
	return mac, nil
}

func (h *Hub) handleGetDevices(ctx context.Context, ch Channel, data json.RawMessage) {
	var req GetDevicesRequest
	_ = decode(data, &req) //nolint:errcheck // a bad payload just means no request id

	errEvent := withRequestID(EventDevicesErr, req.RequestID)
	id, err := h.requireIdentity(ch)
	if err != nil {
		h.emit(ch, errEvent, DevicesError{Message: errorMessage(err, msgDevicesFailed)})
		return
	}

	list, err := ListDevices(ctx, h.store, id)
	if err != nil {
		h.logger.Error("listing devices failed", "user_id", id.UserID, "error", err)
		h.emit(ch, errEvent, DevicesError{Message: msgDevicesFailed})
		return
	}
	h.emit(ch, withRequestID(EventDevicesList, req.RequestID), list)
}

func (h *Hub) handleShutdown(ctx context.Context, ch Channel, data json.RawMessage) {
	var req ShutdownRequest
	if err := decode(data, &req); err != nil {
		h.emit(ch, EventShutdownResponse, ShutdownResponse{Message: relay.Message(relay.ErrInvalidMAC)})
		return
	}

	resp := ShutdownResponse{MACAddress: req.MACAddress}
	id, idErr := h.requireIdentity(ch)
	switch {
	case idErr != nil:
		resp.Message = errorMessage(idErr, msgShutdownUnhandled)
	case h.relay == nil:
		resp.Message = msgShutdownUnhandled
	default:
		_, err := h.relay.Shutdown(ctx, relay.Requester{
			UserID:  id.UserID,
			IsAdmin: id.IsAdmin,
			Session: ch,
			Source:  "dashboard",
		}, req.MACAddress)
		resp.Success = err == nil
		resp.Message = relay.Message(err)
		if mac, nerr := device.NormalizeMAC(req.MACAddress); nerr == nil {
			resp.MACAddress = mac
		}
	}
	h.emit(ch, EventShutdownResponse, resp)
}

// requireIdentity returns the identity bound to ch, or ErrUnauthenticated.
func (h *Hub) requireIdentity(ch Channel) (auth.Identity, error) {
	id, ok := h.Identity(ch)
	if !ok {
		return auth.Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// errorMessage maps a session error to the text sent back on the channel.
func errorMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return msgNotAuthenticated
	case errors.Is(err, ErrAlreadyAuthenticated):
		return msgAlreadyAuthed
	default:
		return fallback
	}
}

// ListDevices returns the devices visible to id: its own for users, every
// device joined with its owner for admins.
func ListDevices(ctx context.Context, store device.Store, id auth.Identity) (DevicesList, error) {
	if id.IsAdmin {
		devices, err := store.ListWithOwners(ctx)
		if err != nil {
			return DevicesList{}, fmt.Errorf("listing devices with owners: %w", err)
		}
		if devices == nil {
			devices = []device.DeviceWithOwner{}
		}
		return DevicesList{Success: true, Devices: devices, Count: len(devices), IsAdmin: true}, nil
	}

	devices, err := store.ListByOwner(ctx, id.UserID)
	if err != nil {
		return DevicesList{}, fmt.Errorf("listing devices for %s: %w", id.UserID, err)
	}
	if devices == nil {
		devices = []device.Device{}
	}
	return DevicesList{Success: true, Devices: devices, Count: len(devices)}, nil
}
