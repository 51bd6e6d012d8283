package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/agent"
	"github.com/nerrad567/fleetlink-core/internal/audit"
	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/tasks"
)

// CommandEvent is the dashboard event that carries a shutdown command.
const CommandEvent = "shutdown-command"

// CommandPayload is the body of CommandEvent.
type CommandPayload struct {
	MACAddress string `json:"macAddress"`
}

// Path identifies which delivery route carried a command.
type Path string

const (
	PathSession Path = "session"
	PathAgent   Path = "agent"
	PathRoom    Path = "room"
)

// Target is a dashboard channel that can receive a named event.
type Target interface {
	ID() string
	Emit(event string, payload any) error
}

// Sessions looks up dashboard channels associated with a device.
type Sessions interface {
	// Session returns the channel registered for (ownerID, mac).
	Session(ownerID, mac string) (Target, bool)
	// RoomMembers returns every channel that joined the device's room.
	RoomMembers(mac string) []Target
}

// Publisher sends a command to a device over the message broker.
type Publisher interface {
	PublishCommand(mac, command string) error
}

// Events receives shutdown notifications for fan-out.
type Events interface {
	DeviceShutdown(mac string)
}

// Logger is the logging interface used by the relay.
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

// Requester identifies who asked for a shutdown. Session is the dashboard
// channel the request arrived on, nil for HTTP callers. Source labels the
// audit entry.
type Requester struct {
	UserID  string
	IsAdmin bool
	Session Target
	Source  string
}

// Relay authorises and delivers shutdown commands.
type Relay struct {
	store     device.Store
	agents    *agent.Registry
	sessions  Sessions
	events    Events
	tasks     tasks.Scheduler
	audit     *audit.Recorder
	publisher Publisher
	logger    Logger
	now       func() time.Time
}

// New creates a relay. sessions may be nil when no dashboard hub exists.
func New(store device.Store, agents *agent.Registry, sessions Sessions, events Events, sched tasks.Scheduler) *Relay {
	return &Relay{
		store:    store,
		agents:   agents,
		sessions: sessions,
		events:   events,
		tasks:    sched,
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the relay.
func (r *Relay) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetAudit enables audit entries for delivery attempts.
func (r *Relay) SetAudit(rec *audit.Recorder) {
	r.audit = rec
}

// SetPublisher enables mirroring room-fallback commands to the broker.
func (r *Relay) SetPublisher(p Publisher) {
	r.publisher = p
}

// SetSessions sets the dashboard session lookup. The hub and the relay
// reference each other, so one side is wired after construction.
func (r *Relay) SetSessions(s Sessions) {
	r.sessions = s
}

// Shutdown sends a shutdown command to mac on behalf of req.
//
// Delivery tries the requester's own session, then the agent channel, then
// every member of the device room. The room fallback also publishes the
// command to the broker, but only a channel that accepted the command makes
// the attempt a success. On success the disconnect is persisted and
// announced asynchronously; on failure stored state is left alone.
//
// Parameters:
//   - ctx: Context for the device lookup
//   - req: Who is asking, and the session the request arrived on
//   - mac: Device hardware address in any accepted notation
//
// Returns:
//   - Path: The route that carried the command
//   - error: ErrInvalidMAC, ErrDeviceNotFound, ErrNotOwned, ErrNotConnected,
//     ErrDeliveryFailed, or a wrapped store error
func (r *Relay) Shutdown(ctx context.Context, req Requester, mac string) (Path, error) {
	mac, err := device.NormalizeMAC(mac)
	if err != nil {
		return "", ErrInvalidMAC
	}

	d, err := r.authorize(ctx, req, mac)
	if err != nil {
		r.logger.Info("shutdown rejected",
			"mac_address", mac, "user_id", req.UserID, "is_admin", req.IsAdmin, "reason", err)
		return "", err
	}

	path, ok := r.deliver(req, d)
	r.record(req, mac, path, ok)
	if !ok {
		r.logger.Warn("shutdown delivery failed", "mac_address", mac, "user_id", req.UserID)
		return "", ErrDeliveryFailed
	}

	r.logger.Info("shutdown command sent", "mac_address", mac, "user_id", req.UserID, "path", path)
	r.reconcile(mac)
	return path, nil
}

func (r *Relay) authorize(ctx context.Context, req Requester, mac string) (*device.Device, error) {
	d, err := r.store.Get(ctx, mac)
	if errors.Is(err, device.ErrDeviceNotFound) {
		if req.IsAdmin {
			return nil, ErrDeviceNotFound
		}
		return nil, ErrNotOwned
	}
	if err != nil {
		return nil, fmt.Errorf("looking up device %s: %w", mac, err)
	}
	if !req.IsAdmin && d.UserID != req.UserID {
		return nil, ErrNotOwned
	}
	if !d.IsConnected {
		return nil, ErrNotConnected
	}
	return d, nil
}

// deliver tries each path in order and stops at the first success.
func (r *Relay) deliver(req Requester, d *device.Device) (Path, bool) {
	mac := d.MACAddress
	payload := CommandPayload{MACAddress: mac}

	if req.Session != nil && req.UserID == d.UserID && r.sessions != nil {
		if target, ok := r.sessions.Session(d.UserID, mac); ok {
			err := target.Emit(CommandEvent, payload)
			if err == nil {
				return PathSession, true
			}
			r.logger.Warn("session delivery failed", "mac_address", mac, "channel_id", target.ID(), "error", err)
		}
	}

	if ch, ok := r.agents.Get(mac); ok {
		err := ch.Send(agent.ShutdownCommand())
		if err == nil {
			return PathAgent, true
		}
		r.logger.Warn("agent delivery failed", "mac_address", mac, "channel_id", ch.ID(), "error", err)
	}

	delivered := false
	if r.sessions != nil {
		for _, target := range r.sessions.RoomMembers(mac) {
			if err := target.Emit(CommandEvent, payload); err != nil {
				r.logger.Debug("room delivery failed", "mac_address", mac, "channel_id", target.ID(), "error", err)
				continue
			}
			delivered = true
		}
	}
	// A broker publish succeeds with no subscriber, so it never counts as
	// delivery on its own.
	if r.publisher != nil {
		if err := r.publisher.PublishCommand(mac, agent.CommandShutdown); err != nil {
			r.logger.Warn("broker publish failed", "mac_address", mac, "error", err)
		}
	}
	return PathRoom, delivered
}

// reconcile persists the disconnect and announces the shutdown off the
// request path.
func (r *Relay) reconcile(mac string) {
	at := r.now()
	accepted := r.tasks.Submit("shutdown-reconcile", func(ctx context.Context) {
		if err := r.store.Update(ctx, mac, device.ConnectionPatch(false, at)); err != nil {
			r.logger.Error("persisting shutdown failed", "mac_address", mac, "error", err)
		}
		if r.events != nil {
			r.events.DeviceShutdown(mac)
		}
	})
	if !accepted {
		r.logger.Warn("shutdown reconciliation dropped", "mac_address", mac)
	}
}

func (r *Relay) record(req Requester, mac string, path Path, ok bool) {
	details := map[string]any{"command": agent.CommandShutdown, "success": ok}
	if ok {
		details["path"] = string(path)
	}
	r.audit.Record(audit.Entry{
		Action:     audit.ActionCommand,
		EntityType: audit.EntityTypeDevice,
		EntityID:   mac,
		UserID:     req.UserID,
		Source:     req.Source,
		Details:    details,
	})
}
