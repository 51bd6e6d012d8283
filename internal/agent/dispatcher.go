package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/connection"
	"github.com/nerrad567/fleetlink-core/internal/device"
)

// Registry is the hardware connection registry: canonical MAC to live channel.
type Registry = connection.Registry[string, Channel]

// NewRegistry creates an empty hardware connection registry.
func NewRegistry() *Registry {
	return connection.NewRegistry[string, Channel]()
}

// Events receives device lifecycle notifications for fan-out to dashboards.
// Implementations must not block; fan-out happens in the background.
type Events interface {
	DeviceUpdated(mac string)
	DeviceDisconnected(mac string)
	DeviceShutdown(mac string)
}

// Telemetry records hardware usage figures. Implementations must not block.
type Telemetry interface {
	WriteHardware(mac string, hw *device.Hardware, at time.Time)
}

// Logger is the logging interface used by the dispatcher.
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

type noopEvents struct{}

func (noopEvents) DeviceUpdated(string)      {}
func (noopEvents) DeviceDisconnected(string) {}
func (noopEvents) DeviceShutdown(string)     {}

// Reply texts for failures that are not the caller's fault.
const (
	replyFormat      = "Invalid message format: messageType is required"
	replyServerError = "Server error processing message"
)

// failureReplies is the generic error reply per kind when a processor fails.
var failureReplies = map[Kind]string{
	KindRegister:   "Failed to register/update device",
	KindExists:     "Failed to check device existence",
	KindUpdate:     "Failed to update device",
	KindDisconnect: "Failed to disconnect device",
	KindShutdown:   "Failed to process shutdown",
}

type processor func(ctx context.Context, ch Channel, msg Message) error

// Dispatcher validates inbound agent frames and runs the matching processor.
type Dispatcher struct {
	store     device.Store
	agents    *Registry
	events    Events
	telemetry Telemetry
	logger    Logger
	now       func() time.Time

	processors map[Kind]processor
}

// NewDispatcher creates a dispatcher over the given store and registry.
// events may be nil when nothing listens for device changes.
func NewDispatcher(store device.Store, agents *Registry, events Events) *Dispatcher {
	if events == nil {
		events = noopEvents{}
	}
	d := &Dispatcher{
		store:  store,
		agents: agents,
		events: events,
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	d.processors = map[Kind]processor{
		KindRegister:   typed(d.register),
		KindExists:     typed(d.exists),
		KindUpdate:     typed(d.update),
		KindDisconnect: typed(d.disconnect),
		KindShutdown:   typed(d.shutdown),
	}
	return d
}

// typed adapts a processor for one concrete message type to the table signature.
func typed[M Message](fn func(context.Context, Channel, M) error) processor {
	return func(ctx context.Context, ch Channel, msg Message) error {
		m, ok := msg.(M)
		if !ok {
			return fmt.Errorf("agent: processor for %s received %T", msg.Kind(), msg)
		}
		return fn(ctx, ch, m)
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// SetTelemetry enables hardware telemetry writes after register and update.
func (d *Dispatcher) SetTelemetry(t Telemetry) {
	d.telemetry = t
}

// Registry returns the hardware connection registry.
func (d *Dispatcher) Registry() *Registry {
	return d.agents
}

// Opened greets a newly accepted channel.
func (d *Dispatcher) Opened(ch Channel) {
	d.logger.Debug("agent channel opened", "channel_id", ch.ID())
	d.reply(ch, Info(InfoConnected))
}

// Handle processes one raw frame from ch.
//
// The frame is decoded into one of the five message kinds and run by its
// processor in the caller's goroutine, so frames from one channel are
// handled strictly in order. Invalid frames get an error reply and leave
// all state untouched; the channel stays open either way.
//
// Parameters:
//   - ctx: Context for store round-trips
//   - ch: The agent channel the frame arrived on; replies go back to it
//   - raw: One JSON text frame
func (d *Dispatcher) Handle(ctx context.Context, ch Channel, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		d.logger.Debug("rejected agent frame", "channel_id", ch.ID(), "error", err)
		d.reply(ch, Error(rejection(err)))
		return
	}
	d.Dispatch(ctx, ch, msg)
}

// Dispatch runs the processor for an already decoded message.
func (d *Dispatcher) Dispatch(ctx context.Context, ch Channel, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic processing agent message",
				"kind", msg.Kind(), "mac_address", msg.MAC(), "panic", fmt.Sprint(r))
			d.reply(ch, Error(replyServerError))
		}
	}()

	proc, ok := d.processors[msg.Kind()]
	if !ok {
		d.reply(ch, Error("Unknown message type: "+string(msg.Kind())))
		return
	}

	if err := proc(ctx, ch, msg); err != nil {
		if errors.Is(err, ErrOwnerRequired) {
			d.logger.Warn("cannot register new device without owner", "mac_address", msg.MAC())
			d.reply(ch, Error("userId required for new device registration"))
			return
		}
		d.logger.Error("processing agent message failed",
			"kind", msg.Kind(), "mac_address", msg.MAC(), "error", err)
		d.reply(ch, Error(failureReplies[msg.Kind()]))
	}
}

// Closed reconciles state after ch closes or errors: every MAC it served is
// removed from the registry, marked disconnected, and announced.
func (d *Dispatcher) Closed(ctx context.Context, ch Channel) {
	removed := d.agents.RemoveByHandle(ch)
	if len(removed) == 0 {
		return
	}

	now := d.now()
	for _, mac := range removed {
		if err := d.store.Update(ctx, mac, device.ConnectionPatch(false, now)); err != nil {
			d.logger.Warn("marking closed agent disconnected failed", "mac_address", mac, "error", err)
		}
		d.events.DeviceDisconnected(mac)
		d.logger.Info("agent disconnected", "mac_address", mac, "channel_id", ch.ID())
	}
}

func (d *Dispatcher) reply(ch Channel, msg Outbound) {
	if err := ch.Send(msg); err != nil {
		d.logger.Warn("sending agent reply failed",
			"channel_id", ch.ID(), "message_type", msg.MessageType, "error", err)
	}
}

// rejection maps a Decode error to its reply text.
func rejection(err error) string {
	var unknown *UnknownTypeError
	var invalid *ValidationError
	switch {
	case errors.As(err, &unknown):
		return "Unknown message type: " + unknown.Type
	case errors.As(err, &invalid):
		return fmt.Sprintf("Invalid %s message: %s", invalid.Type, strings.Join(invalid.Problems, ", "))
	default:
		return replyFormat
	}
}

