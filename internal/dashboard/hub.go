package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/auth"
	"github.com/nerrad567/fleetlink-core/internal/connection"
	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/relay"
)

// Channel is a live dashboard connection.
// Emit must not block; a full or closed channel returns an error.
type Channel interface {
	ID() string
	Emit(event string, payload any) error
}

// SessionKey identifies a device registration: the device owner and its MAC.
type SessionKey struct {
	UserID string `json:"userId"`
	MAC    string `json:"macAddress"`
}

// Verifier resolves auth payloads into identities.
type Verifier interface {
	Verify(c auth.Credentials) (auth.Identity, error)
}

// Shutdowner delivers shutdown commands.
type Shutdowner interface {
	Shutdown(ctx context.Context, req relay.Requester, mac string) (relay.Path, error)
}

// Events receives device lifecycle notifications. Implementations must not block.
type Events interface {
	DeviceUpdated(mac string)
	DeviceDisconnected(mac string)
}

// Logger is the logging interface used by the hub.
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

// UserRoom names the room for a user's channels.
func UserRoom(userID string) string { return "user:" + userID }

// DeviceRoom names the room for channels that registered a device.
func DeviceRoom(mac string) string { return "device:" + mac }

type handler func(ctx context.Context, ch Channel, data json.RawMessage)

// Hub tracks live dashboard channels, their identities, device sessions and rooms.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Events from one channel are
//     expected to be handled sequentially by its read loop.
type Hub struct {
	store    device.Store
	verifier Verifier
	relay    Shutdowner
	events   Events
	logger   Logger
	now      func() time.Time

	mu   sync.RWMutex
	live map[Channel]*auth.Identity

	sessions *connection.Registry[SessionKey, Channel]
	rooms    *connection.Rooms[Channel]

	handlers map[string]handler
}

// NewHub creates a hub. events may be nil when nothing listens.
func NewHub(store device.Store, verifier Verifier, events Events) *Hub {
	if events == nil {
		events = noopEvents{}
	}
	h := &Hub{
		store:    store,
		verifier: verifier,
		events:   events,
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
		live:     make(map[Channel]*auth.Identity),
		sessions: connection.NewRegistry[SessionKey, Channel](),
		rooms:    connection.NewRooms[Channel](),
	}
	h.handlers = map[string]handler{
		EventAuth:            h.handleAuth,
		EventRegisterDevice:  h.handleRegister,
		EventGetDevices:      h.handleGetDevices,
		EventShutdownRequest: h.handleShutdown,
	}
	return h
}

// SetLogger sets the logger for the hub.
func (h *Hub) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// SetRelay enables shutdown-request handling.
func (h *Hub) SetRelay(r Shutdowner) {
	h.relay = r
}

// Opened starts tracking ch as an unauthenticated channel.
func (h *Hub) Opened(ch Channel) {
	h.mu.Lock()
	h.live[ch] = nil
	h.mu.Unlock()
	h.logger.Debug("dashboard channel opened", "channel_id", ch.ID())
}

// Handle decodes one raw frame and dispatches it. Malformed frames and
// unknown events are logged and ignored.
func (h *Hub) Handle(ctx context.Context, ch Channel, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		h.logger.Debug("ignoring malformed dashboard frame", "channel_id", ch.ID(), "error", err)
		return
	}
	h.Dispatch(ctx, ch, env.Event, env.Data)
}

// Dispatch runs the handler for event.
func (h *Hub) Dispatch(ctx context.Context, ch Channel, event string, data json.RawMessage) {
	fn, ok := h.handlers[event]
	if !ok {
		h.logger.Debug("ignoring unknown dashboard event", "channel_id", ch.ID(), "event", event)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic handling dashboard event",
				"channel_id", ch.ID(), "event", event, "panic", fmt.Sprint(r))
		}
	}()
	fn(ctx, ch, data)
}

// Closed forgets ch after it closes or errors.
//
// It drops the channel's identity, leaves every room and removes every
// session entry that pointed at ch. Devices left with no session entry are
// marked disconnected and announced; store failures are logged only.
//
// Parameters:
//   - ctx: Context for store writes; callers pass one that outlives the socket
//   - ch: The closed dashboard channel
func (h *Hub) Closed(ctx context.Context, ch Channel) {
	h.mu.Lock()
	delete(h.live, ch)
	h.mu.Unlock()

	h.rooms.LeaveAll(ch)
	removed := h.sessions.RemoveByHandle(ch)

	now := h.now()
	for _, key := range removed {
		mac := key.MAC
		if h.sessions.Any(func(k SessionKey) bool { return k.MAC == mac }) {
			continue
		}
		if err := h.store.Update(ctx, mac, device.ConnectionPatch(false, now)); err != nil {
			h.logger.Warn("marking closed session device disconnected failed", "mac_address", mac, "error", err)
		}
		h.events.DeviceDisconnected(mac)
	}
	h.logger.Debug("dashboard channel closed", "channel_id", ch.ID(), "sessions_removed", len(removed))
}

// Identity returns the identity bound to ch, if it has authenticated.
func (h *Hub) Identity(ch Channel) (auth.Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id := h.live[ch]
	if id == nil {
		return auth.Identity{}, false
	}
	return *id, true
}

// authenticate binds id to ch unless it already has one.
func (h *Hub) authenticate(ch Channel, id auth.Identity) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.live[ch]
	if !ok {
		return fmt.Errorf("dashboard: channel %s is not open", ch.ID())
	}
	if cur != nil {
		return ErrAlreadyAuthenticated
	}
	h.live[ch] = &id
	return nil
}

// Recipients returns the authenticated channels allowed to see events for a
// device owned by ownerID: the owner's channels and every admin channel.
func (h *Hub) Recipients(ownerID string) []Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Channel
	for ch, id := range h.live {
		if id != nil && id.CanAccess(ownerID) {
			out = append(out, ch)
		}
	}
	return out
}

// All returns every live channel, authenticated or not.
func (h *Hub) All() []Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Channel, 0, len(h.live))
	for ch := range h.live {
		out = append(out, ch)
	}
	return out
}

var _ relay.Sessions = (*Hub)(nil)

// Session returns the channel that registered (ownerID, mac).
func (h *Hub) Session(ownerID, mac string) (relay.Target, bool) {
	ch, ok := h.sessions.Get(SessionKey{UserID: ownerID, MAC: mac})
	if !ok {
		return nil, false
	}
	return ch, true
}

// RoomMembers returns the channels in the device room for mac.
func (h *Hub) RoomMembers(mac string) []relay.Target {
	members := h.rooms.Members(DeviceRoom(mac))
	out := make([]relay.Target, len(members))
	for i, ch := range members {
		out[i] = ch
	}
	return out
}

// Snapshot describes the hub for the debug endpoint.
type Snapshot struct {
	Total         int          `json:"total"`
	Authenticated int          `json:"authenticated"`
	Sessions      []SessionKey `json:"sessions"`
	Rooms         []string     `json:"rooms"`
}

// Snapshot returns the current hub state.
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	s := Snapshot{Total: len(h.live)}
	for _, id := range h.live {
		if id != nil {
			s.Authenticated++
		}
	}
	h.mu.RUnlock()

	s.Sessions = h.sessions.Keys()
	sort.Slice(s.Sessions, func(i, j int) bool {
		if s.Sessions[i].UserID != s.Sessions[j].UserID {
			return s.Sessions[i].UserID < s.Sessions[j].UserID
		}
		return s.Sessions[i].MAC < s.Sessions[j].MAC
	})
	s.Rooms = h.rooms.Names()
	return s
}

func (h *Hub) emit(ch Channel, event string, payload any) {
	if err := ch.Emit(event, payload); err != nil {
		h.logger.Warn("dashboard emit failed", "channel_id", ch.ID(), "event", event, "error", err)
	}
}
