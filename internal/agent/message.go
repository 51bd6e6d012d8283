package agent

import "github.com/nerrad567/fleetlink-core/internal/device"

// Kind is the messageType discriminator of an inbound agent frame.
type Kind string

// Inbound message kinds.
const (
	KindRegister   Kind = "register"
	KindExists     Kind = "exists"
	KindUpdate     Kind = "update"
	KindDisconnect Kind = "disconnect"
	KindShutdown   Kind = "shutdown"
)

// Kinds returns every inbound kind.
func Kinds() []Kind {
	return []Kind{KindRegister, KindExists, KindUpdate, KindDisconnect, KindShutdown}
}

// Message is a decoded, validated inbound frame. The set of implementations
// is closed: only the types in this package satisfy it.
type Message interface {
	Kind() Kind
	// MAC returns the canonical MAC address the message is about.
	MAC() string
	sealed()
}

// Register announces an agent. UserID is only needed the first time a MAC is seen.
type Register struct {
	MACAddress  string
	IPAddress   string
	MachineName string
	UserID      string
	Hardware    *device.Hardware
}

// Exists asks whether a MAC is registered.
type Exists struct {
	MACAddress string
}

// Update refreshes an agent's reported state.
type Update struct {
	MACAddress  string
	IPAddress   string
	MachineName string
	Hardware    *device.Hardware
}

// Disconnect is an agent leaving cleanly.
type Disconnect struct {
	MACAddress string
}

// Shutdown is an agent reporting it is powering off.
type Shutdown struct {
	MACAddress string
}

func (Register) Kind() Kind   { return KindRegister }
func (Exists) Kind() Kind     { return KindExists }
func (Update) Kind() Kind     { return KindUpdate }
func (Disconnect) Kind() Kind { return KindDisconnect }
func (Shutdown) Kind() Kind   { return KindShutdown }

func (m Register) MAC() string   { return m.MACAddress }
func (m Exists) MAC() string     { return m.MACAddress }
func (m Update) MAC() string     { return m.MACAddress }
func (m Disconnect) MAC() string { return m.MACAddress }
func (m Shutdown) MAC() string   { return m.MACAddress }

func (Register) sealed()   {}
func (Exists) sealed()     {}
func (Update) sealed()     {}
func (Disconnect) sealed() {}
func (Shutdown) sealed()   {}
