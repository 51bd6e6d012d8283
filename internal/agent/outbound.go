package agent

// Outbound message types.
const (
	TypeInfo    = "info"
	TypeError   = "error"
	TypeExists  = "exists"
	TypeCommand = "command"
)

// Info reply texts.
const (
	InfoConnected    = "WS Connected"
	InfoRegistered   = "registered"
	InfoUpdated      = "updated"
	InfoReconnected  = "connected"
	InfoDisconnected = "disconnected"
)

// CommandShutdown is the only command an agent accepts.
const CommandShutdown = "shutdown"

// Outbound is a frame sent to an agent.
type Outbound struct {
	MessageType string `json:"messageType"`
	Message     string `json:"message,omitempty"`
	Payload     any    `json:"payload,omitempty"`
}

// ExistsPayload answers an exists query. Name and IsConnected are only set
// when the device exists.
type ExistsPayload struct {
	Exists      bool    `json:"exists"`
	Name        *string `json:"name,omitempty"`
	IsConnected *bool   `json:"isConnected,omitempty"`
}

// Channel is a live hardware agent connection.
// Send must not block; a full or closed channel returns an error.
type Channel interface {
	ID() string
	Send(msg Outbound) error
}

// Info builds an info frame.
func Info(text string) Outbound {
	return Outbound{MessageType: TypeInfo, Message: text}
}

// Error builds an error frame.
func Error(text string) Outbound {
	return Outbound{MessageType: TypeError, Message: text}
}

// ShutdownCommand builds the shutdown command frame.
func ShutdownCommand() Outbound {
	return Outbound{MessageType: TypeCommand, Message: CommandShutdown}
}
