package device

import "time"

// Device is a persisted hardware agent record, keyed by its MAC address.
type Device struct {
	// MACAddress is the canonical upper-case colon-delimited form, e.g. AA:BB:CC:DD:EE:FF.
	MACAddress string `json:"macAddress"`

	// UserID is the owning user. Set on first registration and never changed by agents.
	UserID string `json:"userId"`

	Name      string `json:"name"`
	IPAddress string `json:"ipAddress"`

	// IsConnected caches hardware or dashboard registry membership.
	// It is reconciled by every operation that changes connection state and
	// may briefly lag behind the registries.
	IsConnected bool `json:"isConnected"`

	Hardware *Hardware `json:"hardware,omitempty"`

	LastSeen  *time.Time `json:"lastSeen"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Owner is the subset of a user record exposed alongside devices in admin listings.
type Owner struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DeviceWithOwner is a device joined with its owner. Owner is nil when the
// owning user is not present in the users table.
type DeviceWithOwner struct {
	Device
	Owner *Owner `json:"user"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name        *string
	IPAddress   *string
	IsConnected *bool
	Hardware    *Hardware
	LastSeen    *time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.IPAddress == nil && p.IsConnected == nil &&
		p.Hardware == nil && p.LastSeen == nil
}

// ConnectionPatch marks a device connected or disconnected as of at.
func ConnectionPatch(connected bool, at time.Time) Patch {
	return Patch{IsConnected: &connected, LastSeen: &at}
}

// Hardware is the hardware snapshot reported by an agent.
// All sub-objects are optional.
type Hardware struct {
	CPU         *CPU         `json:"cpu,omitempty"`
	Memory      *Capacity    `json:"memory,omitempty"`
	Storage     *Capacity    `json:"storage,omitempty"`
	GPU         *GPU         `json:"gpu,omitempty"`
	Network     *Network     `json:"network,omitempty"`
	OS          *OS          `json:"os,omitempty"`
	Motherboard *Motherboard `json:"motherboard,omitempty"`
}

// CPU describes the processor. Speed is in GHz, Usage a percentage.
type CPU struct {
	Model string   `json:"model"`
	Cores float64  `json:"cores"`
	Speed float64  `json:"speed"`
	Usage *float64 `json:"usage,omitempty"`
}

// Capacity describes memory or storage in GB.
type Capacity struct {
	Total     float64  `json:"total"`
	Used      float64  `json:"used"`
	Available float64  `json:"available"`
	Usage     *float64 `json:"usage,omitempty"`
}

// GPU describes the graphics adapter. Memory is in GB.
type GPU struct {
	Model  string   `json:"model"`
	Memory *float64 `json:"memory,omitempty"`
	Usage  *float64 `json:"usage,omitempty"`
}

// Network lists the agent's network interfaces.
type Network struct {
	Interfaces []NetworkInterface `json:"interfaces"`
}

// NetworkInterface is one NIC. Speed is in Mbps.
type NetworkInterface struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Speed *float64 `json:"speed,omitempty"`
}

// OS describes the operating system. Uptime is in seconds.
type OS struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Architecture string   `json:"architecture"`
	Uptime       *float64 `json:"uptime,omitempty"`
}

// Motherboard identifies the mainboard.
type Motherboard struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}
