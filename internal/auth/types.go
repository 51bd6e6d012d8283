package auth

import "errors"

// RoleAdmin is the role value that grants access to every device.
const RoleAdmin = "admin"

// Mode selects how credentials are verified.
type Mode string

const (
	// ModeToken requires a signed session token.
	ModeToken Mode = "token"

	// ModeTrusted accepts the caller-supplied user id and role.
	ModeTrusted Mode = "trusted"
)

// Identity is the immutable auth context bound to a session.
type Identity struct {
	UserID  string `json:"userId"`
	IsAdmin bool   `json:"isAdmin"`
}

// CanAccess reports whether the identity may act on a device owned by ownerID.
func (i Identity) CanAccess(ownerID string) bool {
	return i.IsAdmin || (i.UserID != "" && i.UserID == ownerID)
}

// Credentials is what a caller presents. Role is either a string or a list
// of strings, matching the dashboard's auth payload.
type Credentials struct {
	UserID string `json:"userId"`
	Role   any    `json:"role"`
	Token  string `json:"token,omitempty"`
}

// IsAdmin reports whether role is "admin" or a list containing "admin".
func IsAdmin(role any) bool {
	switch r := role.(type) {
	case string:
		return r == RoleAdmin
	case []string:
		for _, v := range r {
			if v == RoleAdmin {
				return true
			}
		}
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok && s == RoleAdmin {
				return true
			}
		}
	}
	return false
}

// Authentication errors.
var (
	ErrTokenInvalid   = errors.New("auth: invalid token")
	ErrTokenMissing   = errors.New("auth: token required")
	ErrUserIDRequired = errors.New("auth: userId required")
	ErrUnknownMode    = errors.New("auth: unknown mode")
)
