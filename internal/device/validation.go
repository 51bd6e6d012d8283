package device

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLength = 100
	// maxIPLength fits the longest textual IPv6 form.
	maxIPLength = 45
	macOctets   = 6
)

// NormalizeMAC parses a 6-octet hardware address in any form net.ParseMAC
// accepts (colon, hyphen or dot separated) and returns the canonical
// upper-case colon-delimited form.
func NormalizeMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil || len(hw) != macOctets {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	return strings.ToUpper(hw.String()), nil
}

// ValidateName checks a display name is non-empty and at most 100 characters.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateIP checks an IP address string is non-empty and fits the column.
// The value is not parsed: agents behind NAT sometimes report hostnames.
func ValidateIP(ip string) error {
	if strings.TrimSpace(ip) == "" {
		return fmt.Errorf("%w: ip address is required", ErrInvalidIP)
	}
	if len(ip) > maxIPLength {
		return fmt.Errorf("%w: ip address exceeds %d characters", ErrInvalidIP, maxIPLength)
	}
	return nil
}

// ValidateDevice checks a device before it is created.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if _, err := NormalizeMAC(d.MACAddress); err != nil {
		return err
	}
	if d.UserID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidDevice)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	return ValidateIP(d.IPAddress)
}

// ValidatePatch checks the fields a patch sets. A patch that sets nothing is
// rejected.
func ValidatePatch(p Patch) error {
	if p.Empty() {
		return fmt.Errorf("%w: patch sets no fields", ErrInvalidDevice)
	}
	if p.Name != nil {
		if err := ValidateName(*p.Name); err != nil {
			return err
		}
	}
	if p.IPAddress != nil {
		if err := ValidateIP(*p.IPAddress); err != nil {
			return err
		}
	}
	return nil
}
