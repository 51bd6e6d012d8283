package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const deviceColumns = `d.mac_address, d.user_id, d.name, d.ip_address, d.is_connected,
	d.hardware, d.last_seen, d.created_at, d.updated_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store.
// The devices and users tables must already exist (see migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get retrieves a device by MAC address.
func (s *SQLiteStore) Get(ctx context.Context, mac string) (*Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices d WHERE d.mac_address = ?`, mac)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by mac: %w", err)
	}
	return d, nil
}

// Create inserts a new device.
func (s *SQLiteStore) Create(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}
	hardware, err := marshalHardware(d.Hardware)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (
			mac_address, user_id, name, ip_address, is_connected,
			hardware, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.MACAddress, d.UserID, d.Name, d.IPAddress, boolToInt(d.IsConnected),
		hardware, formatTime(d.LastSeen), d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update applies a partial update.
func (s *SQLiteStore) Update(ctx context.Context, mac string, p Patch) error {
	if err := ValidatePatch(p); err != nil {
		return err
	}
	var sets []string
	var args []any

	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.IPAddress != nil {
		sets = append(sets, "ip_address = ?")
		args = append(args, *p.IPAddress)
	}
	if p.IsConnected != nil {
		sets = append(sets, "is_connected = ?")
		args = append(args, boolToInt(*p.IsConnected))
	}
	if p.Hardware != nil {
		hardware, err := marshalHardware(p.Hardware)
		if err != nil {
			return err
		}
		sets = append(sets, "hardware = ?")
		args = append(args, hardware)
	}
	if p.LastSeen != nil {
		sets = append(sets, "last_seen = ?")
		args = append(args, formatTime(p.LastSeen))
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano), mac)

	result, err := s.db.ExecContext(ctx,
		`UPDATE devices SET `+strings.Join(sets, ", ")+` WHERE mac_address = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// OwnerOf returns the owning user id of a device.
func (s *SQLiteStore) OwnerOf(ctx context.Context, mac string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM devices WHERE mac_address = ?`, mac).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrDeviceNotFound
		}
		return "", fmt.Errorf("querying device owner: %w", err)
	}
	return owner, nil
}

// ListByOwner returns the devices owned by userID.
func (s *SQLiteStore) ListByOwner(ctx context.Context, userID string) ([]Device, error) {
	return s.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices d WHERE d.user_id = ? ORDER BY d.name, d.mac_address`, userID)
}

// ListConnected returns every connected device.
func (s *SQLiteStore) ListConnected(ctx context.Context) ([]Device, error) {
	return s.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices d WHERE d.is_connected = 1 ORDER BY d.name, d.mac_address`)
}

// ListWithOwners returns every device joined with its owner.
func (s *SQLiteStore) ListWithOwners(ctx context.Context) ([]DeviceWithOwner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+`, u.id, u.name, u.email
		FROM devices d
		LEFT JOIN users u ON u.id = d.user_id
		ORDER BY d.name, d.mac_address`)
	if err != nil {
		return nil, fmt.Errorf("querying devices with owners: %w", err)
	}
	defer rows.Close()

	var out []DeviceWithOwner
	for rows.Next() {
		var ownerID, ownerName, ownerEmail sql.NullString
		d, err := scanDeviceRow(rows, &ownerID, &ownerName, &ownerEmail)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		dw := DeviceWithOwner{Device: *d}
		if ownerID.Valid {
			dw.Owner = &Owner{ID: ownerID.String, Name: ownerName.String, Email: ownerEmail.String}
		}
		out = append(out, dw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row *sql.Row) (*Device, error) {
	return scanDeviceRow(row)
}

// scanDeviceRow scans the device columns followed by any extra destinations.
func scanDeviceRow(scanner rowScanner, extra ...any) (*Device, error) {
	var d Device
	var connected int
	var hardware, lastSeen sql.NullString
	var createdAt, updatedAt string

	dest := append([]any{
		&d.MACAddress, &d.UserID, &d.Name, &d.IPAddress, &connected,
		&hardware, &lastSeen, &createdAt, &updatedAt,
	}, extra...)

	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	d.IsConnected = connected != 0

	if hardware.Valid {
		h, err := unmarshalHardware(&hardware.String)
		if err != nil {
			return nil, err
		}
		d.Hardware = h
	}

	if lastSeen.Valid {
		if t, err := parseTime(lastSeen.String); err == nil {
			d.LastSeen = &t
		}
	}
	d.CreatedAt, _ = parseTime(createdAt) //nolint:errcheck // Written by us
	d.UpdatedAt, _ = parseTime(updatedAt) //nolint:errcheck // Written by us

	return &d, nil
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique or primary key violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
