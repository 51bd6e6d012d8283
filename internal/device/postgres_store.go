package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	role  TEXT NOT NULL DEFAULT 'user'
);

CREATE TABLE IF NOT EXISTS devices (
	mac_address  VARCHAR(17) PRIMARY KEY,
	user_id      TEXT NOT NULL,
	name         VARCHAR(100) NOT NULL,
	ip_address   VARCHAR(45) NOT NULL,
	is_connected BOOLEAN NOT NULL DEFAULT FALSE,
	hardware     JSONB,
	last_seen    TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices(user_id);
`

const pgDeviceColumns = `d.mac_address, d.user_id, d.name, d.ip_address, d.is_connected,
	d.hardware::text, d.last_seen, d.created_at, d.updated_at`

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the users and devices tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("creating device schema: %w", err)
	}
	return nil
}

// Get retrieves a device by MAC address.
func (s *PostgresStore) Get(ctx context.Context, mac string) (*Device, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgDeviceColumns+` FROM devices d WHERE d.mac_address = $1`, mac)

	d, err := scanPgDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by mac: %w", err)
	}
	return d, nil
}

// Create inserts a new device.
func (s *PostgresStore) Create(ctx context.Context, d *Device) error {
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO devices (
			mac_address, user_id, name, ip_address, is_connected,
			hardware, last_seen, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)`,
		d.MACAddress, d.UserID, d.Name, d.IPAddress, d.IsConnected,
		hardware, d.LastSeen, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update applies a partial update.
func (s *PostgresStore) Update(ctx context.Context, mac string, p Patch) error {
	if err := ValidatePatch(p); err != nil {
		return err
	}
	var sets []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if p.Name != nil {
		sets = append(sets, "name = "+arg(*p.Name))
	}
	if p.IPAddress != nil {
		sets = append(sets, "ip_address = "+arg(*p.IPAddress))
	}
	if p.IsConnected != nil {
		sets = append(sets, "is_connected = "+arg(*p.IsConnected))
	}
	if p.Hardware != nil {
		hardware, err := marshalHardware(p.Hardware)
		if err != nil {
			return err
		}
		sets = append(sets, "hardware = "+arg(hardware)+"::jsonb")
	}
	if p.LastSeen != nil {
		sets = append(sets, "last_seen = "+arg(p.LastSeen.UTC()))
	}
	sets = append(sets, "updated_at = "+arg(time.Now().UTC()))
	where := arg(mac)

	tag, err := s.pool.Exec(ctx,
		`UPDATE devices SET `+strings.Join(sets, ", ")+` WHERE mac_address = `+where, args...)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// OwnerOf returns the owning user id of a device.
func (s *PostgresStore) OwnerOf(ctx context.Context, mac string) (string, error) {
	var owner string
	err := s.pool.QueryRow(ctx, `SELECT user_id FROM devices WHERE mac_address = $1`, mac).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrDeviceNotFound
		}
		return "", fmt.Errorf("querying device owner: %w", err)
	}
	return owner, nil
}

// ListByOwner returns the devices owned by userID.
func (s *PostgresStore) ListByOwner(ctx context.Context, userID string) ([]Device, error) {
	return s.queryDevices(ctx,
		`SELECT `+pgDeviceColumns+` FROM devices d WHERE d.user_id = $1 ORDER BY d.name, d.mac_address`, userID)
}

// ListConnected returns every connected device.
func (s *PostgresStore) ListConnected(ctx context.Context) ([]Device, error) {
	return s.queryDevices(ctx,
		`SELECT `+pgDeviceColumns+` FROM devices d WHERE d.is_connected ORDER BY d.name, d.mac_address`)
}

// ListWithOwners returns every device joined with its owner.
func (s *PostgresStore) ListWithOwners(ctx context.Context) ([]DeviceWithOwner, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgDeviceColumns+`, u.id, u.name, u.email
		FROM devices d
		LEFT JOIN users u ON u.id = d.user_id
		ORDER BY d.name, d.mac_address`)
	if err != nil {
		return nil, fmt.Errorf("querying devices with owners: %w", err)
	}
	defer rows.Close()

	var out []DeviceWithOwner
	for rows.Next() {
		var ownerID, ownerName, ownerEmail *string
		d, err := scanPgDevice(rows, &ownerID, &ownerName, &ownerEmail)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		dw := DeviceWithOwner{Device: *d}
		if ownerID != nil {
			dw.Owner = &Owner{ID: *ownerID, Name: deref(ownerName), Email: deref(ownerEmail)}
		}
		out = append(out, dw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanPgDevice(rows)
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

func scanPgDevice(row pgx.Row, extra ...any) (*Device, error) {
	var d Device
	var hardware *string

	dest := append([]any{
		&d.MACAddress, &d.UserID, &d.Name, &d.IPAddress, &d.IsConnected,
		&hardware, &d.LastSeen, &d.CreatedAt, &d.UpdatedAt,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	h, err := unmarshalHardware(hardware)
	if err != nil {
		return nil, err
	}
	d.Hardware = h
	return &d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
