// Package device persists FleetLink device records.
//
// A device is a hardware agent identified by its MAC address. The record holds
// the owning user, display name, last reported IP address and hardware
// snapshot, and a connectivity flag that mirrors whether the agent (or a
// dashboard session bound to it) currently holds a live channel.
//
// # Stores
//
//   - SQLiteStore: default, schema managed by the embedded migrations.
//   - PostgresStore: pgx pool, schema created by EnsureSchema.
//   - devicetest.MemoryStore: in-memory fake for tests.
//
// # Usage
//
//	store := device.NewSQLiteStore(db.DB)
//
//	mac, err := device.NormalizeMAC("aa-bb-cc-dd-ee-01")
//	if err != nil {
//	    return err
//	}
//	connected := true
//	err = store.Update(ctx, mac, device.Patch{IsConnected: &connected})
//
// # Thread Safety
//
// Stores are safe for concurrent use. Writes are last-write-wins; there is no
// optimistic concurrency token.
package device
