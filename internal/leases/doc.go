// Package leases serializes playlist mutations per (group, platform) pair.
//
// A lease is a row keyed by the pair with a holder and an expiry. [Manager.Acquire]
// fails fast with [shared.ErrLeaseHeld] while another holder's lease is live, and
// takes over a lease whose expiry has passed, so a crashed holder blocks its pair
// for at most one TTL.
//
// Stores:
//   - [repositories.LeaseRepository] : SQLite, the default
//   - [PostgresStore] : pgx, for several instances sharing one database
//   - [MemoryStore] : a single process
package leases
