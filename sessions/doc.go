// Package sessions defines the session record owned by the portal's session
// authority, the policy that decides whether a record is still valid, and the
// Store contract that persists records.
//
// Layers & Roles
//
//	Authority -> sole writer; creates, touches and evicts records
//	Policy    -> pure validity rules (inactivity window + absolute ceiling)
//	Store     -> durability only; never decides validity
//
// # Validity
//
// A record is valid at time t while both hold:
//
//	t - CreatedAt      <  MaxDuration
//	t - LastActivityAt <= InactivityTimeout
//
// The absolute ceiling is exclusive: a request landing exactly on it is
// already too late, however recently the session was touched.
//
// # Stores
//
//	memorystore : process-local map, reference implementation
//	redisstore  : Redis keys with TTL, for multi-instance deployments
//	pgstore     : Postgres table, for deployments that already run a database
//
// Every implementation must pass storetest.Run.
package sessions
