// Package redisstore implements sessions.Store on Redis so several portal
// instances can share one session population.
//
// Design Notes
//   - One key per record: <prefix>session:<token>, JSON value
//   - Keys carry a TTL of the record's expiry hint plus a grace period, so
//     the authority normally still sees (and reports) an expired record while
//     abandoned ones are reclaimed without a sweep
//   - Scan walks SCAN MATCH <prefix>session:* in batches; records deleted
//     mid-scan are skipped
//
// Example:
//
//	store, err := redisstore.NewFromEnv()
//	if err != nil { ... }
//	defer store.Close()
package redisstore
