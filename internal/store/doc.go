// Package store provides persistent storage for the gateway.
//
// # Architecture
//
// The store package is interface-driven:
//
//   - PrincipalStore: directory of principals seen by the gateway
//   - UsageStore: one running unit total per (principal, period)
//   - SettingsStore: gateway-wide settings such as the monthly budget
//   - AuditStore: administrative actions
//
// SQLiteStore implements all of them. RedisStore holds the state several
// gateway processes must agree on: usage totals, the monthly budget, and the
// set of registered principal ids. Principal profiles and the audit log stay
// in each gateway's SQLite file.
// MockStore is an in-memory implementation for tests.
//
// # Periods
//
// Usage is keyed by calendar month in UTC, formatted "YYYY-MM". Records are
// never deleted or reset; a new month simply starts a new key.
//
// # Concurrency
//
// AddUsage is a single atomic statement in both backends (an UPSERT in
// SQLite, HINCRBY in Redis), so concurrent increments are never lost.
package store
