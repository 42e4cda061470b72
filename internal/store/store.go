// ABOUTME: Store interfaces and data types for quotagate persistence
// ABOUTME: Principals directory, per-period usage totals, gateway settings, and the audit log

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNegativeUsage is returned when a usage increment is below zero.
var ErrNegativeUsage = errors.New("usage increment must not be negative")

// PrincipalRecord is a principal as the directory remembers it.
type PrincipalRecord struct {
	ID          string
	DisplayName string
	Email       string
	AuthSource  string // "internal" or "external"
	CreatedAt   time.Time
	LastSeen    time.Time
}

// UsageRecord is one principal's accumulated units for one period.
type UsageRecord struct {
	PrincipalID string
	Period      string // "YYYY-MM"
	Units       int64
	UpdatedAt   time.Time
}

// PrincipalStore is the directory of every principal the gateway has seen.
type PrincipalStore interface {
	// UpsertPrincipal inserts p or refreshes its profile and last_seen.
	UpsertPrincipal(ctx context.Context, p *PrincipalRecord) error
	GetPrincipal(ctx context.Context, id string) (*PrincipalRecord, error)
	ListPrincipals(ctx context.Context) ([]*PrincipalRecord, error)
	CountPrincipals(ctx context.Context) (int, error)
}

// UsageStore keeps one running total per (principal, period).
type UsageStore interface {
	// AddUsage adds units to the total and returns the new total.
	AddUsage(ctx context.Context, principalID, period string, units int64) (int64, error)
	// PeriodUsage returns the total, or 0 when nothing was recorded.
	PeriodUsage(ctx context.Context, principalID, period string) (int64, error)
	// ListPeriodUsage returns every principal's total for period.
	ListPeriodUsage(ctx context.Context, period string) ([]UsageRecord, error)
}

// SettingsStore persists gateway-wide settings.
type SettingsStore interface {
	// MonthlyUnitBudget returns ErrNotFound until a budget has been set.
	MonthlyUnitBudget(ctx context.Context) (int64, error)
	SetMonthlyUnitBudget(ctx context.Context, units int64) error
	// SeedMonthlyUnitBudget sets the budget only if none is stored yet.
	SeedMonthlyUnitBudget(ctx context.Context, units int64) error
}

// AuditStore records administrative actions.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is everything the gateway persists.
type Store interface {
	PrincipalStore
	UsageStore
	SettingsStore
	AuditStore
	Close() error
}

// Compile-time checks
var (
	_ Store      = (*SQLiteStore)(nil)
	_ Store      = (*MockStore)(nil)
	_ UsageStore = (*RedisStore)(nil)

	_ interface {
		MonthlyUnitBudget(ctx context.Context) (int64, error)
		SetMonthlyUnitBudget(ctx context.Context, units int64) error
		SeedMonthlyUnitBudget(ctx context.Context, units int64) error
		CountPrincipals(ctx context.Context) (int, error)
	} = (*RedisStore)(nil)
)
