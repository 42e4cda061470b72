// ABOUTME: Gateway-wide settings persisted in SQLite
// ABOUTME: Holds the administrator-controlled monthly unit budget

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const settingMonthlyUnitBudget = "monthly_unit_budget"

// MonthlyUnitBudget returns the stored budget, or ErrNotFound if none is set.
func (s *SQLiteStore) MonthlyUnitBudget(ctx context.Context) (int64, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, settingMonthlyUnitBudget).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying budget: %w", err)
	}

	units, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing stored budget %q: %w", value, err)
	}
	return units, nil
}

// SetMonthlyUnitBudget replaces the budget.
func (s *SQLiteStore) SetMonthlyUnitBudget(ctx context.Context, units int64) error {
	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, settingMonthlyUnitBudget, strconv.FormatInt(units, 10), formatTime(s.now())); err != nil {
		return fmt.Errorf("setting budget: %w", err)
	}

	s.logger.Info("monthly unit budget updated", "units", units)
	return nil
}

// SeedMonthlyUnitBudget stores units only if no budget exists yet, so a
// configured default never overwrites an administrator's change.
func (s *SQLiteStore) SeedMonthlyUnitBudget(ctx context.Context, units int64) error {
	query := `INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, settingMonthlyUnitBudget, strconv.FormatInt(units, 10), formatTime(s.now())); err != nil {
		return fmt.Errorf("seeding budget: %w", err)
	}
	return nil
}
