// ABOUTME: SQLite implementation of per-period usage totals
// ABOUTME: Increments are a single UPSERT so concurrent additions are never lost

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AddUsage adds units to principalID's total for period and returns the new total.
func (s *SQLiteStore) AddUsage(ctx context.Context, principalID, period string, units int64) (int64, error) {
	if units < 0 {
		return 0, ErrNegativeUsage
	}

	query := `
		INSERT INTO usage_records (principal_id, period, units, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(principal_id, period) DO UPDATE SET
			units      = units + excluded.units,
			updated_at = excluded.updated_at
		RETURNING units
	`

	var total int64
	err := s.db.QueryRowContext(ctx, query, principalID, period, units, formatTime(s.now())).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("adding usage: %w", err)
	}

	s.logger.Debug("recorded usage",
		"principal_id", principalID,
		"period", period,
		"units", units,
		"total", total,
	)
	return total, nil
}

// PeriodUsage returns principalID's total for period, or 0 when none was recorded.
func (s *SQLiteStore) PeriodUsage(ctx context.Context, principalID, period string) (int64, error) {
	query := `SELECT units FROM usage_records WHERE principal_id = ? AND period = ?`

	var units int64
	err := s.db.QueryRowContext(ctx, query, principalID, period).Scan(&units)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying usage: %w", err)
	}
	return units, nil
}

// ListPeriodUsage returns every total recorded for period, largest first.
func (s *SQLiteStore) ListPeriodUsage(ctx context.Context, period string) ([]UsageRecord, error) {
	query := `
		SELECT principal_id, period, units, updated_at
		FROM usage_records
		WHERE period = ?
		ORDER BY units DESC, principal_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, period)
	if err != nil {
		return nil, fmt.Errorf("querying period usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []UsageRecord{}
	for rows.Next() {
		var r UsageRecord
		var updatedAt string
		if err := rows.Scan(&r.PrincipalID, &r.Period, &r.Units, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return records, nil
}
