// ABOUTME: Principal directory stored in SQLite
// ABOUTME: Upserted on every authenticated request, counted to derive the per-user limit

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertPrincipal inserts p, or updates its profile and last_seen if it
// already exists. created_at is kept from the first insert.
func (s *SQLiteStore) UpsertPrincipal(ctx context.Context, p *PrincipalRecord) error {
	if p.ID == "" {
		return fmt.Errorf("principal id is required")
	}

	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = now
	}

	query := `
		INSERT INTO principals (principal_id, display_name, email, auth_source, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET
			display_name = excluded.display_name,
			email        = excluded.email,
			auth_source  = excluded.auth_source,
			last_seen    = excluded.last_seen
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.DisplayName,
		p.Email,
		p.AuthSource,
		formatTime(p.CreatedAt),
		formatTime(p.LastSeen),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("invalid principal %q (auth_source %q): %w", p.ID, p.AuthSource, err)
		}
		return fmt.Errorf("upserting principal: %w", err)
	}
	return nil
}

// GetPrincipal retrieves a principal by id. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*PrincipalRecord, error) {
	query := `
		SELECT principal_id, display_name, email, auth_source, created_at, last_seen
		FROM principals
		WHERE principal_id = ?
	`

	p, err := scanPrincipal(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPrincipals returns every principal ordered by id.
func (s *SQLiteStore) ListPrincipals(ctx context.Context) ([]*PrincipalRecord, error) {
	query := `
		SELECT principal_id, display_name, email, auth_source, created_at, last_seen
		FROM principals
		ORDER BY principal_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying principals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	principals := []*PrincipalRecord{}
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating principals: %w", err)
	}
	return principals, nil
}

// CountPrincipals returns the number of registered principals.
func (s *SQLiteStore) CountPrincipals(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return n, nil
}

func scanPrincipal(scanner interface{ Scan(dest ...any) error }) (*PrincipalRecord, error) {
	var p PrincipalRecord
	var createdAt, lastSeen string

	if err := scanner.Scan(&p.ID, &p.DisplayName, &p.Email, &p.AuthSource, &createdAt, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning principal: %w", err)
	}

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, err
	}
	return &p, nil
}
