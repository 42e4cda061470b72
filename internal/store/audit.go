// ABOUTME: Audit log entity and store methods for tracking administrative actions
// ABOUTME: Records who changed the budget or minted a credential, and when

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditSetMonthlyBudget AuditAction = "set_monthly_budget"
	AuditIssueToken       AuditAction = "issue_token"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID               string         `json:"id"`
	ActorPrincipalID string         `json:"actor_principal_id"`
	Action           AuditAction    `json:"action"`
	TargetType       string         `json:"target_type"` // "setting", "principal"
	TargetID         string         `json:"target_id"`
	Timestamp        time.Time      `json:"timestamp"`
	Detail           map[string]any `json:"detail,omitempty"`
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	ActorPrincipalID *string
	Action           *AuditAction
	Limit            int // default 100, max 1000
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, actor_principal_id, action, target_type, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.ActorPrincipalID,
		e.Action,
		e.TargetType,
		e.TargetID,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.ActorPrincipalID,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const auditLogQuery = `
	SELECT audit_id, actor_principal_id, action, target_type, target_id, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR actor_principal_id = ?)
	  AND (? IS NULL OR action = ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter, newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var action *string
	if f.Action != nil {
		a := string(*f.Action)
		action = &a
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		f.ActorPrincipalID, f.ActorPrincipalID,
		action, action,
		normalizeAuditLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&e.ActorPrincipalID,
		&actionStr,
		&e.TargetType,
		&e.TargetID,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	var err error
	if e.Timestamp, err = parseTime(tsStr); err != nil {
		return e, err
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}
