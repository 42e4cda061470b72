// ABOUTME: Tests for the audit log
// ABOUTME: Covers append defaults, filtering, ordering, and detail round-trips

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLog_AppendGeneratesIDAndTimestamp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := &AuditEntry{
		ActorPrincipalID: "admin-1",
		Action:           AuditSetMonthlyBudget,
		TargetType:       "setting",
		TargetID:         "monthly_unit_budget",
		Detail:           map[string]any{"previous": float64(1000), "new": float64(2000)},
	}
	require.NoError(t, store.AppendAuditLog(ctx, e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID, entries[0].ID)
	assert.Equal(t, float64(2000), entries[0].Detail["new"])
}

func TestAuditLog_FilterAndOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{
		ActorPrincipalID: "admin-1", Action: AuditSetMonthlyBudget, TargetType: "setting", TargetID: "monthly_unit_budget", Timestamp: base,
	}))
	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{
		ActorPrincipalID: "cli", Action: AuditIssueToken, TargetType: "principal", TargetID: "svc-1", Timestamp: base.Add(time.Hour),
	}))
	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{
		ActorPrincipalID: "admin-1", Action: AuditSetMonthlyBudget, TargetType: "setting", TargetID: "monthly_unit_budget", Timestamp: base.Add(2 * time.Hour),
	}))

	all, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, base.Add(2*time.Hour), all[0].Timestamp)

	actor := "admin-1"
	byActor, err := store.ListAuditLog(ctx, AuditFilter{ActorPrincipalID: &actor})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	action := AuditIssueToken
	byAction, err := store.ListAuditLog(ctx, AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "svc-1", byAction[0].TargetID)

	limited, err := store.ListAuditLog(ctx, AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAuditLog_RejectsUnknownAction(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendAuditLog(context.Background(), &AuditEntry{
		ActorPrincipalID: "x", Action: AuditAction("drop_tables"), TargetType: "t", TargetID: "t",
	})
	assert.Error(t, err)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-3))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}
