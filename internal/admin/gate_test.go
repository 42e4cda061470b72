// ABOUTME: Tests for the administrator gate
// ABOUTME: Covers authorization, usage reports, budget changes, and credential minting

package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/quotagate/internal/auth"
	"github.com/2389/quotagate/internal/quota"
	"github.com/2389/quotagate/internal/store"
)

// testSecret is a 32-byte secret for minting internal credentials.
var testSecret = []byte("admin-token-test-secret-32bytes!")

var (
	adminPrincipal = auth.Principal{ID: "admin-1", DisplayName: "Admin", AuthSource: auth.AuthSourceExternal}
	userPrincipal  = auth.Principal{ID: "u-1", DisplayName: "Ada", AuthSource: auth.AuthSourceExternal}
)

func newTestGate(t *testing.T) (*Gate, *store.MockStore) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMockStore()
	require.NoError(t, s.SetMonthlyUnitBudget(ctx, 1000))
	for _, p := range []*store.PrincipalRecord{
		{ID: "admin-1", DisplayName: "Admin", Email: "admin@example.edu", AuthSource: "external"},
		{ID: "u-1", DisplayName: "Ada", Email: "ada@example.edu", AuthSource: "external"},
		{ID: "u-2", DisplayName: "Grace", Email: "grace@example.edu", AuthSource: "internal"},
		{ID: "u-3", DisplayName: "Alan", AuthSource: "internal"},
	} {
		require.NoError(t, s.UpsertPrincipal(ctx, p))
	}

	ledger := quota.NewLedger(s, nil)
	policy := quota.NewPolicy(ledger, s, s, quota.PolicyOptions{EstimateMultiplier: 3})
	g := NewGate(GateConfig{
		AdminPrincipalID: "admin-1",
		Ledger:           ledger,
		Policy:           policy,
		Directory:        s,
		Settings:         s,
		Audit:            s,
		Issuer:           auth.NewInternalVerifier(testSecret),
	})
	return g, s
}

func TestGate_Authorize(t *testing.T) {
	g, _ := newTestGate(t)

	assert.NoError(t, g.Authorize(adminPrincipal))
	assert.ErrorIs(t, g.Authorize(userPrincipal), ErrNotAuthorized)
	assert.ErrorIs(t, g.Authorize(auth.Principal{}), ErrNotAuthorized)
}

func TestGate_EmptyAdminIDAuthorizesNobody(t *testing.T) {
	g := NewGate(GateConfig{})

	assert.ErrorIs(t, g.Authorize(auth.Principal{}), ErrNotAuthorized)
	assert.ErrorIs(t, g.Authorize(auth.Principal{ID: ""}), ErrNotAuthorized)
}

func TestGate_UsageReport(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()
	period := quota.PeriodOf(time.Now())

	_, err := s.AddUsage(ctx, "u-1", period.String(), 120)
	require.NoError(t, err)
	_, err = s.AddUsage(ctx, "u-2", period.String(), 30)
	require.NoError(t, err)
	_, err = s.AddUsage(ctx, "ghost", period.String(), 5)
	require.NoError(t, err)

	report, err := g.UsageReport(ctx, adminPrincipal, period)
	require.NoError(t, err)

	assert.Equal(t, period.String(), report.Period)
	assert.Equal(t, int64(1000), report.Budget)
	assert.Equal(t, 4, report.Registered)
	assert.Equal(t, int64(250), report.PerUser)
	assert.Equal(t, int64(155), report.TotalUnits)
	require.Len(t, report.Entries, 3)
	assert.Equal(t, UsageEntry{PrincipalID: "u-1", DisplayName: "Ada", Email: "ada@example.edu", Units: 120}, report.Entries[0])
	assert.Equal(t, "ghost", report.Entries[2].DisplayName)
}

func TestGate_UsageReportHistoricalPeriod(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	_, err := s.AddUsage(ctx, "u-1", "2025-01", 77)
	require.NoError(t, err)

	report, err := g.UsageReport(ctx, adminPrincipal, quota.Period{Year: 2025, Month: time.January})
	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, int64(77), report.TotalUnits)
}

func TestGate_NonAdminLearnsNothing(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	report, err := g.UsageReport(ctx, userPrincipal, quota.PeriodOf(time.Now()))
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, report)

	limit, err := g.Budget(ctx, userPrincipal)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Zero(t, limit)

	_, err = g.SetBudget(ctx, userPrincipal, 5)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = g.IssueToken(ctx, userPrincipal, userPrincipal, time.Hour)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestGate_SetBudget(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	limit, err := g.SetBudget(ctx, adminPrincipal, 2000)
	require.NoError(t, err)
	assert.Equal(t, quota.Limit{Budget: 2000, Registered: 4, PerPrincipal: 500}, limit)

	stored, err := s.MonthlyUnitBudget(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), stored)

	entries, err := s.ListAuditLog(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditSetMonthlyBudget, entries[0].Action)
	assert.Equal(t, "admin-1", entries[0].ActorPrincipalID)
}

func TestGate_SetBudgetRejectsNonPositive(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	for _, units := range []int64{0, -1, -1000} {
		_, err := g.SetBudget(ctx, adminPrincipal, units)
		assert.ErrorIs(t, err, ErrInvalidLimit)
	}

	stored, err := s.MonthlyUnitBudget(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored)
}

func TestGate_Budget(t *testing.T) {
	g, _ := newTestGate(t)

	limit, err := g.Budget(context.Background(), adminPrincipal)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), limit.Budget)
	assert.Equal(t, int64(250), limit.PerPrincipal)
}

func TestGate_IssueToken(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	issued, err := g.IssueToken(ctx, adminPrincipal, auth.Principal{ID: "svc-1", Email: "svc@example.edu"}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.WithinDuration(t, time.Now().Add(defaultTokenTTL), issued.ExpiresAt, time.Minute)

	p, err := auth.NewInternalVerifier(testSecret).Verify(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "svc-1", p.ID)

	action := store.AuditIssueToken
	entries, err := s.ListAuditLog(ctx, store.AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "svc-1", entries[0].TargetID)
}

func TestGate_IssueTokenRefusesExternalIdentity(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	_, err := g.IssueToken(ctx, adminPrincipal, auth.Principal{ID: "u-1", Email: "ada@example.edu"}, time.Hour)
	assert.ErrorIs(t, err, ErrIdentityConflict)

	// An id known only from the email fallback is checked too.
	require.NoError(t, s.UpsertPrincipal(ctx, &store.PrincipalRecord{ID: "kay@example.edu", AuthSource: "external"}))
	_, err = g.IssueToken(ctx, adminPrincipal, auth.Principal{Email: "kay@example.edu"}, time.Hour)
	assert.ErrorIs(t, err, ErrIdentityConflict)

	// Internal principals may be reissued.
	issued, err := g.IssueToken(ctx, adminPrincipal, auth.Principal{ID: "u-2"}, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)

	action := store.AuditIssueToken
	entries, err := s.ListAuditLog(ctx, store.AuditFilter{Action: &action})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "refused mints are not audited")
}

func TestGate_AuditTrail(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	_, err := g.SetBudget(ctx, adminPrincipal, 2000)
	require.NoError(t, err)
	_, err = g.IssueToken(ctx, adminPrincipal, auth.Principal{ID: "svc-1"}, time.Hour)
	require.NoError(t, err)

	entries, err := g.AuditTrail(ctx, adminPrincipal, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.AuditIssueToken, entries[0].Action, "newest first")
	assert.Equal(t, store.AuditSetMonthlyBudget, entries[1].Action)

	action := store.AuditSetMonthlyBudget
	entries, err = g.AuditTrail(ctx, adminPrincipal, store.AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "monthly_unit_budget", entries[0].TargetID)

	_, err = g.AuditTrail(ctx, userPrincipal, store.AuditFilter{})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestGate_IssueTokenValidation(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()
	target := auth.Principal{ID: "svc-1"}

	_, err := g.IssueToken(ctx, adminPrincipal, target, maxTokenTTL+time.Hour)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = g.IssueToken(ctx, adminPrincipal, target, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = g.IssueToken(ctx, adminPrincipal, auth.Principal{DisplayName: "nobody"}, time.Hour)
	assert.Error(t, err)

	noIssuer := NewGate(GateConfig{AdminPrincipalID: "admin-1"})
	_, err = noIssuer.IssueToken(ctx, adminPrincipal, target, time.Hour)
	assert.ErrorIs(t, err, ErrMintingDisabled)
}
