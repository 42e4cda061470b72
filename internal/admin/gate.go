// ABOUTME: AdminGate authorizes the single administrator principal
// ABOUTME: Usage reports for any period, budget read/set, and audited credential minting

package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/quotagate/internal/auth"
	"github.com/2389/quotagate/internal/quota"
	"github.com/2389/quotagate/internal/store"
)

var (
	// ErrNotAuthorized is returned to every principal but the administrator.
	ErrNotAuthorized = errors.New("forbidden")

	// ErrInvalidLimit is returned for a budget that is not a positive integer.
	ErrInvalidLimit = errors.New("monthly unit budget must be a positive integer")

	// ErrInvalidTTL is returned for a credential lifetime outside (0, maxTokenTTL].
	ErrInvalidTTL = errors.New("invalid credential lifetime")

	// ErrMintingDisabled is returned when no credential issuer is configured.
	ErrMintingDisabled = errors.New("credential minting not configured")

	// ErrIdentityConflict is returned when minting an internal credential
	// for an id the identity provider already owns.
	ErrIdentityConflict = errors.New("principal id belongs to an external identity")
)

// Default TTL for minted credentials: 30 days.
const defaultTokenTTL = 30 * 24 * time.Hour

// Maximum TTL for minted credentials: 365 days.
const maxTokenTTL = 365 * 24 * time.Hour

// TokenIssuer mints internal credentials.
type TokenIssuer interface {
	Issue(p auth.Principal, ttl time.Duration) (string, error)
}

// Directory looks up principal profiles.
type Directory interface {
	GetPrincipal(ctx context.Context, id string) (*store.PrincipalRecord, error)
	ListPrincipals(ctx context.Context) ([]*store.PrincipalRecord, error)
}

// Settings reads and writes the global budget.
type Settings interface {
	MonthlyUnitBudget(ctx context.Context) (int64, error)
	SetMonthlyUnitBudget(ctx context.Context, units int64) error
}

// AuditLog records and lists administrative actions.
type AuditLog interface {
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
	ListAuditLog(ctx context.Context, f store.AuditFilter) ([]store.AuditEntry, error)
}

// GateConfig wires a Gate.
type GateConfig struct {
	AdminPrincipalID string
	Ledger           *quota.Ledger
	Policy           *quota.Policy
	Directory        Directory
	Settings         Settings
	Audit            AuditLog
	Issuer           TokenIssuer // optional
	Logger           *slog.Logger
}

// Gate is the administrator's entry point.
type Gate struct {
	adminID   string
	ledger    *quota.Ledger
	policy    *quota.Policy
	directory Directory
	settings  Settings
	audit     AuditLog
	issuer    TokenIssuer
	logger    *slog.Logger
	now       func() time.Time
}

// NewGate creates a gate.
func NewGate(cfg GateConfig) *Gate {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		adminID:   cfg.AdminPrincipalID,
		ledger:    cfg.Ledger,
		policy:    cfg.Policy,
		directory: cfg.Directory,
		settings:  cfg.Settings,
		audit:     cfg.Audit,
		issuer:    cfg.Issuer,
		logger:    cfg.Logger.With("component", "admin"),
		now:       time.Now,
	}
}

// Authorize returns nil only for the configured administrator.
func (g *Gate) Authorize(p auth.Principal) error {
	if g.adminID == "" || p.ID != g.adminID {
		return ErrNotAuthorized
	}
	return nil
}

// UsageEntry is one principal's line in a usage report.
type UsageEntry struct {
	PrincipalID string `json:"principal_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Units       int64  `json:"units"`
}

// UsageReport is aggregate usage for one period.
type UsageReport struct {
	Period     string       `json:"period"`
	Budget     int64        `json:"monthly_unit_budget"`
	Registered int          `json:"registered_principals"`
	PerUser    int64        `json:"per_principal_limit"`
	TotalUnits int64        `json:"total_units"`
	Entries    []UsageEntry `json:"entries"`
}

// UsageReport returns every principal's usage for period. Budget figures
// reflect the current setting, not the one in force during period.
func (g *Gate) UsageReport(ctx context.Context, p auth.Principal, period quota.Period) (*UsageReport, error) {
	if err := g.Authorize(p); err != nil {
		return nil, err
	}

	records, err := g.ledger.Report(ctx, period)
	if err != nil {
		return nil, err
	}
	limit, err := g.policy.Limit(ctx)
	if err != nil {
		return nil, err
	}
	principals, err := g.directory.ListPrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing principals: %w", err)
	}

	byID := make(map[string]*store.PrincipalRecord, len(principals))
	for _, pr := range principals {
		byID[pr.ID] = pr
	}

	report := &UsageReport{
		Period:     period.String(),
		Budget:     limit.Budget,
		Registered: limit.Registered,
		PerUser:    limit.PerPrincipal,
		Entries:    make([]UsageEntry, 0, len(records)),
	}
	for _, r := range records {
		entry := UsageEntry{PrincipalID: r.PrincipalID, DisplayName: r.PrincipalID, Units: r.Units}
		if pr, ok := byID[r.PrincipalID]; ok {
			entry.DisplayName = pr.DisplayName
			entry.Email = pr.Email
		}
		report.TotalUnits += r.Units
		report.Entries = append(report.Entries, entry)
	}
	return report, nil
}

// Budget returns the current budget split.
func (g *Gate) Budget(ctx context.Context, p auth.Principal) (quota.Limit, error) {
	if err := g.Authorize(p); err != nil {
		return quota.Limit{}, err
	}
	return g.policy.Limit(ctx)
}

// SetBudget replaces the global monthly budget. A non-positive value is
// rejected with ErrInvalidLimit and the stored value is left untouched.
func (g *Gate) SetBudget(ctx context.Context, p auth.Principal, units int64) (quota.Limit, error) {
	if err := g.Authorize(p); err != nil {
		return quota.Limit{}, err
	}
	if units <= 0 {
		return quota.Limit{}, fmt.Errorf("%w: got %d", ErrInvalidLimit, units)
	}

	previous, err := g.settings.MonthlyUnitBudget(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return quota.Limit{}, fmt.Errorf("reading budget: %w", err)
	}

	if err := g.settings.SetMonthlyUnitBudget(ctx, units); err != nil {
		return quota.Limit{}, err
	}

	g.logger.Info("monthly unit budget changed",
		"admin", p.ID,
		"previous", previous,
		"units", units,
	)

	// Audit log (ignore error - best effort)
	_ = g.audit.AppendAuditLog(ctx, &store.AuditEntry{
		ActorPrincipalID: p.ID,
		Action:           store.AuditSetMonthlyBudget,
		TargetType:       "setting",
		TargetID:         "monthly_unit_budget",
		Detail: map[string]any{
			"previous": previous,
			"units":    units,
		},
	})

	return g.policy.Limit(ctx)
}

// AuditTrail returns recorded administrative actions, newest first.
func (g *Gate) AuditTrail(ctx context.Context, p auth.Principal, f store.AuditFilter) ([]store.AuditEntry, error) {
	if err := g.Authorize(p); err != nil {
		return nil, err
	}
	entries, err := g.audit.ListAuditLog(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	return entries, nil
}

// IssuedToken is a freshly minted internal credential.
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken mints an internal credential for target. A zero ttl means
// the 30 day default.
//
// Both trust domains resolve to one principal id space, so an internal
// credential carrying an id already registered through the identity
// provider would share that person's usage. Such targets are refused with
// ErrIdentityConflict.
func (g *Gate) IssueToken(ctx context.Context, p auth.Principal, target auth.Principal, ttl time.Duration) (*IssuedToken, error) {
	if err := g.Authorize(p); err != nil {
		return nil, err
	}
	if g.issuer == nil {
		return nil, ErrMintingDisabled
	}

	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	if ttl < 0 || ttl > maxTokenTTL {
		return nil, fmt.Errorf("%w: must be between 1s and %s", ErrInvalidTTL, maxTokenTTL)
	}
	if target.ID == "" && target.Email == "" {
		return nil, fmt.Errorf("target principal needs an id or email")
	}

	targetID := target.ID
	if targetID == "" {
		targetID = target.Email
	}
	if err := g.checkIdentityConflict(ctx, targetID); err != nil {
		return nil, err
	}

	token, err := g.issuer.Issue(target, ttl)
	if err != nil {
		return nil, fmt.Errorf("minting credential: %w", err)
	}
	expiresAt := g.now().Add(ttl).UTC().Truncate(time.Second)

	// Audit log (ignore error - best effort)
	_ = g.audit.AppendAuditLog(ctx, &store.AuditEntry{
		ActorPrincipalID: p.ID,
		Action:           store.AuditIssueToken,
		TargetType:       "principal",
		TargetID:         targetID,
		Detail: map[string]any{
			"ttl_seconds": int64(ttl.Seconds()),
			"expires_at":  expiresAt.Format(time.RFC3339),
		},
	})

	return &IssuedToken{Token: token, ExpiresAt: expiresAt}, nil
}

func (g *Gate) checkIdentityConflict(ctx context.Context, id string) error {
	if g.directory == nil {
		return nil
	}
	existing, err := g.directory.GetPrincipal(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up principal: %w", err)
	}
	if existing.AuthSource == string(auth.AuthSourceExternal) {
		return fmt.Errorf("%w: %s", ErrIdentityConflict, id)
	}
	return nil
}
