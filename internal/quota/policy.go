// ABOUTME: QuotaPolicy derives per-principal limits and gates the costly operation
// ABOUTME: Estimate, CanProceed, Reconcile, plus opt-in strict reservations

package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/quotagate/internal/store"
)

// BudgetStore supplies the global monthly budget. It is read on every
// admission check so administrative changes apply immediately.
type BudgetStore interface {
	MonthlyUnitBudget(ctx context.Context) (int64, error)
}

// PrincipalCounter reports how many principals are registered.
type PrincipalCounter interface {
	CountPrincipals(ctx context.Context) (int, error)
}

// PolicyOptions configures a Policy.
type PolicyOptions struct {
	// EstimateMultiplier scales input size into a pre-flight estimate. Must be >= 1.
	EstimateMultiplier float64
	// DefaultBudget applies while no budget has been stored.
	DefaultBudget int64
	// StrictReservations makes Admit reserve the estimate atomically.
	StrictReservations bool
	Logger             *slog.Logger
}

// Limit is the budget split in effect at one moment.
type Limit struct {
	Budget       int64 `json:"monthly_unit_budget"`
	Registered   int   `json:"registered_principals"`
	PerPrincipal int64 `json:"per_principal_limit"`
}

// Allowance is one principal's standing for the current period.
type Allowance struct {
	Period    string `json:"period"`
	Used      int64  `json:"used"`
	Reserved  int64  `json:"reserved"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
}

// Policy answers admission questions for the costly operation.
type Policy struct {
	ledger        *Ledger
	budget        BudgetStore
	principals    PrincipalCounter
	multiplier    float64
	defaultBudget int64
	strict        bool
	logger        *slog.Logger

	mu       sync.Mutex
	reserved map[string]int64 // principal id -> outstanding reserved units
}

// NewPolicy creates a policy.
func NewPolicy(ledger *Ledger, budget BudgetStore, principals PrincipalCounter, opts PolicyOptions) *Policy {
	if opts.EstimateMultiplier < 1 {
		opts.EstimateMultiplier = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Policy{
		ledger:        ledger,
		budget:        budget,
		principals:    principals,
		multiplier:    opts.EstimateMultiplier,
		defaultBudget: opts.DefaultBudget,
		strict:        opts.StrictReservations,
		logger:        opts.Logger.With("component", "quota"),
		reserved:      make(map[string]int64),
	}
}

// Strict reports whether Admit reserves estimates.
func (p *Policy) Strict() bool {
	return p.strict
}

// Estimate projects the cost of an operation with the given input size. It
// rounds up so admission errs toward rejecting before the costly call, and
// saturates at math.MaxInt64.
func (p *Policy) Estimate(inputUnits int64) int64 {
	if inputUnits <= 0 {
		return 0
	}
	est := math.Ceil(float64(inputUnits) * p.multiplier)
	if est >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(est)
}

// Limit returns the current budget split. A registry with no principals
// counts as one so the limit is never a division by zero.
func (p *Policy) Limit(ctx context.Context) (Limit, error) {
	budget, err := p.budget.MonthlyUnitBudget(ctx)
	if errors.Is(err, store.ErrNotFound) {
		budget = p.defaultBudget
	} else if err != nil {
		return Limit{}, fmt.Errorf("reading budget: %w", err)
	}

	n, err := p.principals.CountPrincipals(ctx)
	if err != nil {
		return Limit{}, fmt.Errorf("counting principals: %w", err)
	}

	divisor := int64(n)
	if divisor < 1 {
		divisor = 1
	}
	return Limit{Budget: budget, Registered: n, PerPrincipal: budget / divisor}, nil
}

// CanProceed returns nil if principalID may spend estimate more units this
// period, or an *ExceededError.
func (p *Policy) CanProceed(ctx context.Context, principalID string, estimate int64) error {
	limit, err := p.Limit(ctx)
	if err != nil {
		return err
	}
	used, err := p.ledger.CurrentPeriodUsage(ctx, principalID)
	if err != nil {
		return err
	}
	return p.check(principalID, used, p.reservedFor(principalID), estimate, limit.PerPrincipal)
}

// Reconcile books actual units against principalID unconditionally. It is
// called whether or not the costly operation succeeded.
func (p *Policy) Reconcile(ctx context.Context, principalID string, actual int64) error {
	if _, err := p.ledger.Record(ctx, principalID, actual); err != nil {
		return err
	}
	return nil
}

// Allowance returns principalID's standing for the current period.
func (p *Policy) Allowance(ctx context.Context, principalID string) (Allowance, error) {
	limit, err := p.Limit(ctx)
	if err != nil {
		return Allowance{}, err
	}
	used, err := p.ledger.CurrentPeriodUsage(ctx, principalID)
	if err != nil {
		return Allowance{}, err
	}
	reserved := p.reservedFor(principalID)

	remaining := limit.PerPrincipal - used - reserved
	if remaining < 0 {
		remaining = 0
	}
	return Allowance{
		Period:    p.ledger.CurrentPeriod().String(),
		Used:      used,
		Reserved:  reserved,
		Limit:     limit.PerPrincipal,
		Remaining: remaining,
	}, nil
}

// Reservation holds units counted against a principal until settled.
type Reservation struct {
	ID          string
	PrincipalID string
	Units       int64

	settled bool
}

// Reserve atomically checks principalID's allowance including outstanding
// reservations and, if estimate fits, holds it until Commit or Release.
func (p *Policy) Reserve(ctx context.Context, principalID string, estimate int64) (*Reservation, error) {
	if estimate < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeUnits, estimate)
	}

	limit, err := p.Limit(ctx)
	if err != nil {
		return nil, err
	}

	mu := p.ledger.lockFor(principalID)
	mu.Lock()
	defer mu.Unlock()

	used, err := p.ledger.CurrentPeriodUsage(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if err := p.check(principalID, used, p.reservedFor(principalID), estimate, limit.PerPrincipal); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.reserved[principalID] += estimate
	p.mu.Unlock()

	return &Reservation{ID: uuid.New().String(), PrincipalID: principalID, Units: estimate}, nil
}

// Commit books actual units and releases the reservation in one step, so
// the principal's usage plus reservations never dips below what was spent.
// The reservation is released even when booking fails.
func (p *Policy) Commit(ctx context.Context, r *Reservation, actual int64) error {
	mu := p.ledger.lockFor(r.PrincipalID)
	mu.Lock()
	defer mu.Unlock()

	if r.settled {
		return ErrReservationClosed
	}
	_, err := p.ledger.recordLocked(ctx, r.PrincipalID, actual)
	p.release(r)
	return err
}

// Release drops the reservation without booking anything.
func (p *Policy) Release(r *Reservation) {
	mu := p.ledger.lockFor(r.PrincipalID)
	mu.Lock()
	defer mu.Unlock()

	if !r.settled {
		p.release(r)
	}
}

// Admission is an admitted request awaiting Settle.
type Admission struct {
	PrincipalID string
	Estimate    int64
	reservation *Reservation
}

// Admit runs the admission check in the configured mode.
func (p *Policy) Admit(ctx context.Context, principalID string, estimate int64) (*Admission, error) {
	if p.strict {
		r, err := p.Reserve(ctx, principalID, estimate)
		if err != nil {
			return nil, err
		}
		return &Admission{PrincipalID: principalID, Estimate: estimate, reservation: r}, nil
	}

	if err := p.CanProceed(ctx, principalID, estimate); err != nil {
		return nil, err
	}
	return &Admission{PrincipalID: principalID, Estimate: estimate}, nil
}

// Settle books the actual cost of an admitted request.
func (p *Policy) Settle(ctx context.Context, a *Admission, actual int64) error {
	if a.reservation != nil {
		return p.Commit(ctx, a.reservation, actual)
	}
	return p.Reconcile(ctx, a.PrincipalID, actual)
}

func (p *Policy) check(principalID string, used, reserved, estimate, limit int64) error {
	// Subtract rather than add so a saturated estimate cannot wrap.
	if estimate <= limit-used-reserved {
		return nil
	}

	p.logger.Info("admission denied",
		"principal_id", principalID,
		"used", used,
		"reserved", reserved,
		"requested", estimate,
		"limit", limit,
	)
	return &ExceededError{
		PrincipalID: principalID,
		Period:      p.ledger.CurrentPeriod(),
		Used:        used,
		Reserved:    reserved,
		Requested:   estimate,
		Limit:       limit,
	}
}

func (p *Policy) reservedFor(principalID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserved[principalID]
}

// release requires the principal's ledger lock.
func (p *Policy) release(r *Reservation) {
	r.settled = true

	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserved[r.PrincipalID] -= r.Units
	if p.reserved[r.PrincipalID] <= 0 {
		delete(p.reserved, r.PrincipalID)
	}
}
