// ABOUTME: UsageLedger records consumed units per principal per month
// ABOUTME: Increments for one principal are serialized; different principals never contend

package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/quotagate/internal/store"
)

// Ledger is the usage accumulator. Totals only grow; past periods are kept.
type Ledger struct {
	store  store.UsageStore
	locks  sync.Map // principal id -> *sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a ledger over s.
func NewLedger(s store.UsageStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  s,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
}

// CurrentPeriod returns the period usage is being booked against now.
func (l *Ledger) CurrentPeriod() Period {
	return PeriodOf(l.now())
}

// CurrentPeriodUsage returns principalID's total for the current month.
func (l *Ledger) CurrentPeriodUsage(ctx context.Context, principalID string) (int64, error) {
	return l.PeriodUsage(ctx, principalID, l.CurrentPeriod())
}

// PeriodUsage returns principalID's total for period.
func (l *Ledger) PeriodUsage(ctx context.Context, principalID string, period Period) (int64, error) {
	units, err := l.store.PeriodUsage(ctx, principalID, period.String())
	if err != nil {
		return 0, fmt.Errorf("reading usage for %s: %w", principalID, err)
	}
	return units, nil
}

// Record adds units to principalID's current-period total and returns the new total.
func (l *Ledger) Record(ctx context.Context, principalID string, units int64) (int64, error) {
	mu := l.lockFor(principalID)
	mu.Lock()
	defer mu.Unlock()
	return l.recordLocked(ctx, principalID, units)
}

// Report returns every principal's total for period, largest first.
func (l *Ledger) Report(ctx context.Context, period Period) ([]store.UsageRecord, error) {
	records, err := l.store.ListPeriodUsage(ctx, period.String())
	if err != nil {
		return nil, fmt.Errorf("listing usage for %s: %w", period, err)
	}
	return records, nil
}

// lockFor returns the mutex serializing principalID's increments.
func (l *Ledger) lockFor(principalID string) *sync.Mutex {
	if mu, ok := l.locks.Load(principalID); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := l.locks.LoadOrStore(principalID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// recordLocked requires the caller to hold lockFor(principalID).
func (l *Ledger) recordLocked(ctx context.Context, principalID string, units int64) (int64, error) {
	if units < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeUnits, units)
	}

	period := l.CurrentPeriod()
	total, err := l.store.AddUsage(ctx, principalID, period.String(), units)
	if err != nil {
		return 0, fmt.Errorf("recording usage for %s: %w", principalID, err)
	}

	l.logger.Debug("usage recorded",
		"principal_id", principalID,
		"period", period.String(),
		"units", units,
		"total", total,
	)
	return total, nil
}
