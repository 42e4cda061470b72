// ABOUTME: Tests for the usage ledger
// ABOUTME: Covers additive recording, period scoping, and concurrent increments

package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/quotagate/internal/store"
)

func newTestLedger(t *testing.T, now time.Time) (*Ledger, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	l := NewLedger(s, nil)
	l.now = func() time.Time { return now }
	return l, s
}

func TestLedger_RecordIsAdditive(t *testing.T) {
	l, _ := newTestLedger(t, time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	total, err := l.Record(ctx, "u-1", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)

	total, err = l.Record(ctx, "u-1", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	used, err := l.CurrentPeriodUsage(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), used)
}

func TestLedger_RejectsNegative(t *testing.T) {
	l, _ := newTestLedger(t, time.Now())

	_, err := l.Record(context.Background(), "u-1", -1)
	assert.ErrorIs(t, err, ErrNegativeUnits)
}

func TestLedger_NewMonthStartsAtZero(t *testing.T) {
	now := time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC)
	l, _ := newTestLedger(t, now)
	ctx := context.Background()

	_, err := l.Record(ctx, "u-1", 300)
	require.NoError(t, err)

	l.now = func() time.Time { return now.Add(2 * time.Minute) }
	used, err := l.CurrentPeriodUsage(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)

	october, err := l.PeriodUsage(ctx, "u-1", Period{Year: 2026, Month: time.October})
	require.NoError(t, err)
	assert.Equal(t, int64(300), october)
}

func TestLedger_Report(t *testing.T) {
	l, _ := newTestLedger(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, _ = l.Record(ctx, "u-1", 10)
	_, _ = l.Record(ctx, "u-2", 40)

	records, err := l.Report(ctx, Period{Year: 2026, Month: time.October})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "u-2", records[0].PrincipalID)
}

func TestLedger_ConcurrentRecordsForSamePrincipal(t *testing.T) {
	l, _ := newTestLedger(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Record(ctx, "u-1", 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	used, err := l.CurrentPeriodUsage(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), used)
}

func TestLedger_LockPerPrincipal(t *testing.T) {
	l, _ := newTestLedger(t, time.Now())

	assert.Same(t, l.lockFor("u-1"), l.lockFor("u-1"))
	assert.NotSame(t, l.lockFor("u-1"), l.lockFor("u-2"))
}
