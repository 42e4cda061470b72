// ABOUTME: Tests for scheduled gateway jobs
// ABOUTME: Job registration and the monthly rollover summary

package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleJobs_RolloverOnlyWithoutProvider(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	assert.Len(t, gw.cron.Entries(), 1)
}

func TestScheduleJobs_KeyRefreshWithProvider(t *testing.T) {
	idp := newTestIDP(t)
	cfg := testConfig(t)
	cfg.Auth.IdentityProvider.JWKSURL = idp.srv.URL
	cfg.Auth.IdentityProvider.Audience = testAudience
	gw := newTestGateway(t, cfg)

	assert.Len(t, gw.cron.Entries(), 2)

	gw.refreshKeys()
	assert.Equal(t, 1, gw.keyRing.Len())
	assert.False(t, gw.keyRing.LastRefreshed().IsZero())
}

func TestRolloverSummary(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	ctx := context.Background()

	_, err := gw.ledger.Record(ctx, "user-1", 30)
	require.NoError(t, err)
	_, err = gw.ledger.Record(ctx, "user-2", 70)
	require.NoError(t, err)
	_, err = gw.ledger.Record(ctx, "user-1", 5)
	require.NoError(t, err)

	period := gw.ledger.CurrentPeriod()
	summary, err := gw.rolloverSummary(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, RolloverSummary{
		Period:       period.String(),
		Principals:   2,
		TotalUnits:   105,
		TopPrincipal: "user-2",
		TopUnits:     70,
	}, summary)

	empty, err := gw.rolloverSummary(ctx, period.Prev())
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Principals)
	assert.Zero(t, empty.TotalUnits)

	// Logging the rollover of an empty period must not fail.
	gw.logRollover()
}
