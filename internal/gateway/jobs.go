// ABOUTME: Scheduled gateway jobs run by robfig/cron in UTC
// ABOUTME: Periodic signing key refresh and the monthly usage rollover summary

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/quotagate/internal/quota"
)

// rolloverSchedule fires at 00:05 UTC on the first day of every month.
const rolloverSchedule = "5 0 1 * *"

// scheduleJobs registers the gateway's recurring jobs.
func (g *Gateway) scheduleJobs() error {
	if g.keyRing != nil {
		spec := "@every " + g.config.Auth.IdentityProvider.RefreshInterval.String()
		if _, err := g.cron.AddFunc(spec, g.refreshKeys); err != nil {
			return fmt.Errorf("scheduling key refresh: %w", err)
		}
	}

	if _, err := g.cron.AddFunc(rolloverSchedule, g.logRollover); err != nil {
		return fmt.Errorf("scheduling usage rollover: %w", err)
	}
	return nil
}

// refreshKeys runs a bounded key refresh. Failures are logged by the key ring.
func (g *Gateway) refreshKeys() {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Auth.IdentityProvider.FetchTimeout)
	defer cancel()
	_ = g.keyRing.Refresh(ctx)
}

// RolloverSummary totals one closed period.
type RolloverSummary struct {
	Period       string
	Principals   int
	TotalUnits   int64
	TopPrincipal string
	TopUnits     int64
}

// rolloverSummary totals usage for period.
func (g *Gateway) rolloverSummary(ctx context.Context, period quota.Period) (RolloverSummary, error) {
	records, err := g.ledger.Report(ctx, period)
	if err != nil {
		return RolloverSummary{}, err
	}

	summary := RolloverSummary{Period: period.String(), Principals: len(records)}
	for _, r := range records {
		summary.TotalUnits += r.Units
		if r.Units > summary.TopUnits {
			summary.TopUnits = r.Units
			summary.TopPrincipal = r.PrincipalID
		}
	}
	return summary, nil
}

func (g *Gateway) logRollover() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	period := g.ledger.CurrentPeriod().Prev()
	summary, err := g.rolloverSummary(ctx, period)
	if err != nil {
		g.logger.Error("usage rollover summary failed", "period", period.String(), "error", err)
		return
	}

	g.logger.Info("usage period closed",
		"period", summary.Period,
		"principals", summary.Principals,
		"total_units", summary.TotalUnits,
		"top_principal", summary.TopPrincipal,
		"top_units", summary.TopUnits,
	)
}
