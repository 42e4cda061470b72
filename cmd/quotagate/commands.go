// ABOUTME: Operator subcommands that work against the config and store directly
// ABOUTME: token mints credentials, usage and audit print reports, health probes a running server

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/quotagate/internal/admin"
	"github.com/2389/quotagate/internal/auth"
	"github.com/2389/quotagate/internal/config"
	"github.com/2389/quotagate/internal/quota"
	"github.com/2389/quotagate/internal/store"
)

// operatorPrincipal stands in for the administrator when the CLI acts with
// direct access to the config file.
func operatorPrincipal(cfg *config.Config) auth.Principal {
	return auth.Principal{
		ID:          cfg.Auth.AdminPrincipalID,
		DisplayName: "quotagate CLI",
		AuthSource:  auth.AuthSourceInternal,
	}
}

func newTokenCmd(load configLoader) *cobra.Command {
	var (
		id    string
		email string
		name  string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an internal credential",
		Long: "Mint an HS256 credential signed with auth.jwt_secret. The credential is\n" +
			"accepted by every gateway sharing the secret and the issuance is audited.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.Auth.InternalTokenTTL
			}

			s, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer s.Close()

			issued, err := mintToken(cmd.Context(), cfg, s, auth.Principal{
				ID:          id,
				DisplayName: name,
				Email:       email,
				AuthSource:  auth.AuthSourceInternal,
			}, ttl)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, issued.Token)
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), color.HiBlackString("expires %s", issued.ExpiresAt.Format(time.RFC3339)))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "principal id (sub claim)")
	cmd.Flags().StringVar(&email, "email", "", "principal email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", config.DefaultInternalTokenTTL, "credential lifetime (default auth.internal_token_ttl)")
	return cmd
}

// mintToken issues a credential through the admin gate so the CLI shares its
// lifetime limits and audit trail.
func mintToken(ctx context.Context, cfg *config.Config, s *store.SQLiteStore, target auth.Principal, ttl time.Duration) (*admin.IssuedToken, error) {
	gate := admin.NewGate(admin.GateConfig{
		AdminPrincipalID: cfg.Auth.AdminPrincipalID,
		Directory:        s,
		Audit:            s,
		Issuer:           auth.NewInternalVerifier([]byte(cfg.Auth.JWTSecret)),
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return gate.IssueToken(ctx, operatorPrincipal(cfg), target, ttl)
}

func newUsageCmd(load configLoader) *cobra.Command {
	var (
		periodFlag string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print the usage report for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := load()
			if err != nil {
				return err
			}

			period := quota.PeriodOf(time.Now())
			if periodFlag != "" {
				period, err = quota.ParsePeriod(periodFlag)
				if err != nil {
					return err
				}
			}

			report, err := usageReport(cmd.Context(), cfg, period)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printUsageReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&periodFlag, "period", "", "period as YYYY-MM (default current UTC month)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

// usageReport builds the admin report from the stores without a running server.
func usageReport(ctx context.Context, cfg *config.Config, period quota.Period) (*admin.UsageReport, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	var (
		usage    store.UsageStore       = s
		counter  quota.PrincipalCounter = s
		settings admin.Settings         = s
	)
	if cfg.Usage.Backend == config.UsageBackendRedis {
		r, err := store.NewRedisStore(ctx, cfg.Usage.RedisAddr, cfg.Usage.RedisPassword, cfg.Usage.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		defer r.Close()
		usage, counter, settings = r, r, r
	}

	ledger := quota.NewLedger(usage, logger)
	policy := quota.NewPolicy(ledger, settings, counter, quota.PolicyOptions{
		EstimateMultiplier: cfg.Quota.EstimateMultiplier,
		DefaultBudget:      cfg.Quota.MonthlyUnitBudget,
		Logger:             logger,
	})
	gate := admin.NewGate(admin.GateConfig{
		AdminPrincipalID: cfg.Auth.AdminPrincipalID,
		Ledger:           ledger,
		Policy:           policy,
		Directory:        s,
		Settings:         settings,
		Audit:            s,
		Logger:           logger,
	})
	return gate.UsageReport(ctx, operatorPrincipal(cfg), period)
}

func printUsageReport(w io.Writer, report *admin.UsageReport) error {
	cyan := color.New(color.FgCyan)
	_, _ = cyan.Fprintf(w, "Usage for %s\n", report.Period)
	_, _ = fmt.Fprintf(w, "Budget %d units, %d principals, %d per principal, %d used\n\n",
		report.Budget, report.Registered, report.PerUser, report.TotalUnits)

	if len(report.Entries) == 0 {
		_, err := fmt.Fprintln(w, "No usage recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PRINCIPAL\tNAME\tEMAIL\tUNITS\tOF LIMIT")
	for _, e := range report.Entries {
		pct := 0.0
		if report.PerUser > 0 {
			pct = float64(e.Units) / float64(report.PerUser) * 100
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.1f%%\n", e.PrincipalID, e.DisplayName, e.Email, e.Units, pct)
	}
	return tw.Flush()
}

func newAuditCmd(load configLoader) *cobra.Command {
	var (
		actor  string
		action string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent administrative actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := load()
			if err != nil {
				return err
			}

			s, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer s.Close()

			f := store.AuditFilter{Limit: limit}
			if actor != "" {
				f.ActorPrincipalID = &actor
			}
			if action != "" {
				a := store.AuditAction(action)
				f.Action = &a
			}

			gate := admin.NewGate(admin.GateConfig{
				AdminPrincipalID: cfg.Auth.AdminPrincipalID,
				Audit:            s,
				Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			entries, err := gate.AuditTrail(cmd.Context(), operatorPrincipal(cfg), f)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			return printAuditLog(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "only actions by this principal id")
	cmd.Flags().StringVar(&action, "action", "", "only this action (set_monthly_budget, issue_token)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries (up to 1000)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func printAuditLog(w io.Writer, entries []store.AuditEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No audit entries.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tTARGET")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s:%s\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.ActorPrincipalID, e.Action, e.TargetType, e.TargetID)
	}
	return tw.Flush()
}

func newHealthCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := load()
			if err != nil {
				return err
			}
			if err := checkHealth(cmd.Context(), healthURL(cfg.Server.HTTPAddr)); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
}

// healthURL turns a listen address into a URL a local client can dial.
func healthURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return fmt.Sprintf("http://%s/api/health", listenAddr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/api/health", net.JoinHostPort(host, port))
}

func checkHealth(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
