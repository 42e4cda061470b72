// ABOUTME: Entry point for the quotagate server and its operator commands
// ABOUTME: Cobra root command, config path resolution, and the serve subcommand

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/quotagate/internal/config"
	"github.com/2389/quotagate/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                    _                    _
  __ _ _   _  ___ | |_ __ _  __ _  __ _| |_ ___
 / _' | | | |/ _ \| __/ _' |/ _' |/ _' | __/ _ \
| (_| | |_| | (_) | || (_| | (_| | (_| | ||  __/
 \__, |\__,_|\___/ \__\__,_|\__, |\__,_|\__\___|
    |_|                     |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: --config flag > QUOTAGATE_CONFIG env var > XDG_CONFIG_HOME/quotagate/gateway.yaml > ~/.config/quotagate/gateway.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("QUOTAGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "quotagate", "gateway.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "quotagate",
		Short:         "Credential-checking, quota-enforcing gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default $QUOTAGATE_CONFIG or ~/.config/quotagate/gateway.yaml)")

	loadConfig := func() (string, *config.Config, error) {
		path := getConfigPath(configFlag)
		cfg, err := config.Load(path)
		if err != nil {
			return path, nil, fmt.Errorf("loading config: %w", err)
		}
		return path, cfg, nil
	}

	rootCmd.AddCommand(
		newServeCmd(loadConfig),
		newTokenCmd(loadConfig),
		newUsageCmd(loadConfig),
		newAuditCmd(loadConfig),
		newHealthCmd(loadConfig),
		newVersionCmd(),
	)
	return rootCmd
}

// configLoader resolves and loads the config file selected by the root flags.
type configLoader func() (string, *config.Config, error)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cyan := color.New(color.FgCyan)
			cyan.Print(banner)

			gray := color.New(color.FgHiBlack)
			gray.Printf("    version: %s\n\n", version)

			configPath, cfg, err := load()
			if err != nil {
				return err
			}

			logger := setupLogger(cfg.Logging)
			printStartup(configPath, cfg)

			logger.Info("starting quotagate",
				"config", configPath,
				"http_addr", cfg.Server.HTTPAddr,
				"usage_backend", cfg.Usage.Backend,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func printStartup(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Usage:     %s", cfg.Usage.Backend)
	if cfg.Usage.Backend == config.UsageBackendRedis {
		gray.Printf(" (%s)", cfg.Usage.RedisAddr)
	}
	fmt.Println()

	idp := cfg.Auth.IdentityProvider
	green.Print("    ▶ ")
	fmt.Print("Provider:  ")
	switch {
	case !idp.Enabled():
		gray.Print("none (internal credentials only)")
	case idp.JWKSURL != "":
		fmt.Print(idp.JWKSURL)
	default:
		fmt.Print(idp.IssuerURL)
	}
	if idp.AllowAudienceFallback {
		yellow.Print(" [audience fallback]")
	}
	fmt.Println()

	if cfg.Quota.StrictReservations {
		green.Print("    ▶ ")
		fmt.Print("Quota:     ")
		yellow.Println("strict reservations")
	}
	fmt.Println()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "quotagate version %s\n", version)
			return nil
		},
	}
}
