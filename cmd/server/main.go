package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/nextphaseit/portal-identity/internal/config"
	"github.com/nextphaseit/portal-identity/tenants"
	"github.com/nextphaseit/portal-identity/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "portal-identity",
		Short:         "Identity and session service for the NextPhase IT portal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnv(envFile)
			setupLogger(config.New())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path of the .env file (ENV_FILE_PATH overrides)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve()
			},
		},
		newHashPasswordCmd(),
		newTenantsCmd(),
	)
	return root
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for a local account's password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := users.ValidatePasswordStrength(args[0]); err != nil {
				return err
			}
			hash, err := users.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newTenantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tenants",
		Short: "Validate the tenants file and list its organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := tenants.LoadRegistry(config.New().GetTenantsFile())
			if err != nil {
				return err
			}
			list, err := registry.List(0, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range list {
				fmt.Fprintf(out, "%-20s %-30s %-40s %s\n", t.ID, t.Name, strings.Join(t.Domains, ","), t.SessionTimeout)
			}
			fmt.Fprintf(out, "%d tenant(s), %d local account(s)\n", registry.Len(), len(registry.LocalAccounts()))
			return nil
		},
	}
}

// setupLogger uses a console writer in DEV and JSON elsewhere.
func setupLogger(c config.EnvConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if c.GetEnv() == "DEV" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "portal-identity").Logger()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
