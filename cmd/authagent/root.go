package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/shipnorth/portal-auth/internal/authagent"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/spf13/cobra"
)

const defaultBaseURL = "http://localhost:8080"

// ErrChecksFailed is returned when at least one account failed its checks.
var ErrChecksFailed = errors.New("auth checks failed")

type rootOptions struct {
	baseURL string
	timeout time.Duration
	verbose bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "authagent",
		Short: "Exercise portal sign-in end to end.",
		Long: `authagent drives the portal login pages with a cookie-keeping HTTP browser and
checks the session endpoint directly after every step.

The base URL defaults to $AUTHAGENT_BASE_URL, or ` + defaultBaseURL + ` when unset.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	baseURL := os.Getenv("AUTHAGENT_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", baseURL, "Service root URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Timeout for each request")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every step")

	root.AddCommand(newHealthCmd(opts), newLoginCmd(opts), newTestAllCmd(opts))
	return root
}

func (o *rootOptions) agent(cmd *cobra.Command) (*authagent.Agent, error) {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return authagent.New(authagent.Config{BaseURL: o.baseURL, Timeout: o.timeout, Logger: logger})
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the service is up and refuses anonymous sessions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, err := opts.agent(cmd)
			if err != nil {
				return err
			}
			if err := agent.HealthCheck(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return err
		},
	}
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var email, password, portal string
	var paths []string
	cmd := &cobra.Command{
		Use:     "login",
		Short:   "Sign in one account and check the pages it should reach.",
		Example: "authagent login --email staff@shipnorth.com --password staff123 --path /staff",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, err := opts.agent(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := agent.Login(ctx, email, password); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "signed in as %s at %s\n", email, agent.Browser().URL().Path); err != nil {
				return err
			}
			if portal != "" {
				p, ok := domainauth.ParsePortal(portal)
				if !ok {
					return fmt.Errorf("unknown portal %q", portal)
				}
				if err := agent.SwitchPortal(ctx, p); err != nil {
					return err
				}
				if _, err := fmt.Fprintf(out, "switched to %s\n", p.RootPath()); err != nil {
					return err
				}
			}
			for _, p := range paths {
				if err := agent.ExpectPortalAccess(ctx, p); err != nil {
					return err
				}
				if _, err := fmt.Fprintf(out, "reached %s\n", p); err != nil {
					return err
				}
			}
			return agent.Logout(ctx)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email (required)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (required)")
	cmd.Flags().StringVar(&portal, "switch", "", "Portal to switch to after login (staff, driver, customer)")
	cmd.Flags().StringSliceVar(&paths, "path", nil, "Paths the account must be able to open")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newTestAllCmd(opts *rootOptions) *cobra.Command {
	var skipHealth bool
	cmd := &cobra.Command{
		Use:   "test-all",
		Short: "Run the full sign-in cycle for every demo account.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, err := opts.agent(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if !skipHealth {
				if err := agent.HealthCheck(ctx); err != nil {
					return fmt.Errorf("health check: %w", err)
				}
			}
			report := agent.TestAllUsers(ctx, authagent.DefaultFixtures())
			if err := report.Write(cmd.OutOrStdout()); err != nil {
				return err
			}
			if !report.Passed() {
				return fmt.Errorf("%d account(s): %w", report.Failures(), ErrChecksFailed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipHealth, "skip-health", false, "Skip the health check before the run")
	return cmd
}
