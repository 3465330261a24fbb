// Command aquactl drives a running dashboard over its HTTP API: status refreshes,
// challenge validation, spoiler confirmations and solved-set resets.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"aquarium-dashboard/pkg/auth"
	"aquarium-dashboard/pkg/client"
	"aquarium-dashboard/pkg/config"
	"aquarium-dashboard/pkg/logger"

	"github.com/spf13/cobra"
)

// cli holds the state shared by every subcommand.
type cli struct {
	dashboardURL string
	jsonOutput   bool
	timeout      time.Duration

	cfg  *config.Config
	dash *client.DashboardClient
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "aquactl",
		Short: "Operate the aquarium dashboard",
		Long: `aquactl talks to a running dashboard over HTTP.

Write commands (refresh, validate, confirm, reset) are signed with
SHARED_SECRET_KEY when it is set, using HMAC_KEY_ID as the key id.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	root.PersistentFlags().StringVar(&c.dashboardURL, "url", "", "dashboard base URL (default $DASHBOARD_URL or http://localhost:$DASHBOARD_PORT)")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "print raw JSON responses")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 0, "request timeout (default $REQUEST_TIMEOUT)")

	root.AddCommand(
		c.statusCmd(),
		c.refreshCmd(),
		c.challengesCmd(),
		c.validateCmd(),
		c.messageCmd(),
		c.confirmCmd(),
		c.resetCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.cfg = cfg
	logger.InitStderr(cfg.LogLevel)
	log := logger.NewCategoryLogger(cfg.LogLevel, logger.Ctl, logger.General)

	if c.dashboardURL == "" {
		c.dashboardURL = os.Getenv("DASHBOARD_URL")
	}
	if c.dashboardURL == "" {
		c.dashboardURL = "http://localhost:" + cfg.Port
	}
	if c.timeout == 0 {
		c.timeout = cfg.RequestTimeout
	}

	opts := []client.Option{client.WithTimeout(c.timeout), client.WithLogger(log)}
	if cfg.AuthEnabled() {
		hmacAuth := auth.NewHMACAuth(cfg.GetSecrets(), cfg.GetClockSkew())
		keyID := cfg.HMACKeyID
		opts = append(opts, client.WithRequestSigner(func(r *http.Request) error {
			return hmacAuth.SignRequest(r, keyID)
		}))
	}
	c.dash = client.NewDashboardClient(c.dashboardURL, opts...)

	log.Debug().Str("url", c.dashboardURL).Bool("signed", cfg.AuthEnabled()).Msg("Dashboard client ready")
	return nil
}
