// File: cmd/login.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/liveauth/internal/config"
	"github.com/xkilldash9x/liveauth/internal/liveauth"
	"github.com/xkilldash9x/liveauth/internal/network"
	"github.com/xkilldash9x/liveauth/internal/observability"
	"github.com/xkilldash9x/liveauth/internal/results"
)

// loginFlags maps each flag of the login command to its configuration key.
var loginFlags = map[string]string{
	"login":       "credentials.login",
	"password":    "credentials.password",
	"portal":      "portal.url",
	"results-dir": "results.dir",
	"step-delay":  "network.step_delay",
	"proxy":       "network.proxy_url",
}

func newLoginCmd(a *app) *cobra.Command {
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Run the login handshake once and report the outcome",
		Long: `Runs the full sign-in handshake against the portal and its identity provider.
The password is best supplied through the LIVEAUTH_PASSWORD environment variable.
When the portal does not confirm the session, the last page is stored in the results directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), a.cfg, cmd.OutOrStdout(), observability.GetLogger())
		},
	}

	flags := loginCmd.Flags()
	flags.String("login", "", "account login (env LIVEAUTH_LOGIN)")
	flags.String("password", "", "account password (env LIVEAUTH_PASSWORD)")
	flags.String("portal", config.DefaultPortalURL, "portal URL the session must land on")
	flags.String("results-dir", "result", "directory for diagnostic pages")
	flags.Duration("step-delay", 0, "minimum delay between two requests")
	flags.String("proxy", "", "HTTP proxy URL")

	for flag, key := range loginFlags {
		// Lookup cannot fail for flags defined just above.
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
	return loginCmd
}

// runLogin wires the network, diagnostics and handshake components and runs one attempt.
func runLogin(ctx context.Context, cfg *config.Config, out io.Writer, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	clientCfg, err := network.ClientConfigFromSettings(cfg.Network, logger)
	if err != nil {
		return fmt.Errorf("failed to configure http client: %w", err)
	}
	client, err := network.NewClient(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}
	defer client.CloseIdleConnections()

	// A missing directory is reported later, when a page actually needs storing.
	if err := results.EnsureDir(cfg.Results.Dir); err != nil {
		logger.Warn("Results directory unavailable", zap.Error(err))
	}

	auth, err := liveauth.NewAuthenticator(client, cfg.Portal.URL,
		liveauth.WithHeaders(cfg.Portal.Headers),
		liveauth.WithSink(results.NewFileSink(cfg.Results.Dir, logger)),
		liveauth.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	res, err := auth.Authenticate(ctx, liveauth.Credentials{
		Login:    cfg.Credentials.Login,
		Password: cfg.Credentials.Password,
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "Authenticated %s on %s (attempt %s, %s)\n",
		observability.MaskLogin(cfg.Credentials.Login), res.FinalURL, res.AttemptID, res.Elapsed.Round(time.Millisecond))
	return err
}
