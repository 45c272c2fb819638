// File: cmd/login.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/auth"
	"github.com/xkilldash9x/loginpilot/internal/browser"
	"github.com/xkilldash9x/loginpilot/internal/config"
	"github.com/xkilldash9x/loginpilot/internal/console"
	"github.com/xkilldash9x/loginpilot/internal/diagnostics"
	"github.com/xkilldash9x/loginpilot/internal/incident"
	"github.com/xkilldash9x/loginpilot/internal/mailcode"
	"github.com/xkilldash9x/loginpilot/internal/notify"
	"github.com/xkilldash9x/loginpilot/internal/observability"
	"github.com/xkilldash9x/loginpilot/internal/registry"
	"github.com/xkilldash9x/loginpilot/internal/sessionstore"
)

var (
	loginEmail      string
	loginPassword   string
	loginTOTPSecret string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the full sign-in flow for one account.",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer stack.shutdown()

		creds, err := credentialsFromFlags()
		if err != nil {
			return err
		}

		surface, err := stack.browsers.NewSurface(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to open browsing surface: %w", err)
		}
		_, err = stack.orchestrator.Login(cmd.Context(), surface, creds)
		return err
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email (or LOGINPILOT_ACCOUNT_EMAIL)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (or LOGINPILOT_ACCOUNT_PASSWORD)")
	loginCmd.Flags().StringVar(&loginTOTPSecret, "totp-secret", "", "base32 authenticator secret (or LOGINPILOT_ACCOUNT_TOTP_SECRET)")
	rootCmd.AddCommand(loginCmd)
}

// credentialsFromFlags resolves the account credentials with flags taking
// precedence over environment variables.
func credentialsFromFlags() (auth.AccountCredentials, error) {
	creds := auth.AccountCredentials{
		Email:      firstNonEmpty(loginEmail, os.Getenv("LOGINPILOT_ACCOUNT_EMAIL")),
		Password:   firstNonEmpty(loginPassword, os.Getenv("LOGINPILOT_ACCOUNT_PASSWORD")),
		TOTPSecret: firstNonEmpty(loginTOTPSecret, os.Getenv("LOGINPILOT_ACCOUNT_TOTP_SECRET")),
	}
	if creds.Email == "" || creds.Password == "" {
		return auth.AccountCredentials{}, fmt.Errorf("account email and password are required")
	}
	return creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// appStack bundles everything a subcommand needs, built once per run.
type appStack struct {
	cfg          *config.Config
	logger       *zap.Logger
	browsers     *browser.Manager
	standby      *incident.Standby
	orchestrator *auth.Orchestrator
	cleanup      []func()
}

func (s *appStack) shutdown() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// buildStack wires the full dependency graph from the effective config.
func buildStack(ctx context.Context) (*appStack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := observability.GetLogger()

	stack := &appStack{cfg: cfg, logger: logger}

	stack.browsers = browser.NewManager(cfg.Browser, logger)
	stack.cleanup = append(stack.cleanup, func() {
		stack.browsers.Shutdown(context.Background())
	})

	stack.standby = incident.NewStandby(logger)
	stack.standby.StartReminder(ctx, 0)

	var alerts incident.AlertSender
	if cfg.Notify.WebhookURL != "" {
		alerts = notify.NewWebhook(cfg.Notify, logger)
	}
	var diags incident.Capturer
	if cfg.Diagnostics.Dir != "" {
		diags = diagnostics.NewRecorder(cfg.Diagnostics, logger)
	}
	detector := incident.NewDetector(logger, stack.standby, alerts, diags, cfg.Login.ExpectedRecoveryEmail)

	reg, err := buildRegistry(ctx, cfg, logger, stack)
	if err != nil {
		return nil, err
	}

	var sessions auth.SessionSaver
	if cfg.Sessions.Dir != "" {
		sessions = sessionstore.NewStore(cfg.Sessions.Dir, logger)
	}

	prompter := console.NewPrompter(logger, os.Stdin, os.Stdout)
	retriever := mailcode.NewRetriever(cfg.Mailbox, logger, stack.browsers.NewSurface)
	resolver := auth.NewSecondFactorResolver(logger, cfg.Login, retriever, prompter)
	stage := auth.NewCredentialStage(logger, resolver, cfg.Browser.ElementTimeout)

	stack.orchestrator = auth.NewOrchestrator(
		logger, cfg.Login, stack.browsers, stage, detector, stack.standby, reg, sessions,
	)
	stack.orchestrator.OnError(func(ev auth.LoginErrorEvent) {
		if ev.ShouldRestartBrowsers {
			stack.browsers.Restart(context.Background())
		}
	})

	return stack, nil
}

// buildRegistry selects the account registry backend per configuration. An
// empty backend disables the registry entirely.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger, stack *appStack) (auth.AccountRegistry, error) {
	switch cfg.Registry.Backend {
	case "", "none":
		return nil, nil
	case "file":
		return registry.NewFileRegistry(cfg.Registry.FilePath, logger), nil
	case "postgres":
		pool, err := registry.ConnectPG(ctx, cfg.Registry.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect registry database: %w", err)
		}
		stack.cleanup = append(stack.cleanup, pool.Close)
		return registry.NewPGRegistry(ctx, pool, logger)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}
