// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Fields are populated by
// viper.Unmarshal in the command layer; defaults live in SetDefaults.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Login       LoginConfig       `mapstructure:"login" yaml:"login"`
	Mailbox     MailboxConfig     `mapstructure:"mailbox" yaml:"mailbox"`
	Registry    RegistryConfig    `mapstructure:"registry" yaml:"registry"`
	Notify      NotifyConfig      `mapstructure:"notify" yaml:"notify"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Sessions    SessionsConfig    `mapstructure:"sessions" yaml:"sessions"`
	OAuth       OAuthConfig       `mapstructure:"oauth" yaml:"oauth"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the chromedp allocator and per-surface behavior.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
}

// LoginConfig controls the attempt loop and second factor handling.
type LoginConfig struct {
	SignInURL   string `mapstructure:"sign_in_url" yaml:"sign_in_url"`
	LandingURL  string `mapstructure:"landing_url" yaml:"landing_url"`
	MaxAttempts int    `mapstructure:"max_attempts" yaml:"max_attempts"`
	// Randomized backoff window between full retries.
	BackoffMin time.Duration `mapstructure:"backoff_min" yaml:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	// Settle window before the previous surface is closed on retry.
	SurfaceSettleMin time.Duration `mapstructure:"surface_settle_min" yaml:"surface_settle_min"`
	SurfaceSettleMax time.Duration `mapstructure:"surface_settle_max" yaml:"surface_settle_max"`
	// Parallel indicates multiple accounts are processed concurrently by the
	// host, which changes how push approvals are polled.
	Parallel bool `mapstructure:"parallel" yaml:"parallel"`
	// ExpectedRecoveryEmail enables the recovery-mismatch detector when set.
	ExpectedRecoveryEmail string `mapstructure:"expected_recovery_email" yaml:"expected_recovery_email"`
}

// MailboxConfig configures verification-code retrieval from the linked mailbox.
type MailboxConfig struct {
	WebmailURL    string        `mapstructure:"webmail_url" yaml:"webmail_url"`
	Address       string        `mapstructure:"address" yaml:"address"`
	Password      string        `mapstructure:"password" yaml:"password"`
	SearchRounds  int           `mapstructure:"search_rounds" yaml:"search_rounds"`
	RoundCooldown time.Duration `mapstructure:"round_cooldown" yaml:"round_cooldown"`
	// Plain inbox scan width used as the last resort.
	InboxScanDepth int `mapstructure:"inbox_scan_depth" yaml:"inbox_scan_depth"`

	// IMAP enables direct mailbox access, bypassing the webmail UI entirely.
	IMAP IMAPConfig `mapstructure:"imap" yaml:"imap"`
}

// IMAPConfig holds optional direct-IMAP access to the code mailbox.
type IMAPConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
}

// RegistryConfig selects the account registry backend.
type RegistryConfig struct {
	// Backend is "file" or "postgres".
	Backend     string `mapstructure:"backend" yaml:"backend"`
	FilePath    string `mapstructure:"file_path" yaml:"file_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// NotifyConfig configures outbound incident alerts.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DiagnosticsConfig controls capture artifacts for failed or suspicious flows.
type DiagnosticsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Captures per interval, enforced by a rate limiter.
	MaxPerMinute int `mapstructure:"max_per_minute" yaml:"max_per_minute"`
}

// SessionsConfig controls persisted session artifacts.
type SessionsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// OAuthConfig configures the mobile-scope authorization-code exchange.
type OAuthConfig struct {
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	AuthURL     string `mapstructure:"auth_url" yaml:"auth_url"`
	TokenURL    string `mapstructure:"token_url" yaml:"token_url"`
	RedirectURL string `mapstructure:"redirect_url" yaml:"redirect_url"`
	Scope       string `mapstructure:"scope" yaml:"scope"`
}

// SetDefaults registers every default on the provided viper instance. The
// command layer calls this before reading the config file so that a missing
// file still yields a usable configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "loginpilot")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.element_timeout", 10*time.Second)

	v.SetDefault("login.sign_in_url", "https://login.live.com/login.srf")
	v.SetDefault("login.landing_url", "https://account.microsoft.com")
	v.SetDefault("login.max_attempts", 3)
	v.SetDefault("login.backoff_min", 10*time.Minute)
	v.SetDefault("login.backoff_max", 15*time.Minute)
	v.SetDefault("login.surface_settle_min", 40*time.Second)
	v.SetDefault("login.surface_settle_max", 60*time.Second)

	v.SetDefault("mailbox.search_rounds", 3)
	v.SetDefault("mailbox.round_cooldown", 20*time.Second)
	v.SetDefault("mailbox.inbox_scan_depth", 10)
	v.SetDefault("mailbox.imap.port", 993)
	v.SetDefault("mailbox.imap.tls", true)

	v.SetDefault("registry.backend", "file")
	v.SetDefault("registry.file_path", "~/.loginpilot/accounts.json")

	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("diagnostics.dir", "~/.loginpilot/diagnostics")
	v.SetDefault("diagnostics.max_per_minute", 4)

	v.SetDefault("sessions.dir", "~/.loginpilot/sessions")

	v.SetDefault("oauth.scope", "service::prod.rewardsplatform.microsoft.com::MBI_SSL")
}

// Validate sanity-checks the parts of the configuration the orchestrator
// depends on and expands home-relative paths in place.
func (c *Config) Validate() error {
	if c.Login.MaxAttempts <= 0 {
		return fmt.Errorf("login.max_attempts must be positive, got %d", c.Login.MaxAttempts)
	}
	if c.Login.BackoffMax < c.Login.BackoffMin {
		return fmt.Errorf("login.backoff_max (%s) is below login.backoff_min (%s)",
			c.Login.BackoffMax, c.Login.BackoffMin)
	}
	if c.Login.SurfaceSettleMax < c.Login.SurfaceSettleMin {
		return fmt.Errorf("login.surface_settle_max (%s) is below login.surface_settle_min (%s)",
			c.Login.SurfaceSettleMax, c.Login.SurfaceSettleMin)
	}
	switch c.Registry.Backend {
	case "", "none", "file", "postgres":
	default:
		return fmt.Errorf("registry.backend must be \"none\", \"file\" or \"postgres\", got %q", c.Registry.Backend)
	}

	for _, p := range []*string{
		&c.Registry.FilePath,
		&c.Diagnostics.Dir,
		&c.Sessions.Dir,
		&c.Logger.LogFile,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}
