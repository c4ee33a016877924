package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/docsentry/pkg/docsentry/config"
)

// newSetupCmd creates the `docsentry setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the platform app credentials, the Discord bot token, and the
gateway verification token. Secrets are stored in the OS keyring, never
in plaintext on disk.

Examples:
  docsentry setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()

	var (
		appID        string
		appSecret    string
		discordToken string
		verifyToken  string
		baseURL      = "https://open.example-platform.com"
		pollInterval = "30s"
		confirm      = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Platform app ID").
				Description("The app registered on the document platform.").
				Value(&appID).
				Validate(required("app ID")),
			huh.NewInput().
				Title("Platform app secret").
				EchoMode(huh.EchoModePassword).
				Value(&appSecret).
				Validate(required("app secret")),
			huh.NewInput().
				Title("Platform API base URL").
				Value(&baseURL),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				Description("Leave empty to configure the channel later.").
				EchoMode(huh.EchoModePassword).
				Value(&discordToken),
			huh.NewInput().
				Title("Webhook verification token").
				Description("The provider echoes this in every pushed event.").
				Value(&verifyToken),
			huh.NewSelect[string]().
				Title("Poll interval").
				Options(
					huh.NewOption("30 seconds (default)", "30s"),
					huh.NewOption("1 minute", "1m"),
					huh.NewOption("5 minutes", "5m"),
				).
				Value(&pollInterval),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save to config.yaml?").
				Value(&confirm),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}
	if !confirm {
		fmt.Println("Setup cancelled.")
		return nil
	}

	cfg.Provider.AppID = appID
	cfg.Provider.BaseURL = baseURL
	cfg.Gateway.WebhookVerifyToken = verifyToken
	if d, err := time.ParseDuration(pollInterval); err == nil {
		cfg.Poller.Interval = d
	}

	// Secrets go to the OS keyring when available; config.Save replaces any
	// in-memory values with env references anyway.
	secretsInKeyring := config.KeyringAvailable()
	if secretsInKeyring {
		if err := config.StoreKeyring(config.KeyAppSecret, appSecret); err != nil {
			secretsInKeyring = false
		}
		if discordToken != "" {
			if err := config.StoreKeyring(config.KeyDiscordToken, discordToken); err != nil {
				secretsInKeyring = false
			}
		}
	}
	cfg.Provider.AppSecret = appSecret
	cfg.Discord.Token = discordToken

	target := "config.yaml"
	if _, err := os.Stat(target); err == nil {
		overwrite := false
		prompt := huh.NewConfirm().
			Title(target + " already exists. Overwrite?").
			Value(&overwrite)
		if err := prompt.Run(); err != nil || !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := config.Save(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Println("config.yaml created.")
	if secretsInKeyring {
		fmt.Println("  - secrets stored in the OS keyring")
	} else {
		fmt.Println("  - OS keyring unavailable; export DOCSENTRY_APP_SECRET and")
		fmt.Println("    DOCSENTRY_DISCORD_TOKEN (a .env file works too)")
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Run: docsentry serve")
	fmt.Println("  2. In Discord: !docs watch <token> [type]")
	fmt.Println()
	return nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
