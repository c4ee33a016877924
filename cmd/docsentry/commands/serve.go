package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/docsentry/pkg/docsentry/channels/discord"
	"github.com/jholhewres/docsentry/pkg/docsentry/config"
	"github.com/jholhewres/docsentry/pkg/docsentry/gateway"
	"github.com/jholhewres/docsentry/pkg/docsentry/health"
	"github.com/jholhewres/docsentry/pkg/docsentry/history"
	"github.com/jholhewres/docsentry/pkg/docsentry/ingest"
	"github.com/jholhewres/docsentry/pkg/docsentry/notify"
	"github.com/jholhewres/docsentry/pkg/docsentry/poller"
	"github.com/jholhewres/docsentry/pkg/docsentry/provider"
	"github.com/jholhewres/docsentry/pkg/docsentry/service"
	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

// newServeCmd creates the `docsentry serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the tracking daemon",
		Long: `Start DocSentry as a daemon: connects the chat channels, starts the
polling sweep and the webhook gateway, and processes watch commands.

Examples:
  docsentry serve
  docsentry serve --config ./docsentry.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg)

	if cfg.Provider.AppID == "" || cfg.Provider.AppSecret == "" {
		return fmt.Errorf("provider credentials missing; run `docsentry setup` first")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Core engine ──
	store := tracking.NewStore(logger)
	debCfg, err := cfg.TrackingDebounce()
	if err != nil {
		return fmt.Errorf("debounce config: %w", err)
	}
	debouncer := tracking.NewDebouncer(store, debCfg, logger)
	reporter := health.NewReporter(store, cfg.Health)
	prov := provider.NewHTTPClient(cfg.Provider, logger)

	// ── Change history ──
	hist, err := history.Open(cfg.HistoryPath, logger)
	if err != nil {
		return fmt.Errorf("opening change history: %w", err)
	}
	defer hist.Close()

	// ── Channels ──
	notifier := notify.NewManager(logger)
	var dc *discord.Discord
	if cfg.Discord.Token != "" {
		dc = discord.New(cfg.Discord, logger)
		notifier.Register(dc)
		logger.Info("Discord channel registered")
	} else {
		logger.Warn("no Discord token configured; notifications have nowhere to go")
	}

	// ── Service, poller, gateway ──
	svc := service.New(store, debouncer, prov, notifier, hist, reporter, logger)
	ing := ingest.New(svc, store, logger)
	p := poller.New(cfg.Poller, store, prov, svc, reporter, logger)
	gw := gateway.New(svc, ing, cfg.Gateway, logger)

	if dc != nil {
		if err := dc.Connect(ctx); err != nil {
			logger.Error("failed to connect Discord", "error", err)
		} else {
			go svc.ListenChannel(ctx, dc, logger)
		}
	}

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting poller: %w", err)
	}
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}

	logger.Info("DocSentry running. Press Ctrl+C to stop.",
		"poll_interval", cfg.Poller.Interval.String(),
		"gateway", cfg.Gateway.Address,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		p.Stop()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		_ = gw.Stop(shutdownCtx)
		cancelShutdown()
		if dc != nil {
			_ = dc.Disconnect()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// resolveConfig loads config from the --config flag or standard locations.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	return nil, fmt.Errorf("no configuration file found; run `docsentry setup`")
}

// buildLogger creates the process logger from config and the verbose flag.
func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
