package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	ConfigPath string
}

type runOptions struct {
	URL      string
	DryRun   bool
	Debug    bool
	Headless bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "restock",
		Short: "Restock purchase bot",
		Long: `Watches a product page for restocked variants and buys the first match.

Accounts are signed in with a password and a time-based one-time code,
and rotate after every purchase.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "Path to configuration file")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newInitConfigCommand(opts))
	cmd.AddCommand(newOTPCommand(opts))

	return cmd
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll for stock and purchase",
		Long: `Poll the product page and purchase the first in-stock variant that
matches the configured filter.

Example:
  restock run --config config.yaml --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurchase(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "Product page URL (overrides config)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Run every checkout step except order submission")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.Headless, "headless", true, "Run the browser without a window")

	return cmd
}

func runPurchase(cmd *cobra.Command, rootOpts *rootOptions, opts *runOptions) error {
	cfg, err := LoadConfig(rootOpts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if opts.URL != "" {
		cfg.ProductURL = opts.URL
	}
	if opts.DryRun {
		cfg.DryRun = true
	}
	if opts.Debug {
		cfg.DebugMode = true
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless = opts.Headless
	}

	logger := NewLogger(cfg.Logger, cfg.DebugMode)
	defer syncLogger(logger)

	checkUserDataDirPermissions(logger)

	if cfg.ProductURL == "" {
		return errors.New("no product URL specified; use --url or set product_url in the config file")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg.Resolve()

	printBanner(cfg)

	metrics := NewMetrics()
	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr, logger.Named("metrics"))
	}

	clock := newClock(cfg, logger)

	messages, err := LoadMessages(cfg.MessagesFile)
	if err != nil {
		return err
	}

	pc, err := NewPurchaseContext(cfg, NewRodDriverFactory(cfg, logger.Named("driver")), clock, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := pc.Session.Close(); err != nil {
			logger.Warn("Failed to close browser session", zap.Error(err))
		}
	}()

	loop, err := NewRunLoop(pc, newNotifier(cfg, logger.Named("notifier")), messages)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return loop.Run(ctx)
}

func newNotifier(cfg *Config, logger *zap.Logger) Notifier {
	if cfg.Notifier.WebhookURL == "" {
		return NewLogNotifier(logger)
	}
	return MultiNotifier{NewLogNotifier(logger), NewWebhookNotifier(cfg.Notifier, logger)}
}

func printBanner(cfg *Config) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                   Restock Purchase Bot                    ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Target URL: %s\n", cfg.ProductURL)
	fmt.Printf("Browser Profile: %s\n", cfg.BrowserProfilePath)
	fmt.Printf("Variants: %s\n", strings.Join(cfg.ActiveVariants(), ", "))
	fmt.Printf("Accounts: %d\n", len(cfg.Accounts))
	if cfg.DryRun {
		fmt.Println("🧪 DRY RUN - orders will not be submitted")
	}
	if cfg.DebugMode {
		fmt.Println("🔍 DEBUG MODE - Detailed logging enabled")
	}
	fmt.Println()
}

// Kept until a logger exists to report it.
var initUserDataDirError error

func init() {
	if err := os.MkdirAll(getUserDataDir(), 0755); err != nil {
		initUserDataDirError = err
	}
}

func checkUserDataDirPermissions(logger *zap.Logger) {
	if initUserDataDirError == nil {
		return
	}
	dir := getUserDataDir()
	if runtime.GOOS == "darwin" && strings.Contains(initUserDataDirError.Error(), "operation not permitted") {
		logger.Warn("macOS blocked access to the data directory; grant the terminal Full Disk Access or set browser_profile_path",
			zap.String("dir", dir))
	}
	logger.Warn("Could not create user data directory", zap.String("dir", dir), zap.Error(initUserDataDirError))
}

// commandContext returns the command's context, or a background one for
// commands executed without ExecuteContext.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// newClock returns the clock one-time codes and schedule windows read. With
// time_sync on it is a TimeSync even when the first sync fails: Now falls
// back to local time until a later resync succeeds.
func newClock(cfg *Config, logger *zap.Logger) Clock {
	if !cfg.TimeSync {
		return systemClock{}
	}
	ts := NewTimeSync(cfg.TimeServers, logger.Named("timesync"))
	if err := ts.Sync(); err != nil {
		logger.Warn("Time sync failed, using local clock", zap.Error(err))
	}
	return ts
}
