package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCommand(rootOpts *rootOptions) *cobra.Command {
	var htmlPath, shipping string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check selectors against a saved page",
		Long: `Run the stock scanner and the shipping parser against a saved HTML page
instead of a live browser. Useful after the shop changes its markup.

Example:
  restock check --html product.html
  restock check --html checkout.html --shipping named:priority`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			driver, err := LoadSnapshotFile(htmlPath)
			if err != nil {
				return err
			}
			if shipping != "" {
				cfg.ShippingPolicy = shipping
			}

			logger := NewLogger(cfg.Logger, cfg.DebugMode)
			defer syncLogger(logger)

			return runCheck(cmd.OutOrStdout(), cfg, driver, logger)
		},
	}

	cmd.Flags().StringVar(&htmlPath, "html", "", "Saved HTML page to check")
	cmd.Flags().StringVar(&shipping, "shipping", "", "Shipping policy to evaluate (overrides config)")
	_ = cmd.MarkFlagRequired("html")

	return cmd
}

func runCheck(w io.Writer, cfg *Config, driver PageDriver, logger *zap.Logger) error {
	policy, err := ParseShippingPolicy(cfg.ShippingPolicy)
	if err != nil {
		return err
	}

	pc := &PurchaseContext{
		Config: cfg,
		Logger: logger,
		Clock:  systemClock{},
		Cart:   &CartState{},
	}
	pc.Session = NewSessionController(func() (PageDriver, error) { return driver, nil }, cfg.ProductURL, 0, logger.Named("session"), nil)
	if _, err := pc.Session.Open(); err != nil {
		return err
	}

	variants := NewStockScanner(pc).Scan(cfg.ActiveVariants())
	fmt.Fprintf(w, "In-stock variants matching filter: %d\n", len(variants))
	for _, v := range variants {
		fmt.Fprintf(w, "  - %s\n", v.Label)
	}

	option, err := NewOrchestrator(pc).DetermineShipping(policy)
	switch {
	case errors.Is(err, ErrNoShippingOptions):
		fmt.Fprintln(w, "Shipping options: none found")
	case err != nil:
		return err
	default:
		fmt.Fprintf(w, "Shipping (%s): %s [%d]\n", policy, option.Label, option.PriceMinorUnits)
	}
	return nil
}

func newInitConfigCommand(rootOpts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeInitialConfig(cmd.OutOrStdout(), rootOpts.ConfigPath, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func writeInitialConfig(w io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists; use --force to overwrite", path)
	}

	cfg := DefaultConfig()
	cfg.Accounts = []Account{{
		ID: "primary",
		Login: LoginInfo{
			Username: "${RESTOCK_USERNAME}",
			Password: "${RESTOCK_PASSWORD}",
			OTPSeed:  "${RESTOCK_OTP_SEED}",
		},
	}}

	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %s\n", path)
	return nil
}

func newOTPCommand(rootOpts *rootOptions) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "otp",
		Short: "Print the current one-time code for an account",
		Long: `Print the one-time code the bot would submit right now. Compare it with
an authenticator app to confirm the seed and the local clock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Resolve()

			logger := NewLogger(cfg.Logger, cfg.DebugMode)
			defer syncLogger(logger)
			return printOTP(cmd.OutOrStdout(), cfg, accountID, newClock(cfg, logger))
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Account id (defaults to the initial account)")
	return cmd
}

func printOTP(w io.Writer, cfg *Config, accountID string, clock Clock) error {
	now := clock.Now()
	if ts, ok := clock.(*TimeSync); ok && ts.IsSynced() {
		fmt.Fprintf(w, "clock offset: %s\n", ts.GetOffset().Round(time.Second))
	}

	if accountID == "" {
		accountID = cfg.InitialAccount
	}
	if accountID == "" && len(cfg.Accounts) > 0 {
		accountID = cfg.Accounts[0].ID
	}

	for _, acct := range cfg.Accounts {
		if acct.ID != accountID {
			continue
		}
		code, err := CurrentCode(acct.Login.OTPSeed, now)
		if err != nil {
			return fmt.Errorf("account %s: %w", acct.ID, err)
		}
		remaining := 30 - now.Unix()%30
		fmt.Fprintf(w, "%s: %s (valid for %ds)\n", acct.ID, code, remaining)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownAccount, accountID)
}
