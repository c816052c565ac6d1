package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ProductURL string `yaml:"product_url"`

	BrowserProfilePath string `yaml:"browser_profile_path"`
	Headless           bool   `yaml:"headless"`
	ViewportWidth      int    `yaml:"viewport_width"`
	ViewportHeight     int    `yaml:"viewport_height"`

	PageLoadTimeout  int     `yaml:"page_load_timeout"`
	WaitTimeout      float64 `yaml:"wait_timeout"`
	IndicatorTimeout float64 `yaml:"indicator_timeout"`
	NavigateRetries  int     `yaml:"navigate_retries"`
	PollInterval     float64 `yaml:"poll_interval"`
	CartSettleMs     int     `yaml:"cart_settle_ms"`
	SubmitSettleMs   int     `yaml:"submit_settle_ms"`

	Variants       []string `yaml:"variants"`
	DryRunVariants []string `yaml:"dry_run_variants"`
	ShippingPolicy string   `yaml:"shipping_policy"`

	AssumeCleanOnReadFailure bool `yaml:"assume_clean_on_read_failure"`
	CycleRetryBudget         int  `yaml:"cycle_retry_budget"`
	MaxPurchases             int  `yaml:"max_purchases"`

	InitialAccount      string    `yaml:"initial_account"`
	PostPurchaseAccount string    `yaml:"post_purchase_account"`
	Accounts            []Account `yaml:"accounts"`

	Schedule    []WindowConfig `yaml:"schedule"`
	TimeSync    bool           `yaml:"time_sync"`
	TimeServers []string       `yaml:"time_servers"`

	DryRun         bool `yaml:"dry_run"`
	DebugMode      bool `yaml:"debug_mode"`
	NotifyInDryRun bool `yaml:"notify_in_dry_run"`

	Notifier     NotifierConfig `yaml:"notifier"`
	MetricsAddr  string         `yaml:"metrics_addr"`
	MessagesFile string         `yaml:"messages_file"`
	Logger       LoggerConfig   `yaml:"logger"`

	Text      PageTextConfig `yaml:"page_text"`
	Selectors SelectorConfig `yaml:"selectors"`
}

type Account struct {
	ID       string          `yaml:"id"`
	Login    LoginInfo       `yaml:"login"`
	Shipping ShippingProfile `yaml:"shipping"`

	loginFields    []FieldDescriptor
	checkoutFields []FieldDescriptor
}

// LoginInfo values may reference environment variables as ${NAME}.
type LoginInfo struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	OTPSeed  string `yaml:"otp_seed"`
}

type ShippingProfile struct {
	Name       string `yaml:"name"`
	Address1   string `yaml:"address1"`
	Address2   string `yaml:"address2"`
	City       string `yaml:"city"`
	State      string `yaml:"state"`
	PostalCode string `yaml:"postal_code"`
	Phone      string `yaml:"phone"`
}

type WindowConfig struct {
	Start string `yaml:"start"`
	Stop  string `yaml:"stop"`
}

type NotifierConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Retries        int    `yaml:"retries"`
	Subject        string `yaml:"subject_prefix"`
}

type LoggerConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	AddSource  bool   `yaml:"add_source"`
	LogFile    string `yaml:"log_file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// PageTextConfig holds the literal strings the workflow compares page text
// against. They are normalized before comparison.
type PageTextConfig struct {
	OutOfStock       string `yaml:"out_of_stock"`
	RetryLater       string `yaml:"retry_later"`
	AddressAsEntered string `yaml:"address_as_entered"`
	SignOut          string `yaml:"sign_out"`
}

type SelectorConfig struct {
	SignInEntry   Selector `yaml:"sign_in_entry"`
	Username      Selector `yaml:"username"`
	Password      Selector `yaml:"password"`
	SignInSubmit  Selector `yaml:"sign_in_submit"`
	OTPField      Selector `yaml:"otp_field"`
	OTPSubmit     Selector `yaml:"otp_submit"`
	InvalidCode   Selector `yaml:"invalid_code"`
	Authenticated Selector `yaml:"authenticated"`
	AccountMenu   Selector `yaml:"account_menu"`
	AccountItems  Selector `yaml:"account_menu_items"`

	ProductContainer Selector `yaml:"product_container"`
	VariantRow       Selector `yaml:"variant_row"`
	VariantLabel     Selector `yaml:"variant_label"`
	VariantStatus    Selector `yaml:"variant_status"`

	AddToCartButton Selector `yaml:"add_to_cart_button"`
	CartEntry       Selector `yaml:"cart_entry"`
	CheckoutEntry   Selector `yaml:"checkout_entry"`
	CartButton      Selector `yaml:"cart_button"`
	CartCount       Selector `yaml:"cart_count"`
	CartRemove      Selector `yaml:"cart_remove"`

	DeliveryName     Selector `yaml:"delivery_name"`
	DeliveryAddress1 Selector `yaml:"delivery_address1"`
	DeliveryAddress2 Selector `yaml:"delivery_address2"`
	DeliveryCity     Selector `yaml:"delivery_city"`
	DeliveryState    Selector `yaml:"delivery_state"`
	DeliveryPostcode Selector `yaml:"delivery_postcode"`
	DeliveryPhone    Selector `yaml:"delivery_phone"`

	ContinueButton Selector `yaml:"continue_button"`
	ShippingOption Selector `yaml:"shipping_option"`
	SubmitOrder    Selector `yaml:"submit_order"`
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		ProductURL:               "",
		BrowserProfilePath:       filepath.Join(userDataDir, "browser-profile"),
		Headless:                 true,
		ViewportWidth:            1920,
		ViewportHeight:           1080,
		PageLoadTimeout:          30,
		WaitTimeout:              7,
		IndicatorTimeout:         1,
		NavigateRetries:          3,
		PollInterval:             5,
		CartSettleMs:             1000,
		SubmitSettleMs:           500,
		Variants:                 []string{"2gb", "4gb", "8gb"},
		DryRunVariants:           nil,
		ShippingPolicy:           "cheapest",
		AssumeCleanOnReadFailure: true,
		CycleRetryBudget:         1,
		MaxPurchases:             0,
		TimeSync:                 false,
		TimeServers: []string{
			"https://www.google.com",
			"https://www.cloudflare.com",
			"https://www.amazon.com",
		},
		Notifier: NotifierConfig{
			TimeoutSeconds: 10,
			Retries:        3,
			Subject:        "restock",
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "console",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Text: PageTextConfig{
			OutOfStock:       "Out of stock",
			RetryLater:       "Retry later",
			AddressAsEntered: "Use Address as Entered",
			SignOut:          "Sign Out",
		},
		Selectors: SelectorConfig{
			SignInEntry:   "#nav_account span",
			Username:      "#user_login",
			Password:      "#user_password",
			SignInSubmit:  `xpath://*[@id="new_user"]/p[3]/input`,
			OTPField:      "#user_otp_attempt",
			OTPSubmit:     `xpath://*[@id="edit_user"]/p[2]/input`,
			InvalidCode:   ".alert.alert-danger.alert-dismissable",
			Authenticated: ".account-dropdown.dropdown",
			AccountMenu:   ".account-dropdown.dropdown",
			AccountItems:  ".dropdown-container li a",

			ProductContainer: "#prod-right-side",
			VariantRow:       ".top_10enabled",
			VariantLabel:     ".option_name",
			VariantStatus:    ".option_meta",

			AddToCartButton: "#prod-add-btn",
			CartEntry:       `xpath://*[@id="nav_account"]/div`,
			CheckoutEntry:   ".mobile-button-row",
			CartButton:      ".cart",
			CartCount:       ".cart-count",
			CartRemove:      ".cart-fake-button",

			DeliveryName:     "#delivery_name",
			DeliveryAddress1: "#delivery_address1",
			DeliveryAddress2: "#delivery_address2",
			DeliveryCity:     "#delivery_city",
			DeliveryState:    "#delivery_state_dropdown",
			DeliveryPostcode: "#delivery_postcode",
			DeliveryPhone:    "#delivery_phone",

			ContinueButton: ".blue-button.sg-button.savecontinueblue",
			ShippingOption: ".checkboxLabel.sg-label.checkout-shipping-method-label",
			SubmitOrder:    ".sg-button.green-button.bold.submitOrder",
		},
	}
}

// envOverrides are read from RESTOCK_* environment variables and applied
// on top of the file.
type envOverrides struct {
	ProductURL  string `envconfig:"PRODUCT_URL"`
	DryRun      *bool  `envconfig:"DRY_RUN"`
	Debug       *bool  `envconfig:"DEBUG"`
	Headless    *bool  `envconfig:"HEADLESS"`
	WebhookURL  string `envconfig:"WEBHOOK_URL"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

const envPrefix = "restock"

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	if env.ProductURL != "" {
		c.ProductURL = env.ProductURL
	}
	if env.DryRun != nil {
		c.DryRun = *env.DryRun
	}
	if env.Debug != nil {
		c.DebugMode = *env.Debug
	}
	if env.Headless != nil {
		c.Headless = *env.Headless
	}
	if env.WebhookURL != "" {
		c.Notifier.WebhookURL = env.WebhookURL
	}
	if env.MetricsAddr != "" {
		c.MetricsAddr = env.MetricsAddr
	}
	if env.LogLevel != "" {
		c.Logger.Level = env.LogLevel
	}
	return nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks the settings the purchase workflow depends on.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Accounts) == 0 {
		errs = append(errs, errors.New("at least one account is required"))
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, acct := range c.Accounts {
		if acct.ID == "" {
			errs = append(errs, fmt.Errorf("account %d has no id", i+1))
			continue
		}
		if seen[acct.ID] {
			errs = append(errs, fmt.Errorf("duplicate account id %q", acct.ID))
		}
		seen[acct.ID] = true
	}

	if c.InitialAccount != "" && !seen[c.InitialAccount] {
		errs = append(errs, fmt.Errorf("initial_account %q: %w", c.InitialAccount, ErrUnknownAccount))
	}
	if c.PostPurchaseAccount != "" && !seen[c.PostPurchaseAccount] {
		errs = append(errs, fmt.Errorf("post_purchase_account %q: %w", c.PostPurchaseAccount, ErrUnknownAccount))
	}

	if _, err := ParseShippingPolicy(c.ShippingPolicy); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseSchedule(c.Schedule); err != nil {
		errs = append(errs, err)
	}

	if len(c.ActiveVariants()) == 0 {
		errs = append(errs, errors.New("no variants configured"))
	}

	if c.CycleRetryBudget < 0 {
		errs = append(errs, errors.New("cycle_retry_budget must not be negative"))
	}

	return errors.Join(errs...)
}

// Resolve expands credential references and builds each account's field
// descriptors. It runs once after loading.
func (c *Config) Resolve() {
	for i := range c.Accounts {
		acct := &c.Accounts[i]
		acct.Login.Username = os.ExpandEnv(acct.Login.Username)
		acct.Login.Password = os.ExpandEnv(acct.Login.Password)
		acct.Login.OTPSeed = os.ExpandEnv(acct.Login.OTPSeed)
		acct.loginFields = c.Selectors.loginFields(acct.Login)
		acct.checkoutFields = c.Selectors.checkoutFields(acct.Shipping)
	}
}

// ActiveVariants returns the variant filter for the current mode.
func (c *Config) ActiveVariants() []string {
	if c.DryRun && len(c.DryRunVariants) > 0 {
		return c.DryRunVariants
	}
	return c.Variants
}

func (c *Config) waitTimeout() time.Duration {
	return seconds(c.WaitTimeout)
}

func (c *Config) indicatorTimeout() time.Duration {
	return seconds(c.IndicatorTimeout)
}

func (c *Config) pollInterval() time.Duration {
	return seconds(c.PollInterval)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./restock-data"
	}
	return filepath.Join(home, ".restock")
}
