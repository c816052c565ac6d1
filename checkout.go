package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type PolicyKind string

const (
	PolicyCheapest      PolicyKind = "cheapest"
	PolicyMostExpensive PolicyKind = "most-expensive"
	PolicyNamed         PolicyKind = "named"
)

// ShippingPolicy decides which shipping option checkout selects.
type ShippingPolicy struct {
	Kind PolicyKind
	Name string
}

// ParseShippingPolicy accepts "cheapest", "expensive", "most-expensive",
// "named:<name>" or a bare option name.
func ParseShippingPolicy(s string) (ShippingPolicy, error) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)

	switch {
	case lower == "" || lower == "cheapest":
		return ShippingPolicy{Kind: PolicyCheapest}, nil
	case lower == "expensive" || lower == "most-expensive":
		return ShippingPolicy{Kind: PolicyMostExpensive}, nil
	case strings.HasPrefix(lower, "named:"):
		name := strings.TrimSpace(trimmed[len("named:"):])
		if name == "" {
			return ShippingPolicy{}, fmt.Errorf("shipping policy %q names no option", s)
		}
		return ShippingPolicy{Kind: PolicyNamed, Name: name}, nil
	default:
		return ShippingPolicy{Kind: PolicyNamed, Name: trimmed}, nil
	}
}

func (p ShippingPolicy) String() string {
	if p.Kind == PolicyNamed {
		return "named:" + p.Name
	}
	return string(p.Kind)
}

// ShippingOption is one selectable shipping method at checkout.
type ShippingOption struct {
	Label           string
	ID              string
	PriceMinorUnits int64

	el Element
}

// Orchestrator drives the cart and checkout pages.
type Orchestrator struct {
	pc     *PurchaseContext
	logger *zap.Logger
	sleep  func(time.Duration)
}

func NewOrchestrator(pc *PurchaseContext) *Orchestrator {
	return &Orchestrator{
		pc:     pc,
		logger: pc.Logger.Named("checkout"),
		sleep:  time.Sleep,
	}
}

// ClearCart empties the active account's cart once per account. When the
// item count cannot be read, assume_clean_on_read_failure decides whether
// the cart is treated as clean or the cycle fails.
func (o *Orchestrator) ClearCart() error {
	cart := o.pc.Cart
	if cart.Cleared {
		return nil
	}

	driver := o.pc.driver()
	if driver == nil {
		return &CycleError{Stage: StageCart, Reason: "clear cart", Err: ErrNoSession}
	}

	cfg := o.pc.Config
	timeout := cfg.waitTimeout()
	o.logger.Info("Clearing cart")

	cartButton, count, err := o.readCartCount(driver)
	if err != nil {
		if !cfg.AssumeCleanOnReadFailure {
			return &CycleError{Stage: StageCart, Reason: "cart count unreadable", Err: err}
		}
		o.logger.Warn("Cart count unreadable, assuming cart is clean", zap.Error(err))
		cart.Cleared = true
		return nil
	}

	if count > 0 {
		if err := driver.Activate(cartButton); err != nil {
			return &CycleError{Stage: StageCart, Reason: "open cart", Err: err}
		}

		removed := 0
		for _, btn := range driver.LocateAll(cfg.Selectors.CartRemove, timeout) {
			if err := driver.Activate(btn); err != nil {
				o.logger.Warn("Cart removal control not clickable", zap.Error(err))
				continue
			}
			removed++
		}
		o.logger.Debug("Cart items removed", zap.Int("count", count), zap.Int("removed", removed))

		o.sleep(time.Duration(cfg.CartSettleMs) * time.Millisecond)
		if err := o.pc.Session.Refresh(); err != nil {
			return &CycleError{Stage: StageCart, Reason: "refresh after clearing cart", Err: err}
		}
	}

	cart.Cleared = true
	o.logger.Info("Cart cleared")
	return nil
}

func (o *Orchestrator) readCartCount(driver PageDriver) (Element, int, error) {
	cfg := o.pc.Config
	timeout := cfg.waitTimeout()

	cartButton, ok := driver.Locate(cfg.Selectors.CartButton, timeout)
	if !ok {
		return nil, 0, errors.New("cart control not found")
	}
	countEl, ok := cartButton.Locate(cfg.Selectors.CartCount, timeout)
	if !ok {
		return nil, 0, errors.New("cart count not found")
	}
	text, err := countEl.Text()
	if err != nil {
		return nil, 0, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil, 0, fmt.Errorf("cart count %q: %w", text, err)
	}
	return cartButton, count, nil
}

// AddToCart carts variant and opens the checkout entry point. It reports
// false when any control is missing; the cycle then ends without a
// purchase.
func (o *Orchestrator) AddToCart(variant ProductVariant) bool {
	driver := o.pc.driver()
	if driver == nil || variant.row == nil {
		return false
	}

	cfg := o.pc.Config
	timeout := cfg.waitTimeout()
	log := o.logger.With(zap.String("variant", variant.Label))

	if err := driver.Activate(variant.row); err != nil {
		log.Warn("Variant not selectable", zap.Error(err))
		return false
	}

	container, ok := driver.Locate(cfg.Selectors.ProductContainer, timeout)
	if !ok {
		log.Warn("Product container disappeared before add to cart")
		return false
	}
	add, ok := container.Locate(cfg.Selectors.AddToCartButton, timeout)
	if !ok {
		log.Warn("Add to cart control not found")
		return false
	}
	if err := driver.Activate(add); err != nil {
		log.Warn("Add to cart control not clickable", zap.Error(err))
		return false
	}
	o.pc.Cart.ItemAdded = true
	o.pc.Cart.Cleared = false

	for _, step := range []struct {
		name string
		sel  Selector
	}{
		{"cart", cfg.Selectors.CartEntry},
		{"checkout", cfg.Selectors.CheckoutEntry},
	} {
		el, ok := driver.Locate(step.sel, timeout)
		if !ok {
			log.Warn("Checkout entry control not found", zap.String("step", step.name))
			return false
		}
		if err := driver.Activate(el); err != nil {
			log.Warn("Checkout entry control not clickable", zap.String("step", step.name), zap.Error(err))
			return false
		}
	}

	log.Info("Item added to cart")
	return true
}

// DetermineShipping reads the shipping options and picks one by policy. A
// named policy that matches nothing falls back to the cheapest option.
func (o *Orchestrator) DetermineShipping(policy ShippingPolicy) (ShippingOption, error) {
	driver := o.pc.driver()
	if driver == nil {
		return ShippingOption{}, ErrNoSession
	}

	options := o.readShippingOptions(driver)
	if len(options) == 0 {
		return ShippingOption{}, ErrNoShippingOptions
	}

	switch policy.Kind {
	case PolicyMostExpensive:
		return pickByPrice(options, func(a, b int64) bool { return a > b }), nil
	case PolicyNamed:
		name := strings.ToLower(policy.Name)
		for _, opt := range options {
			if strings.Contains(strings.ToLower(opt.ID), name) {
				return opt, nil
			}
		}
		o.logger.Warn("Shipping option not found, selecting the cheapest instead",
			zap.String("wanted", policy.Name),
			zap.Int("options", len(options)))
		return pickByPrice(options, func(a, b int64) bool { return a < b }), nil
	default:
		return pickByPrice(options, func(a, b int64) bool { return a < b }), nil
	}
}

func (o *Orchestrator) readShippingOptions(driver PageDriver) []ShippingOption {
	var options []ShippingOption
	for _, el := range driver.LocateAll(o.pc.Config.Selectors.ShippingOption, o.pc.Config.waitTimeout()) {
		text, err := el.Text()
		if err != nil {
			continue
		}
		label := strings.Join(strings.Fields(text), " ")
		price, err := parsePriceMinorUnits(label)
		if err != nil {
			o.logger.Debug("Shipping option without a readable price skipped", zap.String("label", label), zap.Error(err))
			continue
		}
		id, ok := el.Attribute("for")
		if !ok || id == "" {
			id = label
		}
		options = append(options, ShippingOption{Label: label, ID: id, PriceMinorUnits: price, el: el})
	}
	return options
}

// pickByPrice returns the first option no other option beats under better.
func pickByPrice(options []ShippingOption, better func(a, b int64) bool) ShippingOption {
	best := options[0]
	for _, opt := range options[1:] {
		if better(opt.PriceMinorUnits, best.PriceMinorUnits) {
			best = opt
		}
	}
	return best
}

// parsePriceMinorUnits reads the price after the last colon of a label such
// as "USPS Priority Mail: $9.35" and returns it in cents.
func parsePriceMinorUnits(label string) (int64, error) {
	raw := label
	if i := strings.LastIndex(label, ":"); i >= 0 {
		raw = label[i+1:]
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "$")
	raw = strings.ReplaceAll(raw, ",", "")

	if strings.EqualFold(raw, "free") {
		return 0, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("no price in %q", label)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative price in %q", label)
	}
	return int64(math.Round(v * 100)), nil
}

// Checkout fills the shipping form and walks the confirmation steps. The
// order is submitted only outside dry-run. Any missing control is fatal:
// the checkout state is then unknown and must not be guessed at.
func (o *Orchestrator) Checkout(account Account, policy ShippingPolicy) Outcome {
	cart := o.pc.Cart
	if !cart.ItemAdded {
		return fatal("checkout without an item added this cycle", nil)
	}

	driver := o.pc.driver()
	if driver == nil {
		return fatal("checkout without session", ErrNoSession)
	}

	cart.InFlight = true
	defer func() { cart.InFlight = false }()

	cfg := o.pc.Config
	timeout := cfg.waitTimeout()
	o.logger.Info("Checking out", zap.String("account", account.ID), zap.String("shipping", policy.String()))

	if field, err := fillFields(driver, account.checkoutFields, timeout, o.logger); err != nil {
		return fatal("shipping field "+field, err)
	}

	if out := o.activate(driver, cfg.Selectors.ContinueButton, "save and continue"); !out.OK() {
		return out
	}

	if next, ok := driver.Locate(cfg.Selectors.ContinueButton, timeout); ok {
		if elementText(next) == normalize(cfg.Text.AddressAsEntered) {
			o.logger.Debug("Confirming address as entered")
			if err := driver.Activate(next); err != nil {
				return fatal("address confirmation not clickable", err)
			}
		}
	}

	option, err := o.DetermineShipping(policy)
	if err != nil {
		return fatal("shipping selection", err)
	}
	o.logger.Info("Shipping selected", zap.String("option", option.Label), zap.Int64("price_minor_units", option.PriceMinorUnits))
	if err := driver.Activate(option.el); err != nil {
		return fatal("shipping option not clickable", err)
	}

	for step := 1; step <= 2; step++ {
		if out := o.activate(driver, cfg.Selectors.ContinueButton, fmt.Sprintf("confirmation step %d", step)); !out.OK() {
			return out
		}
	}

	submit, ok := driver.Locate(cfg.Selectors.SubmitOrder, timeout)
	if !ok {
		return fatal("submit order control not found", nil)
	}

	if cfg.DryRun {
		o.logger.Info("Dry run: stopping before order submission")
		return success()
	}

	if err := driver.Activate(submit); err != nil {
		return fatal("submit order failed", err)
	}
	o.sleep(time.Duration(cfg.SubmitSettleMs) * time.Millisecond)
	o.logger.Info("Order submitted")
	return success()
}

func (o *Orchestrator) activate(driver PageDriver, sel Selector, what string) Outcome {
	el, ok := driver.Locate(sel, o.pc.Config.waitTimeout())
	if !ok {
		return fatal(what+" control not found", nil)
	}
	if err := driver.Activate(el); err != nil {
		return fatal(what+" control not clickable", err)
	}
	return success()
}
