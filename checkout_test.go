package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func shippingOptions() []*fakeElement {
	return []*fakeElement{
		el("ship_a", "Standard (A): $5.00").attr("for", "shipping_standard"),
		el("ship_b", "Economy (B): $2.00").attr("for", "shipping_economy"),
		el("ship_c", "Express (C): $9.00").attr("for", "shipping_express"),
	}
}

func checkoutPage(cfg *Config) *fakePage {
	s := cfg.Selectors
	return newPage().
		add(s.DeliveryName, el("name", "")).
		add(s.DeliveryAddress1, el("address1", "")).
		add(s.DeliveryCity, el("city", "")).
		add(s.DeliveryState, el("state", "")).
		add(s.DeliveryPostcode, el("postcode", "")).
		add(s.DeliveryPhone, el("phone", "")).
		add(s.ContinueButton, el("continue", "Save & Continue")).
		add(s.ShippingOption, shippingOptions()...).
		add(s.SubmitOrder, el("submit", "Place Order"))
}

func cartPage(cfg *Config, count string) *fakePage {
	cart := el("cart", "").with(cfg.Selectors.CartCount, el("cart_count", count))
	return newPage().
		add(cfg.Selectors.CartButton, cart).
		add(cfg.Selectors.CartRemove, el("remove_1", "Remove"), el("remove_2", "Remove"))
}

func openOrchestrator(t *testing.T, cfg *Config, page *fakePage) (*Orchestrator, *PurchaseContext, *fakeDriver) {
	t.Helper()
	d := newFakeDriver(page)
	pc := newTestContext(t, cfg, &fakeFactory{drivers: []*fakeDriver{d}})
	_, err := pc.Session.Open()
	require.NoError(t, err)
	o := NewOrchestrator(pc)
	o.sleep = noSleep
	return o, pc, d
}

func TestClearCartRemovesOnce(t *testing.T) {
	cfg := testConfig()
	o, pc, d := openOrchestrator(t, cfg, cartPage(cfg, " 2 "))

	require.NoError(t, o.ClearCart())
	require.NoError(t, o.ClearCart())

	assert.True(t, pc.Cart.Cleared)
	assert.Equal(t, []string{"cart", "remove_1", "remove_2"}, d.activated)
	assert.Equal(t, []string{testURL, testURL}, d.navigated)
}

func TestClearCartEmpty(t *testing.T) {
	cfg := testConfig()
	o, pc, d := openOrchestrator(t, cfg, cartPage(cfg, "0"))

	require.NoError(t, o.ClearCart())

	assert.True(t, pc.Cart.Cleared)
	assert.Empty(t, d.activated)
	assert.Len(t, d.navigated, 1)
}

func TestClearCartUnreadableCount(t *testing.T) {
	t.Run("assumed clean", func(t *testing.T) {
		cfg := testConfig()
		o, pc, d := openOrchestrator(t, cfg, cartPage(cfg, "n/a"))

		require.NoError(t, o.ClearCart())
		assert.True(t, pc.Cart.Cleared)
		assert.Empty(t, d.activated)
	})

	t.Run("missing count assumed clean", func(t *testing.T) {
		cfg := testConfig()
		o, pc, _ := openOrchestrator(t, cfg, newPage())

		require.NoError(t, o.ClearCart())
		assert.True(t, pc.Cart.Cleared)
	})

	t.Run("fails the cycle when not assumed clean", func(t *testing.T) {
		cfg := testConfig()
		cfg.AssumeCleanOnReadFailure = false
		o, pc, d := openOrchestrator(t, cfg, cartPage(cfg, "n/a"))

		err := o.ClearCart()

		var ce *CycleError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, StageCart, ce.Stage)
		assert.True(t, isRecoverable(err))
		assert.False(t, pc.Cart.Cleared)
		assert.Empty(t, d.activated)
	})
}

func TestClearCartWithoutSession(t *testing.T) {
	cfg := testConfig()
	pc := newTestContext(t, cfg, &fakeFactory{})

	err := NewOrchestrator(pc).ClearCart()

	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, pc.Cart.Cleared)
}

func productWithCart(cfg *Config) (*fakePage, *fakeElement) {
	s := cfg.Selectors
	row := variantRow(cfg, "row_8gb", "8gb", "In stock")
	container := el("container", "").
		with(s.VariantRow, row).
		with(s.AddToCartButton, el("add", "Add to cart"))
	page := newPage().
		add(s.ProductContainer, container).
		add(s.CartEntry, el("cart_entry", "Cart")).
		add(s.CheckoutEntry, el("checkout_entry", "Checkout"))
	return page, row
}

func TestAddToCart(t *testing.T) {
	cfg := testConfig()
	page, row := productWithCart(cfg)
	o, pc, d := openOrchestrator(t, cfg, page)
	pc.Cart.Cleared = true

	ok := o.AddToCart(ProductVariant{Label: "8gb", Stock: InStock, row: row})

	require.True(t, ok)
	assert.Equal(t, []string{"row_8gb", "add", "cart_entry", "checkout_entry"}, d.activated)
	assert.True(t, pc.Cart.ItemAdded)
	assert.False(t, pc.Cart.Cleared)
}

func TestAddToCartMissingControls(t *testing.T) {
	t.Run("add button", func(t *testing.T) {
		cfg := testConfig()
		row := variantRow(cfg, "row", "8gb", "In stock")
		page := newPage().add(cfg.Selectors.ProductContainer, el("container", "").with(cfg.Selectors.VariantRow, row))
		o, pc, _ := openOrchestrator(t, cfg, page)

		assert.False(t, o.AddToCart(ProductVariant{Label: "8gb", row: row}))
		assert.False(t, pc.Cart.ItemAdded)
	})

	t.Run("checkout entry", func(t *testing.T) {
		cfg := testConfig()
		page, row := productWithCart(cfg)
		page.remove(cfg.Selectors.CheckoutEntry)
		o, pc, d := openOrchestrator(t, cfg, page)

		assert.False(t, o.AddToCart(ProductVariant{Label: "8gb", row: row}))
		assert.True(t, pc.Cart.ItemAdded)
		assert.NotContains(t, d.activated, "checkout_entry")
	})
}

func TestDetermineShipping(t *testing.T) {
	tests := []struct {
		name   string
		policy string
		want   string
	}{
		{"cheapest", "cheapest", "ship_b"},
		{"most expensive", "most-expensive", "ship_c"},
		{"expensive alias", "expensive", "ship_c"},
		{"named", "named:EXPRESS", "ship_c"},
		{"bare name", "standard", "ship_a"},
		{"named miss falls back to cheapest", "named:Z", "ship_b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			o, _, _ := openOrchestrator(t, cfg, checkoutPage(cfg))
			policy, err := ParseShippingPolicy(tt.policy)
			require.NoError(t, err)

			got, err := o.DetermineShipping(policy)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.el.(*fakeElement).name)
		})
	}
}

func TestDetermineShippingNamedMissLogsFallback(t *testing.T) {
	cfg := testConfig()
	core, logs := observer.New(zapcore.InfoLevel)
	d := newFakeDriver(checkoutPage(cfg))
	pc := newTestContextWithLogger(t, cfg, &fakeFactory{drivers: []*fakeDriver{d}}, zap.New(core))
	_, err := pc.Session.Open()
	require.NoError(t, err)

	got, err := NewOrchestrator(pc).DetermineShipping(ShippingPolicy{Kind: PolicyNamed, Name: "Z"})

	require.NoError(t, err)
	assert.Equal(t, int64(200), got.PriceMinorUnits)
	assert.Equal(t, "shipping_economy", got.ID)
	fallback := logs.FilterMessageSnippet("selecting the cheapest")
	require.Equal(t, 1, fallback.Len())
	assert.Equal(t, zapcore.WarnLevel, fallback.All()[0].Level)
}

func TestDetermineShippingWithoutOptions(t *testing.T) {
	cfg := testConfig()
	page := newPage().add(cfg.Selectors.ShippingOption, el("broken", "Pickup: call us"))
	o, _, _ := openOrchestrator(t, cfg, page)

	_, err := o.DetermineShipping(ShippingPolicy{Kind: PolicyCheapest})

	assert.ErrorIs(t, err, ErrNoShippingOptions)
}

func TestParsePriceMinorUnits(t *testing.T) {
	tests := []struct {
		label   string
		want    int64
		wantErr bool
	}{
		{label: "USPS Priority Mail: $9.35", want: 935},
		{label: "Freight: $1,234.50", want: 123450},
		{label: "Courier: 12", want: 1200},
		{label: "Local Pickup: Free", want: 0},
		{label: "Time: 10:30 $4.99", wantErr: true},
		{label: "Express", wantErr: true},
		{label: "Refund: $-3.00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := parsePriceMinorUnits(tt.label)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseShippingPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ShippingPolicy
		wantErr bool
	}{
		{in: "", want: ShippingPolicy{Kind: PolicyCheapest}},
		{in: " Cheapest ", want: ShippingPolicy{Kind: PolicyCheapest}},
		{in: "expensive", want: ShippingPolicy{Kind: PolicyMostExpensive}},
		{in: "most-expensive", want: ShippingPolicy{Kind: PolicyMostExpensive}},
		{in: "named: Ground ", want: ShippingPolicy{Kind: PolicyNamed, Name: "Ground"}},
		{in: "Ground", want: ShippingPolicy{Kind: PolicyNamed, Name: "Ground"}},
		{in: "named:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseShippingPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckoutDryRunNeverSubmits(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	o, pc, d := openOrchestrator(t, cfg, checkoutPage(cfg))
	pc.Cart.ItemAdded = true
	account := pc.Rotation.Active()

	out := o.Checkout(account, ShippingPolicy{Kind: PolicyCheapest})

	require.True(t, out.OK(), out.String())
	assert.Zero(t, d.count("submit"))
	assert.Equal(t, []string{"continue", "ship_b", "continue", "continue"}, d.activated)
	assert.Equal(t, map[string]string{
		"name":     "Test a",
		"address1": "1 Main St",
		"city":     "Springfield",
		"postcode": "62701",
		"phone":    "5550100",
	}, d.typed)
	assert.Equal(t, "IL", d.chosen["state"])
	assert.False(t, pc.Cart.InFlight)
}

func TestCheckoutSubmitsOutsideDryRun(t *testing.T) {
	cfg := testConfig()
	o, pc, d := openOrchestrator(t, cfg, checkoutPage(cfg))
	pc.Cart.ItemAdded = true

	out := o.Checkout(pc.Rotation.Active(), ShippingPolicy{Kind: PolicyMostExpensive})

	require.True(t, out.OK(), out.String())
	assert.Equal(t, 1, d.count("submit"))
	assert.Equal(t, 1, d.count("ship_c"))
}

func TestCheckoutConfirmsAddressAsEntered(t *testing.T) {
	cfg := testConfig()
	o, pc, d := openOrchestrator(t, cfg, checkoutPage(cfg))
	pc.Cart.ItemAdded = true

	cont := d.page.elements[cfg.Selectors.ContinueButton][0]
	prompt := el("address_as_entered", "Use  Address as entered")
	d.onActivate["continue"] = func(d *fakeDriver) {
		if d.count("continue") == 1 {
			d.page.elements[cfg.Selectors.ContinueButton] = []*fakeElement{prompt}
		}
	}
	d.onActivate["address_as_entered"] = func(d *fakeDriver) {
		d.page.elements[cfg.Selectors.ContinueButton] = []*fakeElement{cont}
	}

	out := o.Checkout(pc.Rotation.Active(), ShippingPolicy{Kind: PolicyCheapest})

	require.True(t, out.OK(), out.String())
	assert.Equal(t, []string{"continue", "address_as_entered", "ship_b", "continue", "continue", "submit"}, d.activated)
}

func TestCheckoutRequiresCartedItem(t *testing.T) {
	cfg := testConfig()
	o, pc, d := openOrchestrator(t, cfg, checkoutPage(cfg))
	pc.Cart.Cleared = true

	out := o.Checkout(pc.Rotation.Active(), ShippingPolicy{Kind: PolicyCheapest})

	assert.Equal(t, StatusFatal, out.Status)
	assert.Empty(t, d.activated)
	assert.Empty(t, d.typed)
}

func TestCheckoutMissingSubmitIsFatal(t *testing.T) {
	cfg := testConfig()
	page := checkoutPage(cfg)
	page.remove(cfg.Selectors.SubmitOrder)
	o, pc, _ := openOrchestrator(t, cfg, page)
	pc.Cart.ItemAdded = true

	out := o.Checkout(pc.Rotation.Active(), ShippingPolicy{Kind: PolicyCheapest})

	assert.Equal(t, StatusFatal, out.Status)
	assert.Contains(t, out.Reason, "submit")
	assert.False(t, pc.Cart.InFlight)
}

func TestCheckoutMissingFieldIsFatal(t *testing.T) {
	cfg := testConfig()
	page := checkoutPage(cfg)
	page.remove(cfg.Selectors.DeliveryCity)
	o, pc, d := openOrchestrator(t, cfg, page)
	pc.Cart.ItemAdded = true

	out := o.Checkout(pc.Rotation.Active(), ShippingPolicy{Kind: PolicyCheapest})

	assert.Equal(t, StatusFatal, out.Status)
	assert.Contains(t, out.Reason, "city")
	assert.Empty(t, d.activated)
}

func TestCheckoutBlocksRotation(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	o, pc, d := openOrchestrator(t, cfg, checkoutPage(cfg))
	pc.Cart.ItemAdded = true

	var advanceErr, activateErr error
	d.onActivate["ship_b"] = func(*fakeDriver) {
		_, advanceErr = pc.Rotation.Advance()
		activateErr = pc.Rotation.Activate("c")
	}

	require.True(t, o.Checkout(pc.Rotation.Active(), ShippingPolicy{Kind: PolicyCheapest}).OK())

	assert.ErrorIs(t, advanceErr, ErrCheckoutInFlight)
	assert.ErrorIs(t, activateErr, ErrCheckoutInFlight)
	assert.Equal(t, "a", pc.Rotation.Active().ID)
}
