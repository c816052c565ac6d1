package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakeElement is a node in a scripted page. Children are keyed by the
// selector that finds them.
type fakeElement struct {
	name     string
	text     string
	textErr  error
	attrs    map[string]string
	children map[Selector][]*fakeElement
}

func el(name, text string) *fakeElement {
	return &fakeElement{name: name, text: text, attrs: map[string]string{}, children: map[Selector][]*fakeElement{}}
}

func (e *fakeElement) with(sel Selector, kids ...*fakeElement) *fakeElement {
	e.children[sel] = append(e.children[sel], kids...)
	return e
}

func (e *fakeElement) attr(key, value string) *fakeElement {
	e.attrs[key] = value
	return e
}

func (e *fakeElement) Locate(sel Selector, timeout time.Duration) (Element, bool) {
	return first(e.LocateAll(sel, timeout))
}

func (e *fakeElement) LocateAll(sel Selector, _ time.Duration) []Element {
	return asElements(e.children[sel])
}

func (e *fakeElement) Text() (string, error) {
	return e.text, e.textErr
}

func (e *fakeElement) Attribute(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

// fakePage maps page-level selectors to elements.
type fakePage struct {
	elements map[Selector][]*fakeElement
	body     string
}

func newPage() *fakePage {
	return &fakePage{elements: map[Selector][]*fakeElement{}}
}

func (p *fakePage) add(sel Selector, els ...*fakeElement) *fakePage {
	p.elements[sel] = append(p.elements[sel], els...)
	return p
}

func (p *fakePage) remove(sel Selector) {
	delete(p.elements, sel)
}

// fakeDriver is a scripted PageDriver. Activating an element runs the hook
// registered under its name, which is how tests model page transitions.
type fakeDriver struct {
	page  *fakePage
	pages map[string]*fakePage

	activated  []string
	typed      map[string]string
	chosen     map[string]string
	navigated  []string
	navErrs    []error
	disposed   int
	onActivate map[string]func(d *fakeDriver)
}

func newFakeDriver(page *fakePage) *fakeDriver {
	return &fakeDriver{
		page:       page,
		pages:      map[string]*fakePage{},
		typed:      map[string]string{},
		chosen:     map[string]string{},
		onActivate: map[string]func(d *fakeDriver){},
	}
}

func (d *fakeDriver) Locate(sel Selector, timeout time.Duration) (Element, bool) {
	return first(d.LocateAll(sel, timeout))
}

func (d *fakeDriver) LocateAll(sel Selector, _ time.Duration) []Element {
	return asElements(d.page.elements[sel])
}

func (d *fakeDriver) Activate(e Element) error {
	fe, ok := e.(*fakeElement)
	if !ok {
		return fmt.Errorf("foreign element %T", e)
	}
	d.activated = append(d.activated, fe.name)
	if hook := d.onActivate[fe.name]; hook != nil {
		hook(d)
	}
	return nil
}

func (d *fakeDriver) Type(e Element, text string) error {
	fe, ok := e.(*fakeElement)
	if !ok {
		return fmt.Errorf("foreign element %T", e)
	}
	d.typed[fe.name] = text
	return nil
}

func (d *fakeDriver) Choose(e Element, option string) error {
	fe, ok := e.(*fakeElement)
	if !ok {
		return fmt.Errorf("foreign element %T", e)
	}
	d.chosen[fe.name] = option
	return nil
}

func (d *fakeDriver) BodyText() (string, error) {
	return d.page.body, nil
}

func (d *fakeDriver) Navigate(url string) error {
	d.navigated = append(d.navigated, url)
	if len(d.navErrs) > 0 {
		err := d.navErrs[0]
		d.navErrs = d.navErrs[1:]
		if err != nil {
			return err
		}
	}
	if p, ok := d.pages[url]; ok {
		d.page = p
	}
	return nil
}

func (d *fakeDriver) Dispose() error {
	d.disposed++
	return nil
}

func (d *fakeDriver) count(name string) int {
	n := 0
	for _, a := range d.activated {
		if a == name {
			n++
		}
	}
	return n
}

func first(els []Element) (Element, bool) {
	if len(els) == 0 {
		return nil, false
	}
	return els[0], true
}

func asElements(els []*fakeElement) []Element {
	out := make([]Element, 0, len(els))
	for _, e := range els {
		out = append(out, e)
	}
	return out
}

// fakeFactory hands out the scripted drivers in order and counts calls.
type fakeFactory struct {
	drivers []*fakeDriver
	calls   int
}

func (f *fakeFactory) New() (PageDriver, error) {
	if f.calls >= len(f.drivers) {
		return nil, errors.New("no more scripted drivers")
	}
	d := f.drivers[f.calls]
	f.calls++
	return d, nil
}

func noSleep(time.Duration) {}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

const (
	testURL  = "https://shop.example.com/product/board"
	testSeed = "JBSWY3DPEHPK3PXP"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ProductURL = testURL
	cfg.BrowserProfilePath = ""
	cfg.CartSettleMs = 0
	cfg.SubmitSettleMs = 0
	cfg.Accounts = []Account{
		testAccount("a"),
		testAccount("b"),
		testAccount("c"),
	}
	cfg.Resolve()
	return cfg
}

func testAccount(id string) Account {
	return Account{
		ID:    id,
		Login: LoginInfo{Username: id + "@example.com", Password: "pw-" + id, OTPSeed: testSeed},
		Shipping: ShippingProfile{
			Name:       "Test " + id,
			Address1:   "1 Main St",
			City:       "Springfield",
			State:      "IL",
			PostalCode: "62701",
			Phone:      "5550100",
		},
	}
}

func newTestContext(t *testing.T, cfg *Config, factory *fakeFactory) *PurchaseContext {
	t.Helper()
	return newTestContextWithLogger(t, cfg, factory, zaptest.NewLogger(t))
}

func newTestContextWithLogger(t *testing.T, cfg *Config, factory *fakeFactory, logger *zap.Logger) *PurchaseContext {
	t.Helper()
	clock := fixedClock{now: time.Date(2025, 1, 15, 16, 0, 0, 0, time.UTC)}
	pc, err := NewPurchaseContext(cfg, factory.New, clock, logger, NewMetrics())
	require.NoError(t, err)
	pc.Session.sleep = noSleep
	return pc
}

// loginPage is the sign-in form. Submitting the code runs verify.
func loginPage(cfg *Config, d *fakeDriver, verify func(d *fakeDriver)) {
	s := cfg.Selectors
	d.page.
		add(s.SignInEntry, el("sign_in_entry", "Sign In")).
		add(s.Username, el("username", "")).
		add(s.Password, el("password", "")).
		add(s.SignInSubmit, el("sign_in_submit", "Sign In")).
		add(s.OTPField, el("otp_field", "")).
		add(s.OTPSubmit, el("otp_submit", "Verify"))
	d.onActivate["otp_submit"] = verify
}

func acceptCode(cfg *Config) func(d *fakeDriver) {
	return func(d *fakeDriver) {
		d.page.add(cfg.Selectors.AccountMenu, accountMenu(cfg))
	}
}

func rejectCode(cfg *Config) func(d *fakeDriver) {
	return func(d *fakeDriver) {
		d.page.add(cfg.Selectors.InvalidCode, el("invalid_code", "Invalid code"))
	}
}

func accountMenu(cfg *Config) *fakeElement {
	return el("account_menu", "Account").with(cfg.Selectors.AccountItems,
		el("orders", "Orders"),
		el("sign_out", "  Sign   Out "),
	)
}

func variantRow(cfg *Config, name, label, status string) *fakeElement {
	return el(name, "").
		with(cfg.Selectors.VariantLabel, el(name+"_label", label)).
		with(cfg.Selectors.VariantStatus, el(name+"_status", status))
}
