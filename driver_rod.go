package main

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

const rodPollStep = 100 * time.Millisecond

// rodDriver drives one stealth page in a browser it launched itself.
type rodDriver struct {
	launcher      *launcher.Launcher
	browser       *rod.Browser
	page          *rod.Page
	loadTimeout   time.Duration
	actionTimeout time.Duration
	logger        *zap.Logger
}

type rodElement struct {
	el *rod.Element
}

// rodScope is the lookup surface shared by *rod.Page and *rod.Element.
type rodScope interface {
	Elements(selector string) (rod.Elements, error)
	ElementsX(xpath string) (rod.Elements, error)
}

// NewRodDriverFactory returns a factory that launches a fresh browser for
// every session.
func NewRodDriverFactory(cfg *Config, logger *zap.Logger) DriverFactory {
	return func() (PageDriver, error) {
		return launchRodDriver(cfg, logger)
	}
}

func launchRodDriver(cfg *Config, logger *zap.Logger) (*rodDriver, error) {
	// Leakless deadlocks on Windows, see go-rod/rod#853.
	useLeakless := runtime.GOOS != "windows"

	l := launcher.New().
		Leakless(useLeakless).
		Headless(cfg.Headless)

	// Must be set before Bin().
	if cfg.BrowserProfilePath != "" {
		l = l.UserDataDir(cfg.BrowserProfilePath)
	}

	if chromePath, ok := launcher.LookPath(); ok {
		l = l.Bin(chromePath)
		logger.Debug("Using system browser", zap.String("path", chromePath))
	} else {
		logger.Info("System Chrome not found, rod will download Chromium")
	}

	url, err := l.Launch()
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "ProcessSingleton") || strings.Contains(errMsg, "SingletonLock") {
			return nil, fmt.Errorf("browser profile %s is in use by another browser: %w", cfg.BrowserProfilePath, err)
		}
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		browser.Close()
		l.Cleanup()
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.ViewportWidth,
			Height:            cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			logger.Debug("Failed to set viewport", zap.Error(err))
		}
	}

	logger.Info("Browser launched", zap.Bool("headless", cfg.Headless))

	return &rodDriver{
		launcher:      l,
		browser:       browser,
		page:          page,
		loadTimeout:   time.Duration(cfg.PageLoadTimeout) * time.Second,
		actionTimeout: cfg.waitTimeout(),
		logger:        logger,
	}, nil
}

func (d *rodDriver) Locate(sel Selector, timeout time.Duration) (Element, bool) {
	return rodLocate(d.page, sel, timeout)
}

func (d *rodDriver) LocateAll(sel Selector, timeout time.Duration) []Element {
	return rodLocateAll(d.page, sel, timeout)
}

func (d *rodDriver) Activate(el Element) error {
	re, err := asRodElement(el)
	if err != nil {
		return err
	}
	return re.el.Timeout(d.actionTimeout).Click(proto.InputMouseButtonLeft, 1)
}

func (d *rodDriver) Type(el Element, text string) error {
	re, err := asRodElement(el)
	if err != nil {
		return err
	}
	e := re.el.Timeout(d.actionTimeout)
	if err := e.SelectAllText(); err != nil {
		return fmt.Errorf("failed to clear field: %w", err)
	}
	return e.Input(text)
}

func (d *rodDriver) Choose(el Element, option string) error {
	re, err := asRodElement(el)
	if err != nil {
		return err
	}
	return re.el.Timeout(d.actionTimeout).Select([]string{option}, true, rod.SelectorTypeText)
}

func (d *rodDriver) BodyText() (string, error) {
	body, err := d.page.Timeout(d.actionTimeout).Element("body")
	if err != nil {
		return "", err
	}
	return body.CancelTimeout().Text()
}

func (d *rodDriver) Navigate(url string) error {
	p := d.page.Timeout(d.loadTimeout)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

// Dispose closes the page, the browser and the launcher, in that order.
func (d *rodDriver) Dispose() error {
	var firstErr error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			firstErr = err
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
	}
	d.logger.Debug("Browser destroyed")
	return firstErr
}

func (e *rodElement) Locate(sel Selector, timeout time.Duration) (Element, bool) {
	return rodLocate(e.el, sel, timeout)
}

func (e *rodElement) LocateAll(sel Selector, timeout time.Duration) []Element {
	return rodLocateAll(e.el, sel, timeout)
}

func (e *rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e *rodElement) Attribute(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func asRodElement(el Element) (*rodElement, error) {
	re, ok := el.(*rodElement)
	if !ok {
		return nil, fmt.Errorf("element %T does not belong to this driver", el)
	}
	return re, nil
}

func rodQuery(scope rodScope, sel Selector) rod.Elements {
	var els rod.Elements
	var err error
	if xpath, ok := sel.XPath(); ok {
		els, err = scope.ElementsX(xpath)
	} else {
		els, err = scope.Elements(string(sel))
	}
	if err != nil {
		return nil
	}
	return els
}

// rodLocateAll polls until at least one match appears or timeout elapses.
func rodLocateAll(scope rodScope, sel Selector, timeout time.Duration) []Element {
	deadline := time.Now().Add(timeout)
	for {
		if els := rodQuery(scope, sel); len(els) > 0 {
			out := make([]Element, 0, len(els))
			for _, el := range els {
				out = append(out, &rodElement{el: el})
			}
			return out
		}
		if !time.Now().Before(deadline) {
			return nil
		}
		time.Sleep(rodPollStep)
	}
}

func rodLocate(scope rodScope, sel Selector, timeout time.Duration) (Element, bool) {
	els := rodLocateAll(scope, sel, timeout)
	if len(els) == 0 {
		return nil, false
	}
	return els[0], true
}
