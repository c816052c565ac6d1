package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

// AuthState is a step of a single sign-in attempt.
type AuthState string

const (
	AuthLoggedOut             AuthState = "logged-out"
	AuthSubmittingCredentials AuthState = "submitting-credentials"
	AuthAwaitingOTP           AuthState = "awaiting-otp"
	AuthClassifying           AuthState = "classifying"
	AuthLoggedIn              AuthState = "logged-in"
	AuthRetryableFailure      AuthState = "retryable-failure"
	AuthFatalFailure          AuthState = "fatal-failure"
)

// AuthManager signs the active account in and out of the live session.
type AuthManager struct {
	pc     *PurchaseContext
	logger *zap.Logger
	state  AuthState
}

func NewAuthManager(pc *PurchaseContext) *AuthManager {
	return &AuthManager{
		pc:     pc,
		logger: pc.Logger.Named("auth"),
		state:  AuthLoggedOut,
	}
}

// State returns the state the last attempt ended in.
func (a *AuthManager) State() AuthState {
	return a.state
}

// Classified reports whether the last SignIn ended in a fatal page
// classification, as opposed to a browser session that could not be had.
func (a *AuthManager) Classified() bool {
	return a.state == AuthFatalFailure
}

func (a *AuthManager) transition(to AuthState) {
	a.logger.Debug("Auth state", zap.String("from", string(a.state)), zap.String("to", string(to)))
	a.state = to
}

// SignIn authenticates the active account unless the session already is.
// A retryable classification costs one hard reset and one more attempt; a
// second consecutive one is reported as fatal.
func (a *AuthManager) SignIn() Outcome {
	session, err := a.pc.Session.Open()
	if err != nil {
		a.transition(AuthLoggedOut)
		return fatal("no browser session", err)
	}
	if session.Authenticated {
		return success()
	}

	account := a.pc.Rotation.Active()
	a.logger.Info("Signing in", zap.String("account", account.ID))

	for attempt := 1; ; attempt++ {
		o := a.attempt(session, account)
		if a.pc.Metrics != nil {
			a.pc.Metrics.Classification.WithLabelValues(o.Status.String()).Inc()
		}

		switch o.Status {
		case StatusSuccess:
			session.Authenticated = true
			a.transition(AuthLoggedIn)
			a.logger.Info("Sign in successful", zap.String("account", account.ID))
			return o

		case StatusRetryable:
			session.Authenticated = false
			a.transition(AuthRetryableFailure)
			if attempt > 1 {
				a.transition(AuthFatalFailure)
				return fatal("sign-in retry budget exhausted", fmt.Errorf("second consecutive failure: %s", o.Reason))
			}
			a.logger.Warn("Sign in failed, resetting session", zap.String("reason", o.Reason))
			if session, err = a.pc.Session.HardReset(); err != nil {
				a.transition(AuthLoggedOut)
				return fatal("hard reset failed", err)
			}
			a.transition(AuthLoggedOut)

		default:
			session.Authenticated = false
			a.transition(AuthFatalFailure)
			return o
		}
	}
}

func (a *AuthManager) attempt(session *Session, account Account) Outcome {
	cfg := a.pc.Config
	driver := session.Driver
	timeout := cfg.waitTimeout()

	a.transition(AuthSubmittingCredentials)
	if field, err := fillFields(driver, account.loginFields, timeout, a.logger); err != nil {
		return a.classifyMissing("credential field "+field, err)
	}

	submit, ok := driver.Locate(cfg.Selectors.SignInSubmit, timeout)
	if !ok {
		return a.classifyMissing("sign-in submit", nil)
	}
	if err := driver.Activate(submit); err != nil {
		return a.classifyMissing("sign-in submit", err)
	}

	a.transition(AuthAwaitingOTP)
	otpField, ok := driver.Locate(cfg.Selectors.OTPField, timeout)
	if !ok {
		return a.classifyMissing("one-time code field", nil)
	}

	// Codes are single-use per period, so generate right before typing.
	code, err := CurrentCode(account.Login.OTPSeed, a.pc.Clock.Now())
	if err != nil {
		return fatal("invalid one-time code seed", err)
	}
	if err := driver.Type(otpField, code); err != nil {
		return a.classifyMissing("one-time code field", err)
	}

	verify, ok := driver.Locate(cfg.Selectors.OTPSubmit, timeout)
	if !ok {
		return a.classifyMissing("one-time code submit", nil)
	}
	if err := driver.Activate(verify); err != nil {
		return a.classifyMissing("one-time code submit", err)
	}

	a.transition(AuthClassifying)
	return a.classify(driver)
}

// classify inspects the page reached after submitting the one-time code.
func (a *AuthManager) classify(driver PageDriver) Outcome {
	cfg := a.pc.Config

	if _, ok := driver.Locate(cfg.Selectors.InvalidCode, cfg.indicatorTimeout()); ok {
		return retryable("one-time code rejected")
	}
	if a.isRetryLaterPage(driver) {
		return retryable("retry-later page")
	}
	if _, ok := driver.Locate(cfg.Selectors.Authenticated, cfg.waitTimeout()); ok {
		return success()
	}
	return fatal("sign-in result indeterminate", errors.New("no success or failure indicator on page"))
}

// classifyMissing handles a control that could not be found or used before
// classification. A retry-later page explains it; anything else is fatal.
func (a *AuthManager) classifyMissing(what string, err error) Outcome {
	if a.isRetryLaterPage(a.pc.driver()) {
		return retryable("retry-later page before " + what)
	}
	if err == nil {
		err = fmt.Errorf("%s not found", what)
	}
	return fatal("sign-in page broken at "+what, err)
}

func (a *AuthManager) isRetryLaterPage(driver PageDriver) bool {
	if driver == nil {
		return false
	}
	body, err := driver.BodyText()
	if err != nil {
		return false
	}
	return normalize(body) == normalize(a.pc.Config.Text.RetryLater)
}

// SignOut signs the active account out through the account menu.
func (a *AuthManager) SignOut() Outcome {
	session := a.pc.Session.Current()
	if session == nil {
		return fatal("sign out without session", ErrNoSession)
	}

	cfg := a.pc.Config
	driver := session.Driver
	timeout := cfg.waitTimeout()

	menu, ok := driver.Locate(cfg.Selectors.AccountMenu, timeout)
	if !ok {
		return fatal("account menu not found", nil)
	}
	if err := driver.Activate(menu); err != nil {
		return fatal("account menu not clickable", err)
	}

	want := normalize(cfg.Text.SignOut)
	var signOut Element
	for _, item := range menu.LocateAll(cfg.Selectors.AccountItems, timeout) {
		if elementText(item) == want {
			signOut = item
			break
		}
	}
	if signOut == nil {
		return fatal("sign-out control not found", nil)
	}
	if err := driver.Activate(signOut); err != nil {
		return fatal("sign-out control not clickable", err)
	}

	if err := a.pc.Session.Refresh(); err != nil {
		return fatal("refresh after sign out failed", err)
	}
	session.Authenticated = false
	a.transition(AuthLoggedOut)
	a.logger.Info("Sign out successful")
	return success()
}

// CurrentCode returns the one-time code seed produces at t.
func CurrentCode(seed string, t time.Time) (string, error) {
	return totp.GenerateCode(strings.ToUpper(strings.ReplaceAll(seed, " ", "")), t)
}
