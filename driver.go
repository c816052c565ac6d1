package main

import (
	"strings"
	"time"
)

// Selector is a CSS selector, or an XPath expression when prefixed with
// "xpath:".
type Selector string

const xpathPrefix = "xpath:"

// XPath returns the expression and true when the selector is an XPath one.
func (s Selector) XPath() (string, bool) {
	if strings.HasPrefix(string(s), xpathPrefix) {
		return strings.TrimPrefix(string(s), xpathPrefix), true
	}
	return "", false
}

func (s Selector) String() string {
	return string(s)
}

// Scope is anything elements can be looked up under. Lookups wait up to
// timeout and report absence with ok == false or an empty slice; a missing
// element is an expected outcome, not an error.
type Scope interface {
	Locate(sel Selector, timeout time.Duration) (el Element, ok bool)
	LocateAll(sel Selector, timeout time.Duration) []Element
}

// Element is a handle to a node on the live page.
type Element interface {
	Scope
	Text() (string, error)
	Attribute(name string) (string, bool)
}

// PageDriver executes interactions against one live page session.
type PageDriver interface {
	Scope
	Activate(el Element) error
	Type(el Element, text string) error
	Choose(el Element, option string) error
	BodyText() (string, error)
	Navigate(url string) error
	Dispose() error
}

// DriverFactory acquires a fresh page driver. Each call owns a new browser
// resource which the caller must dispose.
type DriverFactory func() (PageDriver, error)

// normalize lower-cases s and collapses runs of whitespace.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// elementText reads and normalizes an element's text, returning "" on error.
func elementText(el Element) string {
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return normalize(text)
}
