package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Messages is the catalog of notification texts. Built-in English strings
// can be overridden key by key from a YAML file.
type Messages struct {
	translations map[string]string
}

var defaultMessages = map[string]string{
	"purchase_subject":       "Purchased %s",
	"purchase_body":          "Account %s purchased variant %q from %s",
	"dry_run_purchase_body":  "Dry run: account %s completed checkout for variant %q from %s without submitting",
	"failure_subject":        "Stopped after an error",
	"failure_body":           "The bot went offline due to the following error:\n%T\n%v",
	"rotation_done_subject":  "Account rotation exhausted",
	"rotation_done_body":     "Account %s is the last configured account; choose a different account and restart",
	"schedule_ended_subject": "Schedule ended",
	"schedule_ended_body":    "All polling windows have ended after %d purchase(s)",
}

func DefaultMessages() *Messages {
	translations := make(map[string]string, len(defaultMessages))
	for k, v := range defaultMessages {
		translations[k] = v
	}
	return &Messages{translations: translations}
}

// LoadMessages returns the default catalog with the keys in path applied on
// top. An empty path yields the defaults.
func LoadMessages(path string) (*Messages, error) {
	m := DefaultMessages()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages file %s: %w", path, err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse messages file %s: %w", path, err)
	}

	for k, v := range overrides {
		m.translations[k] = v
	}
	return m, nil
}

// T formats the message for key. Unknown keys are returned as-is.
func (m *Messages) T(key string, params ...interface{}) string {
	translation, ok := m.translations[key]
	if !ok {
		return key
	}

	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}
	return translation
}
