package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// FieldKind says how a form field is driven.
type FieldKind string

const (
	FieldText   FieldKind = "text"
	FieldSelect FieldKind = "select"
	FieldButton FieldKind = "button"
)

// FieldDescriptor is one step of a form fill, fixed at configuration time.
type FieldDescriptor struct {
	Name     string
	Kind     FieldKind
	Selector Selector
	Value    string
	// Optional fields are skipped when absent or when Value is empty.
	Optional bool
}

func (s SelectorConfig) loginFields(login LoginInfo) []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "sign_in", Kind: FieldButton, Selector: s.SignInEntry},
		{Name: "username", Kind: FieldText, Selector: s.Username, Value: login.Username},
		{Name: "password", Kind: FieldText, Selector: s.Password, Value: login.Password},
	}
}

func (s SelectorConfig) checkoutFields(p ShippingProfile) []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "name", Kind: FieldText, Selector: s.DeliveryName, Value: p.Name},
		{Name: "address", Kind: FieldText, Selector: s.DeliveryAddress1, Value: p.Address1},
		{Name: "additional_address", Kind: FieldText, Selector: s.DeliveryAddress2, Value: p.Address2, Optional: true},
		{Name: "city", Kind: FieldText, Selector: s.DeliveryCity, Value: p.City},
		{Name: "state", Kind: FieldSelect, Selector: s.DeliveryState, Value: p.State},
		{Name: "postal_code", Kind: FieldText, Selector: s.DeliveryPostcode, Value: p.PostalCode},
		{Name: "phone_number", Kind: FieldText, Selector: s.DeliveryPhone, Value: p.Phone},
	}
}

// fillFields drives each descriptor in order. The first required field
// that cannot be found or driven stops the fill and is returned as the
// missing field's name.
func fillFields(driver PageDriver, fields []FieldDescriptor, timeout time.Duration, logger *zap.Logger) (string, error) {
	for _, f := range fields {
		if f.Optional && f.Kind != FieldButton && f.Value == "" {
			continue
		}

		el, ok := driver.Locate(f.Selector, timeout)
		if !ok {
			if f.Optional {
				logger.Debug("Optional field not present", zap.String("field", f.Name))
				continue
			}
			return f.Name, fmt.Errorf("field %s not found (%s)", f.Name, f.Selector)
		}

		var err error
		switch f.Kind {
		case FieldText:
			err = driver.Type(el, f.Value)
		case FieldSelect:
			err = driver.Choose(el, f.Value)
		case FieldButton:
			err = driver.Activate(el)
		default:
			err = fmt.Errorf("unknown field kind %q", f.Kind)
		}
		if err != nil {
			return f.Name, fmt.Errorf("field %s: %w", f.Name, err)
		}
		logger.Debug("Field filled", zap.String("field", f.Name), zap.String("kind", string(f.Kind)))
	}
	return "", nil
}
