package config

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// Override is one parsed key=value assignment.
type Override struct {
	Path  Path
	Value cty.Value

	// Raw preserves the original expression for run records and errors.
	Raw string
}

// OverrideSet is an ordered list of overrides applied as one precedence
// layer. Later entries in the same set win over earlier ones.
type OverrideSet []Override

// ParseOverride parses a single "dotted.key=value" assignment. The value is
// interpreted as a YAML scalar or flow collection, so `min_price=10` yields
// a number and `stratify_by=neighbourhood_group` a string. Quoting the value
// forces a string: `max_price='350'`.
func ParseOverride(raw string) (Override, error) {
	key, val, found := strings.Cut(raw, "=")
	if !found {
		return Override{}, &BadOverrideError{Raw: raw, Reason: fmt.Errorf("expected key=value")}
	}
	p, err := ParsePath(strings.TrimSpace(key))
	if err != nil {
		return Override{}, &BadOverrideError{Raw: raw, Reason: err}
	}
	v, err := ParseValue(val)
	if err != nil {
		return Override{}, &BadOverrideError{Raw: raw, Reason: err}
	}
	return Override{Path: p, Value: v, Raw: raw}, nil
}

// ParseOverrides parses a list of key=value assignments in order.
func ParseOverrides(raw []string) (OverrideSet, error) {
	set := make(OverrideSet, 0, len(raw))
	for _, r := range raw {
		o, err := ParseOverride(r)
		if err != nil {
			return nil, err
		}
		set = append(set, o)
	}
	return set, nil
}

// ParseValue interprets a single override value string as YAML and converts
// it into the cty value space.
func ParseValue(s string) (cty.Value, error) {
	var native any
	if err := yaml.Unmarshal([]byte(s), &native); err != nil {
		return cty.NilVal, fmt.Errorf("parsing value %q: %w", s, err)
	}
	return nativeToCty(native)
}
