package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// AdapterChain is an ordered list of adapter ids. In YAML it may be written as
// a sequence or as a comma separated scalar.
type AdapterChain []string

// UnmarshalYAML accepts both `[a, b]` and `"a, b"`.
func (c *AdapterChain) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		*c = ParseAdapterChain(raw)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*c = AdapterChain(items)
		return nil
	default:
		return fmt.Errorf("adapter chain: line %d: expected a string or a list", value.Line)
	}
}

// ParseAdapterChain splits a comma separated adapter list.
func ParseAdapterChain(raw string) AdapterChain {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	chain := make(AdapterChain, 0, len(parts))
	for _, p := range parts {
		chain = append(chain, strings.TrimSpace(p))
	}
	return chain
}

// Normalize trims the ids and drops blanks and repeated entries while keeping
// the order of first occurrence.
func (c AdapterChain) Normalize() []string {
	if len(c) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(c))
	out := make([]string, 0, len(c))
	for _, id := range c {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
