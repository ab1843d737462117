// Package metadata holds the headers published with every command, so
// transports and engines can route a command without decoding it.
package metadata

// Metadata maps header names to values. Methods never modify the receiver.
type Metadata map[string]string

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Get returns the value of key, empty when absent.
func (m Metadata) Get(key string) string { return m[key] }

// Clone returns a copy of m, never nil.
func (m Metadata) Clone() Metadata { return m.grow(0) }

// With returns a copy of m with key set to value.
func (m Metadata) With(key, value string) Metadata {
	out := m.grow(1)
	out[key] = value
	return out
}

// WithAll returns a copy of m with every entry of entries set.
func (m Metadata) WithAll(entries Metadata) Metadata {
	out := m.grow(len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out
}

// WithNonEmpty is WithAll for alternating key/value pairs, skipping pairs
// with an empty value.
func (m Metadata) WithNonEmpty(pairs ...string) Metadata {
	out := m.grow(len(pairs) / 2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			out[pairs[i]] = pairs[i+1]
		}
	}
	return out
}

// Default returns a copy of m with key set to value unless m already has a
// non-empty value for key.
func (m Metadata) Default(key, value string) Metadata {
	if m[key] != "" {
		return m.Clone()
	}
	return m.With(key, value)
}

func (m Metadata) grow(extra int) Metadata {
	out := make(Metadata, len(m)+extra)
	for k, v := range m {
		out[k] = v
	}
	return out
}
