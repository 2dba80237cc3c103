package metadata

import (
	"maps"
	"net/http"
	"strings"
)

// Metadata carries string headers alongside a call: HTTP headers, bus message
// metadata or NATS headers, normalized to a flat map.
type Metadata map[string]string

// Clone returns a shallow copy. The result is never nil.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+1)
	maps.Copy(out, m)
	return out
}

// With returns a copy of m with key set to value.
func (m Metadata) With(key, value string) Metadata {
	out := m.Clone()
	out[key] = value
	return out
}

// Get looks a key up ignoring case.
func (m Metadata) Get(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// FromHeader flattens multi-valued headers (net/http or NATS) keeping the
// first value of each key.
func FromHeader(h map[string][]string) Metadata {
	md := make(Metadata, len(h))
	for k, values := range h {
		if len(values) > 0 {
			md[http.CanonicalHeaderKey(k)] = values[0]
		}
	}
	return md
}
