// Package httpmsg defines the immutable HTTP request/response snapshots
// that flow through the layer pipeline and out to the publish bus.
//
// Headers are modeled as an ordered list of name/value pairs rather than
// a map so that duplicate headers and wire order survive a round trip;
// Get/Values/Set are read/write convenience views over that list, as
// required by the "HTTP header representation" design note.
package httpmsg

import "github.com/samber/lo"

// Header is a single name/value pair, preserving wire casing.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered list of headers; duplicates are preserved.
type Headers []Header

// NewHeaders builds a Headers list from name/value pairs, e.g.
// NewHeaders("Host", "example.com", "Accept", "*/*").
func NewHeaders(pairs ...string) Headers {
	h := make(Headers, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		h = append(h, Header{Name: pairs[i], Value: pairs[i+1]})
	}
	return h
}

// Get returns the first value for key, case-insensitively, or "".
func (h Headers) Get(key string) string {
	for _, kv := range h {
		if equalFold(kv.Name, key) {
			return kv.Value
		}
	}
	return ""
}

// Values returns every value for key, in wire order.
func (h Headers) Values(key string) []string {
	var vs []string
	for _, kv := range h {
		if equalFold(kv.Name, key) {
			vs = append(vs, kv.Value)
		}
	}
	return vs
}

// Has reports whether key is present at all.
func (h Headers) Has(key string) bool {
	for _, kv := range h {
		if equalFold(kv.Name, key) {
			return true
		}
	}
	return false
}

// Add appends a header, preserving any existing ones with the same name.
func (h Headers) Add(key, value string) Headers {
	return append(h, Header{Name: key, Value: value})
}

// Set removes every existing header with key and appends a single one.
func (h Headers) Set(key, value string) Headers {
	out := make(Headers, 0, len(h)+1)
	for _, kv := range h {
		if !equalFold(kv.Name, key) {
			out = append(out, kv)
		}
	}
	return append(out, Header{Name: key, Value: value})
}

// Del removes every existing header with key.
func (h Headers) Del(key string) Headers {
	out := make(Headers, 0, len(h))
	for _, kv := range h {
		if !equalFold(kv.Name, key) {
			out = append(out, kv)
		}
	}
	return out
}

// Dict returns a read-only map view, last value wins per key.
func (h Headers) Dict() map[string]string {
	m := make(map[string]string, len(h))
	for _, kv := range h {
		m[kv.Name] = kv.Value
	}
	return m
}

// Clone deep-copies the header list.
func (h Headers) Clone() Headers {
	return lo.Map(h, func(kv Header, _ int) Header { return kv })
}

// List returns the headers as [][2]string pairs for JSON wire encoding.
func (h Headers) List() [][2]string {
	return lo.Map(h, func(kv Header, _ int) [2]string { return [2]string{kv.Name, kv.Value} })
}

// FromList rebuilds a Headers list from [][2]string wire pairs.
func FromList(pairs [][2]string) Headers {
	return lo.Map(pairs, func(p [2]string, _ int) Header { return Header{Name: p[0], Value: p[1]} })
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
