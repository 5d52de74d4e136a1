package model

import "strings"

// Field is a single (name, value) header pair. Field, not a map, is
// the unit of storage so that duplicate header names and their
// relative order survive a round trip to the wire and back.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Lookups are
// case-insensitive on Name, matching RFC 7230 §3.2.
type Header []Field

// Add appends a field, preserving any existing field with the same name.
func (h Header) Add(name, value string) Header {
	return append(h, Field{Name: name, Value: value})
}

// Get returns the value of the first field matching name, and whether
// one was found.
func (h Header) Get(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// GetAll returns the values of every field matching name, in order.
func (h Header) GetAll(name string) []string {
	var values []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

// Has reports whether any field matches name.
func (h Header) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Without returns a copy of h with every field matching name removed.
func (h Header) Without(name string) Header {
	out := make(Header, 0, len(h))
	for _, f := range h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	return out
}

// Clone returns an independent copy of h.
func (h Header) Clone() Header {
	out := make(Header, len(h))
	copy(out, h)
	return out
}
