// internal/liveauth/form.go
package liveauth

import (
	"fmt"
	"net/url"
	"strings"
)

// Field is a single form entry. Name and Value are raw byte strings.
type Field struct {
	Name  string
	Value string
}

// Form is an ordered, schema-less set of form fields. Setting a name that is
// already present keeps its original position and replaces the value.
type Form struct {
	fields []Field
	index  map[string]int
}

// NewForm returns an empty form.
func NewForm() *Form {
	return &Form{index: make(map[string]int)}
}

// Set adds or replaces a field.
func (f *Form) Set(name, value string) {
	if i, ok := f.index[name]; ok {
		f.fields[i].Value = value
		return
	}
	f.index[name] = len(f.fields)
	f.fields = append(f.fields, Field{Name: name, Value: value})
}

// Get returns the value stored under name.
func (f *Form) Get(name string) (string, bool) {
	i, ok := f.index[name]
	if !ok {
		return "", false
	}
	return f.fields[i].Value, true
}

// Len is the number of distinct field names.
func (f *Form) Len() int {
	return len(f.fields)
}

// Fields returns a copy of the fields in wire order.
func (f *Form) Fields() []Field {
	out := make([]Field, len(f.fields))
	copy(out, f.fields)
	return out
}

// Encode renders the form as application/x-www-form-urlencoded, keeping field order.
// Spaces become '+' and only unreserved characters stay bare.
func (f *Form) Encode() string {
	var b strings.Builder
	for i, field := range f.fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(field.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(field.Value))
	}
	return b.String()
}

// ParseForm decodes an encoded body back into an ordered form.
func ParseForm(encoded string) (*Form, error) {
	form := NewForm()
	if encoded == "" {
		return form, nil
	}
	for _, pair := range strings.Split(encoded, "&") {
		rawName, rawValue, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(rawName)
		if err != nil {
			return nil, fmt.Errorf("invalid field name %q: %w", rawName, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("invalid value for field %q: %w", name, err)
		}
		form.Set(name, value)
	}
	return form, nil
}
