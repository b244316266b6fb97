package meta

import "strings"

// Attribute is a single named qualifier on a metadata object, such as a
// column's type name or a key's member column list.
type Attribute struct {
	Name  string
	Value string
}

// AttributeSet is an ordered collection of attributes. Order follows
// whatever the provider returned; lookups are case-insensitive and
// resolve to the first match so providers may layer overrides by
// prepending.
type AttributeSet []Attribute

// Lookup returns the value of the first attribute whose name matches
// case-insensitively.
func (s AttributeSet) Lookup(name string) (string, bool) {
	for _, a := range s {
		if strings.EqualFold(a.Name, name) {
			return a.Value, true
		}
	}
	return "", false
}

// Value is Lookup without the presence flag; absent attributes yield "".
func (s AttributeSet) Value(name string) string {
	v, _ := s.Lookup(name)
	return v
}

// Has reports whether an attribute with the given name is present.
func (s AttributeSet) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// With returns a copy of the set with one attribute appended.
func (s AttributeSet) With(name, value string) AttributeSet {
	out := make(AttributeSet, len(s), len(s)+1)
	copy(out, s)
	return append(out, Attribute{Name: name, Value: value})
}

// Clone returns a copy that is safe to retain after the source changes.
func (s AttributeSet) Clone() AttributeSet {
	if s == nil {
		return nil
	}
	out := make(AttributeSet, len(s))
	copy(out, s)
	return out
}
