package meta

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ColumnDetails is the typed view over a column node's attributes.
type ColumnDetails struct {
	Name     string
	TypeName string
	DataKind DataKind
	Nullable bool
	Default  string
	Position int
	// Identity holds the current identity (auto increment) counter when
	// the column has one. Engines report values past int64 range, so it
	// is kept as an exact decimal.
	Identity decimal.NullDecimal
	Comment  string
}

// ParseColumn interprets a column record's attributes. Missing
// attributes fall back to zero values; a malformed identity or position
// is an error because silently dropping them would misreport the column.
func ParseColumn(rec Record) (ColumnDetails, error) {
	if rec.Kind != KindColumn {
		return ColumnDetails{}, fmt.Errorf("record %q is a %s, not a column", rec.ID, rec.Kind)
	}
	det := ColumnDetails{
		Name:     rec.ID,
		TypeName: rec.Attrs.Value(AttrType),
		Default:  rec.Attrs.Value(AttrDefault),
		Comment:  rec.Attrs.Value(AttrDescription),
	}
	det.DataKind = ClassifyType(det.TypeName)
	if v, ok := rec.Attrs.Lookup(AttrNullable); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return ColumnDetails{}, fmt.Errorf("column %q: bad nullable flag %q: %w", rec.ID, v, err)
		}
		det.Nullable = b
	}
	if v, ok := rec.Attrs.Lookup(AttrPosition); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ColumnDetails{}, fmt.Errorf("column %q: bad ordinal %q: %w", rec.ID, v, err)
		}
		det.Position = n
	}
	if v, ok := rec.Attrs.Lookup(AttrIdentity); ok && v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return ColumnDetails{}, fmt.Errorf("column %q: bad identity value %q: %w", rec.ID, v, err)
		}
		det.Identity = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	return det, nil
}

// KeyDetails is the typed view over a key constraint node's attributes.
type KeyDetails struct {
	Name    string
	Unique  bool
	Columns []string
}

// ParseKey interprets a key record's attributes. The member column list
// is stored as a comma-separated attribute.
func ParseKey(rec Record) (KeyDetails, error) {
	if rec.Kind != KindKey {
		return KeyDetails{}, fmt.Errorf("record %q is a %s, not a key", rec.ID, rec.Kind)
	}
	det := KeyDetails{
		Name:    rec.ID,
		Columns: SplitColumns(rec.Attrs.Value(AttrColumns)),
	}
	if v, ok := rec.Attrs.Lookup(AttrUnique); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return KeyDetails{}, fmt.Errorf("key %q: bad unique flag %q: %w", rec.ID, v, err)
		}
		det.Unique = b
	}
	return det, nil
}

// ContainsColumn reports whether the key covers the named column.
// Engines disagree on identifier case, so membership is
// case-insensitive.
func (k KeyDetails) ContainsColumn(name string) bool {
	for _, c := range k.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// SplitColumns parses a comma-separated column list attribute.
func SplitColumns(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cols = append(cols, p)
		}
	}
	return cols
}

// JoinColumns renders a column list as the comma-separated attribute form.
func JoinColumns(cols []string) string {
	return strings.Join(cols, ",")
}
