package meta

// Well-known attribute names emitted by the bundled providers. Lookups
// are case-insensitive, so these are conventional spellings rather than
// a closed set.
const (
	AttrType        = "type"
	AttrDataKind    = "dataKind"
	AttrNullable    = "nullable"
	AttrDefault     = "default"
	AttrIdentity    = "identity"
	AttrPosition    = "position"
	AttrColumns     = "columns"
	AttrUnique      = "unique"
	AttrDescription = "description"
	AttrDriver      = "driver"
	AttrServer      = "serverVersion"
)

// Record is one raw child object as returned by a fetch provider,
// before it is materialized into a tree node. ID must be unique among
// the siblings of one fetch; Label defaults to ID when empty.
type Record struct {
	ID    string
	Label string
	Kind  Kind
	Attrs AttributeSet
}

// DisplayLabel returns the label, falling back to the identifier.
func (r Record) DisplayLabel() string {
	if r.Label != "" {
		return r.Label
	}
	return r.ID
}
