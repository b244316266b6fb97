package meta

import "strings"

// DataKind is the coarse value category of a column, independent of the
// engine-specific type name.
type DataKind int

const (
	// DataKindUnknown is used when the declared type is missing or unrecognized.
	DataKindUnknown DataKind = iota
	// DataKindString covers character and text types.
	DataKindString
	// DataKindNumeric covers integer, decimal and floating point types.
	DataKindNumeric
	// DataKindBoolean covers boolean types.
	DataKindBoolean
	// DataKindDateTime covers date, time, timestamp and interval types.
	DataKindDateTime
	// DataKindBinary covers blob and byte array types.
	DataKindBinary
	// DataKindStruct covers composite, row and json document types.
	DataKindStruct
	// DataKindArray covers array types.
	DataKindArray
)

// String returns the lowercase kind name.
func (k DataKind) String() string {
	switch k {
	case DataKindString:
		return "string"
	case DataKindNumeric:
		return "numeric"
	case DataKindBoolean:
		return "boolean"
	case DataKindDateTime:
		return "datetime"
	case DataKindBinary:
		return "binary"
	case DataKindStruct:
		return "struct"
	case DataKindArray:
		return "array"
	default:
		return "unknown"
	}
}

// ClassifyType maps an engine type name such as "VARCHAR(120)" or
// "timestamp with time zone" to its data kind. Unrecognized names map
// to DataKindUnknown rather than failing.
func ClassifyType(typeName string) DataKind {
	name := strings.ToLower(strings.TrimSpace(typeName))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if name == "" {
		return DataKindUnknown
	}
	if strings.HasSuffix(name, "[]") {
		return DataKindArray
	}
	switch name {
	case "int", "integer", "int2", "int4", "int8", "smallint", "bigint", "tinyint",
		"serial", "bigserial", "smallserial", "decimal", "numeric", "real", "float",
		"float4", "float8", "double", "double precision", "money", "number":
		return DataKindNumeric
	case "bool", "boolean", "bit":
		return DataKindBoolean
	case "date", "time", "timetz", "timestamp", "timestamptz", "datetime", "interval",
		"time with time zone", "time without time zone",
		"timestamp with time zone", "timestamp without time zone":
		return DataKindDateTime
	case "blob", "bytea", "binary", "varbinary", "raw":
		return DataKindBinary
	case "json", "jsonb", "xml", "record", "composite", "struct":
		return DataKindStruct
	case "array":
		return DataKindArray
	case "char", "character", "varchar", "character varying", "nvarchar", "nchar",
		"text", "clob", "string", "uuid", "name", "citext":
		return DataKindString
	}
	switch {
	case strings.Contains(name, "char"), strings.Contains(name, "text"):
		return DataKindString
	case strings.Contains(name, "int"), strings.Contains(name, "float"),
		strings.Contains(name, "decimal"), strings.Contains(name, "numeric"):
		return DataKindNumeric
	case strings.Contains(name, "timestamp"), strings.Contains(name, "date"),
		strings.Contains(name, "time"):
		return DataKindDateTime
	case strings.Contains(name, "blob"), strings.Contains(name, "binary"):
		return DataKindBinary
	}
	return DataKindUnknown
}
