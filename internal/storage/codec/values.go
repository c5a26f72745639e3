// Package codec converts records to and from their flat relational rows.
// Codecs are stateless and reentrant; one codec exists per record type and is
// registered in the schema registry at startup.
package codec

// Kind is the SQL storage class of a column.
type Kind int

const (
	KindInteger Kind = iota
	KindReal
	KindText
	KindBlob
)

// SQLType returns the DDL type name for the kind.
func (k Kind) SQLType() string {
	switch k {
	case KindReal:
		return "REAL"
	case KindText:
		return "TEXT"
	case KindBlob:
		return "BLOB"
	default:
		return "INTEGER"
	}
}

// Column pairs a column name with its storage kind. Column specs drive both
// DDL generation and the generic row read/write helpers shared by all codecs.
type Column struct {
	Name string
	Kind Kind
}

// RowValues is one flat row keyed by column name. Values are int64, float64,
// string or []byte depending on the column kind; absent columns read as the
// kind's zero value.
type RowValues map[string]any

// Long reads an INTEGER column.
func (rv RowValues) Long(name string) int64 {
	switch v := rv[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Double reads a REAL column.
func (rv RowValues) Double(name string) float64 {
	switch v := rv[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// String reads a TEXT column.
func (rv RowValues) String(name string) string {
	switch v := rv[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Blob reads a BLOB column.
func (rv RowValues) Blob(name string) []byte {
	if v, ok := rv[name].([]byte); ok {
		return v
	}
	return nil
}
