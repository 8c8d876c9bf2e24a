package kmysql

import kerrors "github.com/karu-codes/kmysql/errors"

// Row is an opaque view over a column-name list and a per-row value slice.
// It supports access by name or by zero-based ordinal, plus toObject
// (shallow snapshot) and toArray (ordinal projection). A Row returned by a
// cursor advance is valid only until the next advance unless Clone is
// called explicitly.
type Row struct {
	names   []string
	index   map[string]int
	values  []any
}

// newRow builds a Row from the column names captured at stream-open time
// and the raw value slice scanned for this packet.
func newRow(names []string, index map[string]int, values []any) *Row {
	return &Row{names: names, index: index, values: values}
}

// ByOrdinal returns the value at the given zero-based column position.
func (r *Row) ByOrdinal(i int) (any, error) {
	if i < 0 || i >= len(r.values) {
		return nil, kerrors.Newf(kerrors.CodeInvalidArgument, "row: ordinal %d out of range [0,%d)", i, len(r.values))
	}
	return r.values[i], nil
}

// ByName returns the value of the named column.
func (r *Row) ByName(name string) (any, error) {
	i, ok := r.index[name]
	if !ok {
		return nil, kerrors.Newf(kerrors.CodeInvalidArgument, "row: no such column %q", name)
	}
	return r.values[i], nil
}

// ToArray returns a copy of the row's values in column order.
func (r *Row) ToArray() []any {
	out := make([]any, len(r.values))
	copy(out, r.values)
	return out
}

// ToObject returns a shallow snapshot mapping column name to value.
func (r *Row) ToObject() map[string]any {
	out := make(map[string]any, len(r.names))
	for i, name := range r.names {
		out[name] = r.values[i]
	}
	return out
}

// Clone returns a Row independent of the cursor's lifetime, safe to retain
// past the next cursor advance.
func (r *Row) Clone() *Row {
	values := make([]any, len(r.values))
	copy(values, r.values)
	return &Row{names: r.names, index: r.index, values: values}
}

// columnNameIndex builds the name→ordinal lookup shared by every row
// produced from the same stream, computed once from the captured
// ColumnInfo list.
func columnNameIndex(columns []ColumnInfo) (names []string, index map[string]int) {
	names = make([]string, len(columns))
	index = make(map[string]int, len(columns))
	for i, c := range columns {
		names[i] = c.Name
		index[c.Name] = i
	}
	return names, index
}
