package kmysql

import "testing"

func TestSizedTextOrBlob(t *testing.T) {
	sized := []string{"VARCHAR", "CHAR", "TEXT", "BLOB", "ENUM", "SET", "BIT", "JSON"}
	for _, name := range sized {
		if !sizedTextOrBlob(name) {
			t.Errorf("expected %s to be a sized text/blob type", name)
		}
	}

	unsized := []string{"INT", "BIGINT", "DECIMAL", "DATE", "DATETIME", "FLOAT"}
	for _, name := range unsized {
		if sizedTextOrBlob(name) {
			t.Errorf("expected %s not to be a sized text/blob type", name)
		}
	}
}

func TestCanonicalTypeNamesNormalizeSynonyms(t *testing.T) {
	cases := map[string]string{
		"MEDIUMINT":  "INT",
		"INTEGER":    "INT",
		"NUMERIC":    "DECIMAL",
		"TINYTEXT":   "TEXT",
		"MEDIUMTEXT": "TEXT",
		"LONGTEXT":   "TEXT",
		"TINYBLOB":   "BLOB",
		"MEDIUMBLOB": "BLOB",
		"LONGBLOB":   "BLOB",
		"BOOLEAN":    "BOOL",
	}
	for raw, want := range cases {
		got, ok := canonicalTypeNames[raw]
		if !ok {
			t.Fatalf("expected %s to have a canonical mapping", raw)
		}
		if got != want {
			t.Errorf("canonicalTypeNames[%s] = %s, want %s", raw, got, want)
		}
	}
}

func TestColumnNameIndex(t *testing.T) {
	columns := []ColumnInfo{{Name: "id"}, {Name: "name"}, {Name: "created_at"}}
	names, index := columnNameIndex(columns)

	if len(names) != 3 {
		t.Fatalf("expected 3 names, got %d", len(names))
	}
	for i, c := range columns {
		if names[i] != c.Name {
			t.Errorf("names[%d] = %s, want %s", i, names[i], c.Name)
		}
		if index[c.Name] != i {
			t.Errorf("index[%s] = %d, want %d", c.Name, index[c.Name], i)
		}
	}
}
