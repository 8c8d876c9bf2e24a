package kmysql

import (
	"database/sql"
	"strings"
)

// DecimalSize reports the precision and scale of a DECIMAL/NUMERIC column.
type DecimalSize struct {
	Precision int64
	Scale     int64
}

// ColumnInfo describes one result-set column. It is derived once from the
// first field packet of a stream and is immutable thereafter.
type ColumnInfo struct {
	Name        string
	TypeName    string
	Nullable    bool
	Length      int64
	HasLength   bool
	Decimal     DecimalSize
	HasDecimal  bool
}

// canonicalTypeNames mirrors the MySQL field types this layer normalizes to:
// TINYINT, SMALLINT, INT, BIGINT, DECIMAL, FLOAT, DOUBLE, VARCHAR, CHAR,
// TEXT, BLOB, ENUM, SET, DATE, TIME, DATETIME, TIMESTAMP, YEAR, JSON,
// GEOMETRY, BIT, BOOL, NULL.
var canonicalTypeNames = map[string]string{
	"TINYINT":   "TINYINT",
	"SMALLINT":  "SMALLINT",
	"MEDIUMINT": "INT",
	"INT":       "INT",
	"INTEGER":   "INT",
	"BIGINT":    "BIGINT",
	"DECIMAL":   "DECIMAL",
	"NUMERIC":   "DECIMAL",
	"FLOAT":     "FLOAT",
	"DOUBLE":    "DOUBLE",
	"VARCHAR":   "VARCHAR",
	"CHAR":      "CHAR",
	"TEXT":      "TEXT",
	"TINYTEXT":  "TEXT",
	"MEDIUMTEXT": "TEXT",
	"LONGTEXT":  "TEXT",
	"BLOB":      "BLOB",
	"TINYBLOB":  "BLOB",
	"MEDIUMBLOB": "BLOB",
	"LONGBLOB":  "BLOB",
	"ENUM":      "ENUM",
	"SET":       "SET",
	"DATE":      "DATE",
	"TIME":      "TIME",
	"DATETIME":  "DATETIME",
	"TIMESTAMP": "TIMESTAMP",
	"YEAR":      "YEAR",
	"JSON":      "JSON",
	"GEOMETRY":  "GEOMETRY",
	"BIT":       "BIT",
	"BOOL":      "BOOL",
	"BOOLEAN":   "BOOL",
	"NULL":      "NULL",
}

// sizedTextOrBlob reports whether a canonical type name reports a length in
// characters (text-like) as opposed to a fixed-size numeric/temporal type
// that carries no meaningful length.
func sizedTextOrBlob(typeName string) bool {
	switch typeName {
	case "VARCHAR", "CHAR", "TEXT", "BLOB", "ENUM", "SET", "BIT", "JSON":
		return true
	default:
		return false
	}
}

// newColumnInfo decodes one *sql.ColumnType into a ColumnInfo, following
// the field-type + flags + length → canonical tuple mapping named in the
// component design. go-sql-driver/mysql's DatabaseTypeName already reports
// MySQL's own type keyword, so normalization here is a lookup rather than a
// raw wire-flag decode; the canonical-name table above is the contract this
// layer promises callers, independent of driver-internal naming drift.
func newColumnInfo(ct *sql.ColumnType) ColumnInfo {
	raw := strings.ToUpper(ct.DatabaseTypeName())
	typeName, ok := canonicalTypeNames[raw]
	if !ok {
		typeName = raw
	}

	nullable, _ := ct.Nullable()

	info := ColumnInfo{
		Name:     ct.Name(),
		TypeName: typeName,
		Nullable: nullable,
	}

	if length, ok := ct.Length(); ok && sizedTextOrBlob(typeName) {
		// database/sql reports character length directly for MySQL
		// via go-sql-driver; the raw-byte-length/4 fallback documented in
		// the wire-protocol design is only needed when decoding a field
		// packet's raw length ourselves, which this driver-backed
		// realization never has to do.
		info.Length = length
		info.HasLength = true
	}

	if precision, scale, ok := ct.DecimalSize(); ok {
		info.Decimal = DecimalSize{Precision: precision, Scale: scale}
		info.HasDecimal = true
	} else if typeName == "DECIMAL" {
		if length, lok := ct.Length(); lok {
			// Open question (a): database/sql/go-sql-driver did not report
			// decimal metadata for this column (observed with some
			// PREPARE-less text-protocol result sets). Fall back to the
			// empirical columnLength-2 formula flagged in the design notes;
			// this may over/undercount precision by 1 for signed vs.
			// unsigned columns.
			info.Decimal = DecimalSize{Precision: length - 2, Scale: 0}
			info.HasDecimal = true
		}
	}

	return info
}
