package kmysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/karu-codes/kmysql/errors"
)

func newTestRow() *Row {
	columns := []ColumnInfo{{Name: "id"}, {Name: "name"}}
	names, index := columnNameIndex(columns)
	return newRow(names, index, []any{int64(1), "alpha"})
}

func TestRowByOrdinal(t *testing.T) {
	row := newTestRow()

	v, err := row.ByOrdinal(1)
	require.NoError(t, err)
	assert.Equal(t, "alpha", v)

	_, err = row.ByOrdinal(5)
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeInvalidArgument))

	_, err = row.ByOrdinal(-1)
	require.Error(t, err)
}

func TestRowByName(t *testing.T) {
	row := newTestRow()

	v, err := row.ByName("name")
	require.NoError(t, err)
	assert.Equal(t, "alpha", v)

	_, err = row.ByName("nope")
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeInvalidArgument))
}

func TestRowToArray(t *testing.T) {
	row := newTestRow()
	arr := row.ToArray()
	assert.Equal(t, []any{int64(1), "alpha"}, arr)

	// Mutating the returned slice must not affect the row.
	arr[0] = int64(99)
	v, _ := row.ByOrdinal(0)
	assert.Equal(t, int64(1), v)
}

func TestRowToObject(t *testing.T) {
	row := newTestRow()
	obj := row.ToObject()
	assert.Equal(t, map[string]any{"id": int64(1), "name": "alpha"}, obj)
}

func TestRowCloneIsIndependent(t *testing.T) {
	row := newTestRow()
	clone := row.Clone()

	clone.values[0] = int64(42)

	v, _ := row.ByOrdinal(0)
	assert.Equal(t, int64(1), v, "mutating a clone must not affect the original row")

	cv, _ := clone.ByOrdinal(0)
	assert.Equal(t, int64(42), cv)
}
