package kmysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/karu-codes/kmysql/errors"
)

func TestIsolationSQLMapsKnownTokens(t *testing.T) {
	cases := map[IsolationLevel]string{
		IsolationDefault:         "REPEATABLE READ",
		IsolationRepeatableRead:  "REPEATABLE READ",
		IsolationReadCommitted:   "READ COMMITTED",
		IsolationReadUncommitted: "READ UNCOMMITTED",
		IsolationSerializable:    "SERIALIZABLE",
	}
	for level, want := range cases {
		got, err := isolationSQL(level)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIsolationSQLRejectsUnknownToken(t *testing.T) {
	_, err := isolationSQL(IsolationLevel("bogus"))
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeUnsupportedIsolation))
}

func TestTxnAssertUsableBeforeBegin(t *testing.T) {
	txn := &Txn{}
	err := txn.assertUsable()
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeInvalidState))
}

func TestTxnAssertUsableAfterBegin(t *testing.T) {
	txn := &Txn{begun: true}
	assert.NoError(t, txn.assertUsable())
}

func TestTxnAssertUsableAfterEnd(t *testing.T) {
	txn := &Txn{begun: true, ended: true}
	err := txn.assertUsable()
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeClosed))
}

func TestTxnAssertUsableAfterClose(t *testing.T) {
	txn := &Txn{begun: true}
	txn.closed.Store(true)
	err := txn.assertUsable()
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeClosed))
}

func TestTxnBeginTwiceFails(t *testing.T) {
	txn := &Txn{begun: true}
	err := txn.Begin(nil, nil) //nolint:staticcheck // the begun check short-circuits before ctx is touched
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeInvalidState))
}

func TestTxnQueryOptionsForWiresCancelFn(t *testing.T) {
	txn := &Txn{
		pool:  &Pool{config: &Config{}},
		lease: &wireLease{threadID: 42},
	}

	opts := txn.queryOptionsFor("SELECT 1")
	assert.True(t, opts.keepOpen)
	require.NotNil(t, opts.cancelFn,
		"a transaction's queryOptions must carry a cancelFn so cancelling mid-query issues a sideband KILL QUERY")
}
