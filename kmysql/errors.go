package kmysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	kerrors "github.com/karu-codes/kmysql/errors"
)

// erQueryInterrupted is the MySQL server error number raised on the original
// connection when a sideband KILL QUERY succeeds.
const erQueryInterrupted = 1317

// wrapDriverError classifies a raw database/sql or go-sql-driver/mysql error
// into a *kerrors.Error carrying the matching Code, so callers can
// errors.Is/As against the taxonomy named in the component design instead of
// pattern-matching driver internals.
func wrapDriverError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return kerrors.Wrap(err, kerrors.CodeNotFound, msg)
	}
	if errors.Is(err, sql.ErrTxDone) {
		return kerrors.Wrap(err, kerrors.CodeInvalidState, msg)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return kerrors.Wrap(err, kerrors.CodeUnavailable, msg)
	}
	if errors.Is(err, context.Canceled) {
		return kerrors.Wrap(err, kerrors.CodeCancelled, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kerrors.Wrap(err, kerrors.CodeTimeout, msg)
	}

	if isInterruptedError(err) {
		return kerrors.Wrap(err, kerrors.CodeInterruptedExpected, msg)
	}

	if code, ok := classifyMySQLError(err); ok {
		return kerrors.Wrap(err, code, msg)
	}

	return kerrors.Wrap(err, kerrors.CodeDatabase, msg)
}

// isInterruptedError reports whether err is the ER_QUERY_INTERRUPTED error a
// connection raises after a sideband KILL QUERY targeting it succeeds.
func isInterruptedError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == erQueryInterrupted
	}
	return false
}

// classifyMySQLError maps server error numbers to this package's error
// taxonomy. See https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
func classifyMySQLError(err error) (kerrors.Code, bool) {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return "", false
	}

	switch mysqlErr.Number {
	case 1040, 1042, 1043: // connection-count / host / handshake errors
		return kerrors.CodeUnavailable, true
	case 1044: // ER_DBACCESS_DENIED_ERROR
		return kerrors.CodePermission, true
	case 1045: // ER_ACCESS_DENIED_ERROR
		return kerrors.CodeUnauthenticated, true
	case 1049, 1051: // unknown database / table
		return kerrors.CodeNotFound, true
	case 1050: // ER_TABLE_EXISTS_ERROR
		return kerrors.CodeAlreadyExists, true
	case 1054, 1060, 1061, 1064: // bad field / dup field / dup key / parse error
		return kerrors.CodeInvalidArgument, true
	case 1062: // ER_DUP_ENTRY
		return kerrors.CodeAlreadyExists, true
	case 1216, 1217, 1451, 1452: // foreign key violations
		return kerrors.CodeInvalidArgument, true
	case 1205: // ER_LOCK_WAIT_TIMEOUT
		return kerrors.CodeTimeout, true
	case 1213: // ER_LOCK_DEADLOCK
		return kerrors.CodeConflict, true
	case erQueryInterrupted: // ER_QUERY_INTERRUPTED
		return kerrors.CodeInterruptedExpected, true
	case 1030, 1037, 1041: // resource errors
		return kerrors.CodeUnavailable, true
	case 1159, 1160: // net read/write timeout
		return kerrors.CodeTimeout, true
	case 1142, 1143: // access denied on table/column
		return kerrors.CodePermission, true
	default:
		return kerrors.CodeDatabase, true
	}
}

// isRetryableConnectError reports whether a dial/ping failure during pool
// construction is worth retrying. This is a connection-establishment
// concern, not retry of a failed query (the latter is explicitly out of
// scope — see DESIGN.md).
func isRetryableConnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1040, 1042, 1043, 1053:
			return true
		}
		return false
	}
	// Dial-level errors (connection refused, no such host) surface as plain
	// net errors wrapped by the driver rather than *mysql.MySQLError.
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout")
}

// sanitizeQuery trims and truncates a query string for safe logging.
func sanitizeQuery(query string) string {
	query = strings.TrimSpace(query)
	const maxLength = 500
	if len(query) > maxLength {
		query = query[:maxLength] + "... (truncated)"
	}
	return query
}
