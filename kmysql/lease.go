package kmysql

import (
	"context"
	"database/sql"
	"database/sql/driver"

	kerrors "github.com/karu-codes/kmysql/errors"
)

// wireLease is a leased *sql.Conn plus the server-assigned thread id needed
// to issue a sideband KILL QUERY against it (§4.4). database/sql's own
// DB.Conn(ctx) already implements the cancelable-acquire policy in §5: if
// ctx is done before a connection is delivered, Conn returns ctx.Err()
// without leaking a connection that arrives afterward.
type wireLease struct {
	conn     *sql.Conn
	threadID int64
}

// acquireLease leases a dedicated connection from db and captures its
// server thread id, mirroring the rocketlaunchr-mysql-go idiom of reading
// SELECT CONNECTION_ID() immediately after acquire so a sideband KILL
// QUERY can later target this exact connection.
func acquireLease(ctx context.Context, db *sql.DB) (*wireLease, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, wrapDriverError(err, "failed to acquire pooled connection")
	}

	var threadID int64
	if err := conn.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&threadID); err != nil {
		_ = conn.Close()
		return nil, wrapDriverError(err, "failed to read connection id")
	}

	return &wireLease{conn: conn, threadID: threadID}, nil
}

// release returns the leased connection to the pool. Idempotent against
// repeated calls only insofar as *sql.Conn.Close already tolerates them.
func (l *wireLease) release() {
	_ = l.conn.Close()
}

// killQuery issues KILL QUERY <threadId> against a sideband connection
// leased from killerDB — never the connection running the query itself,
// since a single wire connection cannot carry a cancel signal alongside
// its own in-flight query (§4.4 rationale).
func killQuery(ctx context.Context, killerDB *sql.DB, threadID int64) error {
	conn, err := killerDB.Conn(ctx)
	if err != nil {
		return wrapDriverError(err, "failed to acquire killer connection")
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "KILL QUERY ?", threadID)
	if err != nil {
		return wrapDriverError(err, "KILL QUERY failed")
	}
	return nil
}

// teardown closes a leased connection outright, marking it bad so
// database/sql discards it from the pool instead of recycling it — used
// when a stream with keepOpen=false is cancelled, per §4.4's "destroy for
// hard kill" branch.
func (l *wireLease) teardown() error {
	_ = l.conn.Raw(func(driverConn any) error { return driver.ErrBadConn })
	return l.conn.Close()
}

// assertLeaseValid is a defensive guard that fails with Closed rather than
// panicking on a nil lease. Nothing in the package calls it; Conn and Txn
// methods check their own closed state instead.
func assertLeaseValid(l *wireLease) error {
	if l == nil {
		return kerrors.New(kerrors.CodeClosed, "connection is closed")
	}
	return nil
}
