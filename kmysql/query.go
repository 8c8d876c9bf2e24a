package kmysql

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	kerrors "github.com/karu-codes/kmysql/errors"
)

// ExecResult is the outcome of a non-result-set statement.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// nextResult is the reply to one next() request.
type nextResult struct {
	hasRow bool
	err    error
}

// queryOptions configures a Query's relationship to its owning connection
// tier: whether the wire connection outlives the stream (keepOpen), how to
// trigger a sideband cancel, and how to release the connection on terminal
// completion.
type queryOptions struct {
	keepOpen  bool
	highWater int
	lowWater  int

	// cancelFn issues the sideband KILL QUERY against a different pooled
	// connection (§4.4) — it's what actually interrupts a blocked
	// server-side statement, so requestCancel fires it regardless of
	// keepOpen whenever one is wired. May be nil.
	cancelFn func(ctx context.Context)

	// releaseFn disposes of the wire connection when the query reaches a
	// terminal state and keepOpen is false. The canceled argument tells the
	// caller whether to release the connection back to the pool (clean end)
	// or tear it down (the stream was cancelled, so the connection's state
	// after a KILLed or abandoned query is not trustworthy for reuse).
	// Called at most once.
	releaseFn func(canceled bool)

	logger    *slog.Logger
	metrics   MetricsCollector
	traceID   string
	queryText string
}

// Query is the streaming cursor state machine: it turns the four inbound
// event kinds (fields, result, end, error) and the external cancel signal
// into a pull-based cursor with bounded memory and promise-shaped
// readiness. States: Opening → Ready(Result) | Ready(Rows) → Done, with
// cross-edges to Error and Canceling → Done. All state below the exported
// methods is owned exclusively by the run loop goroutine; the public
// surface communicates with it over channels so the state machine itself
// never needs a mutex.
type Query struct {
	cursor wireCursor

	nextReqCh  chan chan nextResult
	closeReqCh chan chan error
	cancelCh   chan struct{}
	loopDone   chan struct{}

	readyFut *future[error]

	opts queryOptions

	// currentRow is published by the loop only at the instant a next()
	// reply with hasRow=true is sent, and is read by Row()/result() only
	// after that reply is observed by the same caller goroutine — this
	// mirrors the single-threaded-cooperative model in the component
	// design (one logical execution stream per wire connection).
	currentRow *Row
	columns    []ColumnInfo
	isExec     bool
	execResult ExecResult

	// finalErr is the terminal stream error, written by the loop before
	// loopDone closes and returned by Next calls made after that.
	finalErr error

	canceled atomic.Bool
}

// newRowsQuery constructs a Query over a live wireCursor producing a row
// stream.
func newRowsQuery(cursor wireCursor, opts queryOptions) *Query {
	q := &Query{
		cursor:     cursor,
		nextReqCh:  make(chan chan nextResult),
		closeReqCh: make(chan chan error),
		cancelCh:   make(chan struct{}, 1),
		loopDone:   make(chan struct{}),
		readyFut:   newFuture[error](),
		opts:       opts,
	}
	go q.runRows()
	return q
}

// newExecQuery constructs a Query that is immediately Ready(Result) — no
// wire cursor is involved since the driver already delivered the single
// update packet synchronously.
func newExecQuery(result ExecResult, opts queryOptions) *Query {
	q := &Query{
		nextReqCh:  make(chan chan nextResult),
		closeReqCh: make(chan chan error),
		cancelCh:   make(chan struct{}, 1),
		loopDone:   make(chan struct{}),
		readyFut:   newFuture[error](),
		opts:       opts,
		isExec:     true,
		execResult: result,
	}
	q.readyFut.fulfill(nil)
	go q.runExec()
	return q
}

// newErrorQuery constructs a Query that failed before ready() — e.g. the
// driver rejected the statement outright. ready() delivers err as a value;
// next() and close() also observe it per the propagation policy in §7.
func newErrorQuery(err error, opts queryOptions) *Query {
	q := &Query{
		nextReqCh:  make(chan chan nextResult),
		closeReqCh: make(chan chan error),
		cancelCh:   make(chan struct{}, 1),
		loopDone:   make(chan struct{}),
		readyFut:   newFuture[error](),
		opts:       opts,
		finalErr:   err,
	}
	q.readyFut.fulfill(err)
	go q.runError(err)
	return q
}

// watchContext arranges for ctx cancellation to invoke Close's underlying
// cancel path. Callers (Conn/Pool) start this once per query, right after
// construction, wiring the caller-supplied cancellation signal named in
// §4.4 into the stream.
func (q *Query) watchContext(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			select {
			case q.cancelCh <- struct{}{}:
			default:
			}
		case <-q.loopDone:
		}
	}()
}

// Ready completes with either the first error or nil once the field list
// (or an exec result) has been observed. Errors are delivered as values,
// not panics — callers decide how to translate them.
func (q *Query) Ready() error {
	return q.readyFut.wait()
}

// Columns returns the decoded column list. Valid only after Ready has
// resolved; fails with NotReady otherwise, or re-raises the ready-phase
// error.
func (q *Query) Columns() ([]ColumnInfo, error) {
	select {
	case <-q.readyFut.isDone():
	default:
		return nil, kerrors.New(kerrors.CodeNotReady, "columns: ready() has not resolved yet")
	}
	if err := q.readyFut.wait(); err != nil {
		return nil, err
	}
	if q.isExec {
		return nil, kerrors.New(kerrors.CodeInvalidState, "columns: statement is an exec statement, not a row set")
	}
	return q.columns, nil
}

// Next advances the cursor. It resolves true if a row becomes current,
// false at end of stream, and returns the stream error if one occurred.
// It is idempotent at end: every call after the first false also returns
// false. For exec statements it always resolves false.
func (q *Query) Next(ctx context.Context) (bool, error) {
	reply := make(chan nextResult, 1)
	select {
	case q.nextReqCh <- reply:
	case <-q.loopDone:
		return false, q.finalErr
	case <-ctx.Done():
		return false, ctx.Err()
	}

	r := <-reply
	if r.hasRow {
		return true, nil
	}
	return false, r.err
}

// Row returns the current row. Calling it before Next has resolved true is
// a caller error.
func (q *Query) Row() (*Row, error) {
	if q.currentRow == nil {
		return nil, kerrors.New(kerrors.CodeInvalidState, "row: next() has not produced a current row")
	}
	return q.currentRow, nil
}

// Result returns {rowsAffected, lastInsertId} for exec statements only.
func (q *Query) Result() (ExecResult, error) {
	if err := q.readyFut.wait(); err != nil {
		return ExecResult{}, err
	}
	if !q.isExec {
		return ExecResult{}, kerrors.New(kerrors.CodeInvalidState, "result: statement produced a row set, not an exec result")
	}
	return q.execResult, nil
}

// Close is idempotent. It releases the stream, cancelling the underlying
// query if still running, and drains/discards any buffered rows. Safe to
// call concurrently with Next.
func (q *Query) Close() error {
	reply := make(chan error, 1)
	select {
	case q.closeReqCh <- reply:
	case <-q.loopDone:
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-q.loopDone:
		return nil
	}
}

// All returns the stream as a lazy, finite sequence of rows, closing the
// query automatically on exhaustion or on early break/panic by the caller
// — the Go realization of the "consumable as a lazy finite sequence"
// iteration contract.
func (q *Query) All(ctx context.Context) func(yield func(*Row, error) bool) {
	return func(yield func(*Row, error) bool) {
		defer q.Close()
		for {
			ok, err := q.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			row, _ := q.Row()
			if !yield(row, nil) {
				return
			}
		}
	}
}

// runRows is the event loop for a row-producing stream.
func (q *Query) runRows() {
	defer close(q.loopDone)

	var columns []ColumnInfo
	var names []string
	var index map[string]int
	buffer := make([][]any, 0, q.opts.highWater)
	paused := false
	canceling := false
	done := false
	var streamErr error
	var pendingNext chan nextResult
	var pendingClose []chan error

	high := q.opts.highWater
	low := q.opts.lowWater

	finishDone := func() {
		done = true
		q.isExec = false
		q.finalErr = streamErr
		q.readyFut.fulfill(streamErr)
		q.release()
		if pendingNext != nil {
			pendingNext <- nextResult{hasRow: false, err: streamErr}
			pendingNext = nil
		}
		for _, c := range pendingClose {
			c <- streamErr
		}
		pendingClose = nil
	}

	requestCancel := func() {
		if canceling || done {
			return
		}
		canceling = true
		q.canceled.Store(true)
		// The sideband KILL QUERY, where available, is always the first
		// move: it's what actually interrupts a blocked server-side
		// statement. keepOpen additionally governs whether the local cursor
		// is torn down right away (safe only when this connection isn't
		// shared beyond this one statement).
		if q.opts.cancelFn != nil {
			go q.opts.cancelFn(context.Background())
		}
		if !q.opts.keepOpen {
			// close stops the pump and closes the rows synchronously, so no
			// further wire event can arrive: this is the terminal transition.
			_ = q.cursor.close()
			finishDone()
		}
	}

	evCh := q.cursor.events()

	for !done {
		select {
		case ev, ok := <-evCh:
			if !ok {
				// Pump exited without an explicit terminal event — only
				// expected once a cancel/close already requested
				// termination. Treat as a clean end.
				streamErr = nil
				finishDone()
				continue
			}

			switch ev.kind {
			case eventFields:
				columns = ev.columns
				names, index = columnNameIndex(columns)
				q.columns = columns
				q.readyFut.fulfill(nil)

			case eventResult:
				if canceling {
					// Ignore subsequent rows once cancellation has been
					// observed (§4.4 ordering guarantees).
					continue
				}
				if pendingNext != nil {
					q.currentRow = newRow(names, index, ev.values)
					pendingNext <- nextResult{hasRow: true}
					pendingNext = nil
					continue
				}
				buffer = append(buffer, ev.values)
				if len(buffer) >= high && !paused {
					paused = true
					q.cursor.pause()
				}

			case eventEnd:
				if len(buffer) > 0 {
					// A reader is still draining the buffer; the terminal
					// false is delivered once the buffer empties, handled
					// in the Next-request branch below. Record end via a
					// sentinel empty-but-not-done approach: mark done only
					// once buffer is drained.
					streamErr = nil
					// fallthrough path: keep looping, buffer continues to
					// serve Next() requests; mark a flag so the next
					// buffer-drain completes the stream instead of waiting
					// on further wire events.
					q.cursor.close()
					evCh = nil // no more wire events can arrive
					continue
				}
				streamErr = nil
				finishDone()

			case eventError:
				if canceling && isInterruptedError(ev.err) {
					streamErr = nil
				} else if canceling {
					streamErr = wrapDriverError(ev.err, "query failed while canceling")
				} else {
					streamErr = wrapDriverError(ev.err, "query failed")
				}
				finishDone()
			}

		case reply := <-q.nextReqCh:
			if len(buffer) > 0 {
				row := buffer[0]
				buffer = buffer[1:]
				q.currentRow = newRow(names, index, row)
				reply <- nextResult{hasRow: true}
				if paused && len(buffer) <= low {
					paused = false
					q.cursor.resume()
				}
				continue
			}
			if evCh == nil {
				// End already observed and buffer now empty.
				pendingNext = reply
				finishDone()
				continue
			}
			pendingNext = reply

		case reply := <-q.closeReqCh:
			if done {
				reply <- streamErr
				continue
			}
			buffer = buffer[:0]
			pendingClose = append(pendingClose, reply)
			requestCancel()
			if evCh == nil && !done {
				// End was already observed and the cursor closed; nothing
				// further can arrive to settle this close.
				finishDone()
			}

		case <-q.cancelCh:
			buffer = buffer[:0]
			requestCancel()
		}
	}
}

// runExec is the event loop for an exec-only Query: it has no wire cursor,
// so the only work left is serving Next (always false), Close (no-op),
// and Result.
func (q *Query) runExec() {
	defer close(q.loopDone)
	defer q.release()

	for {
		select {
		case reply := <-q.nextReqCh:
			reply <- nextResult{hasRow: false}
		case reply := <-q.closeReqCh:
			reply <- nil
			return
		case <-q.cancelCh:
			return
		}
	}
}

// runError is the event loop for a Query that failed before ready().
func (q *Query) runError(err error) {
	defer close(q.loopDone)
	defer q.release()

	for {
		select {
		case reply := <-q.nextReqCh:
			reply <- nextResult{hasRow: false, err: err}
		case reply := <-q.closeReqCh:
			reply <- err
			return
		case <-q.cancelCh:
			return
		}
	}
}

// release disposes of the wire connection exactly once, unless the
// connection outlives the stream (keepOpen). Row streams call it at the
// terminal transition, before any pending Next/Close reply is sent; the
// exec and error loops call it as they exit.
func (q *Query) release() {
	if !q.opts.keepOpen && q.opts.releaseFn != nil {
		q.opts.releaseFn(q.canceled.Load())
	}
}

// execer is the minimal database/sql surface a one-shot exec needs,
// satisfied by both *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execWithCancel runs an exec statement on a context decoupled from ctx's
// own cancellation, so the driver's context watcher cannot forcibly close
// conn out from under other in-flight or subsequent uses of the same shared
// connection (§4.4's rationale for Query applies identically here). Instead,
// cancellation fires the sideband cancel (if any) and the caller observes
// ctx's own error promptly, mirroring requestCancel's "best-effort sideband
// kill, real terminal event settles state" idiom.
//
// dispose, if non-nil, is invoked exactly once — with canceled=true when ctx
// won the race — but only once the background ExecContext call has actually
// returned, never before: a caller must not be handed back control (and,
// say, release conn to a pool) while a straggling statement might still be
// using it.
func execWithCancel(ctx context.Context, conn execer, cancel func(ctx context.Context), dispose func(canceled bool), query string, args ...any) (sql.Result, error) {
	type outcome struct {
		result sql.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := conn.ExecContext(context.Background(), query, args...)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if dispose != nil {
			dispose(false)
		}
		return out.result, out.err
	case <-ctx.Done():
		if cancel != nil {
			go cancel(context.Background())
		}
		go func() {
			<-done
			if dispose != nil {
				dispose(true)
			}
		}()
		return nil, ctx.Err()
	}
}

// logQueryStart logs the sanitized query text at Debug when a logger is set
// and returns the start time for the caller's duration measurement.
func logQueryStart(opts queryOptions) time.Time {
	start := time.Now()
	if opts.logger != nil && opts.queryText != "" {
		opts.logger.Debug("executing query",
			slog.String("query", sanitizeQuery(opts.queryText)),
			slog.String("trace_id", opts.traceID),
		)
	}
	return start
}
