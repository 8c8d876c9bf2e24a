package kmysql

import (
	"database/sql"
	"sync"
	"sync/atomic"
)

// eventKind enumerates the four inbound event kinds the streaming query
// state machine consumes, mirroring the push-based driver contract this
// layer is adapting: fields, result, end, error.
type eventKind int

const (
	eventFields eventKind = iota
	eventResult
	eventEnd
	eventError
)

// wireEvent is one synthesized push event. Only the fields relevant to
// kind are populated.
type wireEvent struct {
	kind    eventKind
	columns []ColumnInfo
	values  []any
	err     error
}

// wireCursor is the push-event boundary a Query is written against. It is
// implemented by a background pump over *sql.Rows for real queries, and by
// a hand-driven fake in tests, so the state machine in query.go never
// depends on database/sql directly — database/sql is pull-based
// (rows.Next() blocks synchronously) while the driver contract this
// package adapts is push-based, so the translation happens once, here.
type wireCursor interface {
	// events returns the channel on which fields/result/end/error are
	// delivered, in that strict order (fields → result* → end, or
	// fields → error).
	events() <-chan wireEvent

	// pause requests the pump stop delivering further result events until
	// resume is called. Idempotent.
	pause()

	// resume releases a pause. Idempotent.
	resume()

	// close stops the pump and releases any driver resources it holds.
	// Idempotent.
	close() error
}

// sqlRowsCursor adapts a pull-based *sql.Rows into the wireCursor push
// interface via a single pump goroutine that calls Next()/Scan() in a loop.
// pause() is realized by blocking the pump before the next Next() call
// rather than by calling anything on *sql.Rows itself — database/sql has
// no native pause primitive, so backpressure here bounds how fast the pump
// drains the driver's buffer, not the driver's own flow control.
type sqlRowsCursor struct {
	rows    *sql.Rows
	columns []ColumnInfo

	ch       chan wireEvent
	resumeCh chan struct{}
	paused   atomic.Bool

	stopCh    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newSQLRowsCursor(rows *sql.Rows, columns []ColumnInfo) *sqlRowsCursor {
	c := &sqlRowsCursor{
		rows:     rows,
		columns:  columns,
		ch:       make(chan wireEvent, 1),
		resumeCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *sqlRowsCursor) events() <-chan wireEvent { return c.ch }

func (c *sqlRowsCursor) pump() {
	defer close(c.ch)

	select {
	case c.ch <- wireEvent{kind: eventFields, columns: c.columns}:
	case <-c.stopCh:
		return
	}

	scanDest := make([]any, len(c.columns))
	scanPtrs := make([]any, len(c.columns))
	for i := range scanDest {
		scanPtrs[i] = &scanDest[i]
	}

	for {
		if c.paused.Load() {
			select {
			case <-c.resumeCh:
			case <-c.stopCh:
				return
			}
		}

		if !c.rows.Next() {
			if err := c.rows.Err(); err != nil {
				c.emit(wireEvent{kind: eventError, err: err})
			} else {
				c.emit(wireEvent{kind: eventEnd})
			}
			return
		}

		if err := c.rows.Scan(scanPtrs...); err != nil {
			c.emit(wireEvent{kind: eventError, err: err})
			return
		}

		values := make([]any, len(scanDest))
		copy(values, scanDest)

		if !c.emit(wireEvent{kind: eventResult, values: values}) {
			return
		}
	}
}

// emit delivers an event unless the pump has been told to stop. Returns
// false if the pump should terminate.
func (c *sqlRowsCursor) emit(ev wireEvent) bool {
	select {
	case c.ch <- ev:
		return true
	case <-c.stopCh:
		return false
	}
}

func (c *sqlRowsCursor) pause() {
	c.paused.Store(true)
}

func (c *sqlRowsCursor) resume() {
	if c.paused.CompareAndSwap(true, false) {
		select {
		case c.resumeCh <- struct{}{}:
		default:
		}
	}
}

func (c *sqlRowsCursor) close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.closeErr = c.rows.Close()
	})
	return c.closeErr
}
