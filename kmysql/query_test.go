package kmysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/karu-codes/kmysql/errors"
)

// fakeCursor is a hand-driven wireCursor test double: the test pushes
// wireEvent values directly instead of going through a real *sql.Rows pump,
// so the run-loop's backpressure/cancel/close interleavings can be driven
// deterministically.
type fakeCursor struct {
	ch        chan wireEvent
	pauses    chan struct{}
	resumes   chan struct{}
	closed    chan struct{}
	closeOnce bool
}

func newFakeCursor() *fakeCursor {
	return &fakeCursor{
		ch:      make(chan wireEvent, 16),
		pauses:  make(chan struct{}, 16),
		resumes: make(chan struct{}, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeCursor) events() <-chan wireEvent { return f.ch }

func (f *fakeCursor) pause() {
	select {
	case f.pauses <- struct{}{}:
	default:
	}
}

func (f *fakeCursor) resume() {
	select {
	case f.resumes <- struct{}{}:
	default:
	}
}

func (f *fakeCursor) close() error {
	if !f.closeOnce {
		f.closeOnce = true
		close(f.closed)
	}
	return nil
}

func testColumns() []ColumnInfo {
	return []ColumnInfo{{Name: "id", TypeName: "INT"}, {Name: "name", TypeName: "VARCHAR"}}
}

func TestQueryReadyAndColumns(t *testing.T) {
	cursor := newFakeCursor()
	q := newRowsQuery(cursor, queryOptions{highWater: 10, lowWater: 5})

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}

	require.NoError(t, q.Ready())
	cols, err := q.Columns()
	require.NoError(t, err)
	assert.Equal(t, testColumns(), cols)

	cursor.ch <- wireEvent{kind: eventEnd}
	ok, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, q.Close())
}

func TestQueryColumnsBeforeReadyIsNotReady(t *testing.T) {
	cursor := newFakeCursor()
	q := newRowsQuery(cursor, queryOptions{highWater: 10, lowWater: 5})
	defer q.Close()

	_, err := q.Columns()
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeNotReady))
}

func TestQueryStreamsRowsInOrder(t *testing.T) {
	cursor := newFakeCursor()
	q := newRowsQuery(cursor, queryOptions{highWater: 10, lowWater: 5})

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	cursor.ch <- wireEvent{kind: eventResult, values: []any{int64(1), "alpha"}}
	cursor.ch <- wireEvent{kind: eventResult, values: []any{int64(2), "beta"}}
	cursor.ch <- wireEvent{kind: eventEnd}

	require.NoError(t, q.Ready())

	ctx := context.Background()
	var got []string
	for {
		ok, err := q.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		row, err := q.Row()
		require.NoError(t, err)
		name, err := row.ByName("name")
		require.NoError(t, err)
		got = append(got, name.(string))
	}
	assert.Equal(t, []string{"alpha", "beta"}, got)
	assert.NoError(t, q.Close())
}

func TestQueryRowBeforeNextIsCallerError(t *testing.T) {
	cursor := newFakeCursor()
	q := newRowsQuery(cursor, queryOptions{highWater: 10, lowWater: 5})
	defer q.Close()

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	require.NoError(t, q.Ready())

	_, err := q.Row()
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeInvalidState))
}

func TestQueryAllIteratesAndClosesOnExhaustion(t *testing.T) {
	cursor := newFakeCursor()
	q := newRowsQuery(cursor, queryOptions{highWater: 10, lowWater: 5})

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	cursor.ch <- wireEvent{kind: eventResult, values: []any{int64(1), "alpha"}}
	cursor.ch <- wireEvent{kind: eventEnd}

	var names []string
	for row, err := range q.All(context.Background()) {
		require.NoError(t, err)
		v, _ := row.ByName("name")
		names = append(names, v.(string))
	}
	assert.Equal(t, []string{"alpha"}, names)

	select {
	case <-q.loopDone:
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit after All exhausted the stream")
	}
}

func TestQueryAllBreaksEarlyStillCloses(t *testing.T) {
	cursor := newFakeCursor()
	q := newRowsQuery(cursor, queryOptions{highWater: 10, lowWater: 5})

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	cursor.ch <- wireEvent{kind: eventResult, values: []any{int64(1), "alpha"}}
	cursor.ch <- wireEvent{kind: eventResult, values: []any{int64(2), "beta"}}

	count := 0
	for range q.All(context.Background()) {
		count++
		if count == 1 {
			break
		}
	}
	assert.Equal(t, 1, count)

	select {
	case <-q.loopDone:
	case <-time.After(time.Second):
		t.Fatal("breaking out of All should close the query and stop the run loop")
	}
}

func TestQueryBackpressurePausesAndResumesAtWatermarks(t *testing.T) {
	cursor := newFakeCursor()
	q := newRowsQuery(cursor, queryOptions{highWater: 2, lowWater: 1})

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	require.NoError(t, q.Ready())

	cursor.ch <- wireEvent{kind: eventResult, values: []any{int64(1), "a"}}
	cursor.ch <- wireEvent{kind: eventResult, values: []any{int64(2), "b"}}

	select {
	case <-cursor.pauses:
	case <-time.After(time.Second):
		t.Fatal("expected pause once buffered rows reached the high water mark")
	}

	ctx := context.Background()
	ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case <-cursor.resumes:
	case <-time.After(time.Second):
		t.Fatal("expected resume once buffered rows fell to the low water mark")
	}

	cursor.ch <- wireEvent{kind: eventEnd}
	_, _ = q.Next(ctx)
	assert.NoError(t, q.Close())
}

func TestQueryErrorBeforeReadyIsDeliveredAsValue(t *testing.T) {
	opts := queryOptions{}
	q := newErrorQuery(errors.New("boom"), opts)

	err := q.Ready()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	ok, err := q.Next(context.Background())
	assert.False(t, ok)
	require.Error(t, err)
	assert.Error(t, q.Close())
}

func TestQueryStreamErrorSurfacesOnNext(t *testing.T) {
	cursor := newFakeCursor()
	q := newRowsQuery(cursor, queryOptions{highWater: 10, lowWater: 5})

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	require.NoError(t, q.Ready())

	cursor.ch <- wireEvent{kind: eventError, err: errors.New("connection reset")}

	ok, err := q.Next(context.Background())
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeDatabase))
}

func TestQueryCloseCancelsKeepOpenViaSidebandAndDoesNotRelease(t *testing.T) {
	cursor := newFakeCursor()
	var cancelCalls int
	var releaseCalls int
	opts := queryOptions{
		highWater: 10,
		lowWater:  5,
		keepOpen:  true,
		// A successful sideband KILL surfaces on the stream as ER_QUERY_INTERRUPTED.
		cancelFn: func(ctx context.Context) {
			cancelCalls++
			cursor.ch <- wireEvent{kind: eventError, err: &mysql.MySQLError{Number: erQueryInterrupted}}
		},
		releaseFn: func(canceled bool) { releaseCalls++ },
	}
	q := newRowsQuery(cursor, opts)

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	require.NoError(t, q.Ready())

	require.NoError(t, q.Close())

	select {
	case <-q.loopDone:
	case <-time.After(time.Second):
		t.Fatal("close should terminate the run loop")
	}
	assert.Equal(t, 1, cancelCalls)
	assert.Equal(t, 0, releaseCalls, "keepOpen streams must never invoke releaseFn")
}

func TestQueryCloseTearsDownOnCancelWhenNotKeptOpen(t *testing.T) {
	cursor := newFakeCursor()
	var releasedCanceled *bool
	opts := queryOptions{
		highWater: 10,
		lowWater:  5,
		keepOpen:  false,
		releaseFn: func(canceled bool) { releasedCanceled = &canceled },
	}
	q := newRowsQuery(cursor, opts)

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	require.NoError(t, q.Ready())

	require.NoError(t, q.Close())

	select {
	case <-cursor.closed:
	case <-time.After(time.Second):
		t.Fatal("close without keepOpen should close the underlying cursor directly")
	}

	require.NotNil(t, releasedCanceled)
	assert.True(t, *releasedCanceled, "a cancelled stream must tear down its connection rather than release it")
}

func TestQueryCleanEndReleasesWithoutCancel(t *testing.T) {
	cursor := newFakeCursor()
	var releasedCanceled *bool
	opts := queryOptions{
		highWater: 10,
		lowWater:  5,
		keepOpen:  false,
		releaseFn: func(canceled bool) { releasedCanceled = &canceled },
	}
	q := newRowsQuery(cursor, opts)

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	cursor.ch <- wireEvent{kind: eventEnd}

	ok, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NotNil(t, releasedCanceled)
	assert.False(t, *releasedCanceled, "a clean end must release the connection, not tear it down")
}

func TestQueryContextCancelTriggersClose(t *testing.T) {
	cursor := newFakeCursor()
	q := newRowsQuery(cursor, queryOptions{highWater: 10, lowWater: 5, keepOpen: false})
	ctx, cancel := context.WithCancel(context.Background())
	q.watchContext(ctx)

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	require.NoError(t, q.Ready())

	cancel()

	select {
	case <-cursor.closed:
	case <-time.After(time.Second):
		t.Fatal("cancelling the watched context should close the underlying cursor")
	}
	assert.NoError(t, q.Close())
}

// TestQueryNextDuringCancelResolvesFalseNotReject pins the invariant that a
// next() pending when its context is cancelled resolves (false, nil) once
// the run loop settles the cancellation on its own, rather than racing
// ahead and rejecting with ctx.Err() the instant ctx.Done() fires.
func TestQueryNextDuringCancelResolvesFalseNotReject(t *testing.T) {
	cursor := newFakeCursor()
	q := newRowsQuery(cursor, queryOptions{highWater: 10, lowWater: 5, keepOpen: false})

	cursor.ch <- wireEvent{kind: eventFields, columns: testColumns()}
	require.NoError(t, q.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	q.watchContext(ctx)

	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ok, err := q.Next(context.Background())
		done <- outcome{ok, err}
	}()

	// Let Next register its pending request with the run loop before the
	// context is cancelled, so this exercises cancellation arriving after
	// next() has been called but before a row or end event arrives.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-cursor.closed:
	case <-time.After(time.Second):
		t.Fatal("cancelling should have requested the cursor close")
	}
	close(cursor.ch) // simulate the real pump exiting once its stop is observed

	select {
	case got := <-done:
		assert.False(t, got.ok)
		assert.NoError(t, got.err, "cancellation must resolve next() to (false, nil), never reject")
	case <-time.After(time.Second):
		t.Fatal("Next did not settle after the run loop observed cancellation")
	}
}

func TestExecQueryIsImmediatelyReadyAndNextIsFalse(t *testing.T) {
	result := ExecResult{RowsAffected: 3, LastInsertID: 7}
	q := newExecQuery(result, queryOptions{})

	require.NoError(t, q.Ready())

	ok, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := q.Result()
	require.NoError(t, err)
	assert.Equal(t, result, got)

	_, err = q.Columns()
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeInvalidState))

	assert.NoError(t, q.Close())
}
