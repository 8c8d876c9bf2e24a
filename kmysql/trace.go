package kmysql

import "github.com/google/uuid"

// newTraceID generates a correlation id attached to a query's lifecycle log
// lines, so a slow or cancelled stream's start/end entries can be joined in
// a log aggregator.
func newTraceID() string {
	return uuid.NewString()
}
