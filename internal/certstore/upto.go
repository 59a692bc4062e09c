package certstore

import "time"

// UpTo bounds a point in time query. The zero value is Current.
type UpTo struct {
	ts time.Time
}

// Current means no time bound.
var Current = UpTo{}

func UpToTimestamp(ts time.Time) UpTo { return UpTo{ts: ts} }

func (u UpTo) includes(ts time.Time) bool {
	return u.ts.IsZero() || !ts.After(u.ts)
}
