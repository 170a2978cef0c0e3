// util holds small shared helpers. Timestamps are epoch millis wherever they
// are persisted or scored, so the redis and memory stores agree on precision.
package util

import (
	"time"
)

const (
	nanosPerMilli = int64(time.Millisecond)
)

// UnixMillis gives the milliseconds since epoch for the given time
func UnixMillis(t time.Time) int64 {
	return t.UnixNano() / nanosPerMilli
}

// NowUnixMillis gives now as milliseconds since epoch
func NowUnixMillis() int64 {
	return UnixMillis(time.Now())
}

// TimeFromMillis is the inverse of UnixMillis
func TimeFromMillis(millis int64) time.Time {
	return time.Unix(0, millis*nanosPerMilli)
}

// DurationSince reports how long ago the given epoch-millis timestamp was
func DurationSince(millis int64) time.Duration {
	return time.Since(TimeFromMillis(millis))
}
