package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMillisRoundTrip(t *testing.T) {
	now := time.Now()
	millis := UnixMillis(now)
	require.EqualValues(t, now.UnixNano()/int64(time.Millisecond), millis)
	require.EqualValues(t, millis*int64(time.Millisecond), TimeFromMillis(millis).UnixNano())
}

func TestDurationSince(t *testing.T) {
	fiveSecondsAgo := UnixMillis(time.Now().Add(-5 * time.Second))
	elapsed := DurationSince(fiveSecondsAgo)
	require.True(t, elapsed >= 5*time.Second)
	require.True(t, elapsed < time.Minute)
}
