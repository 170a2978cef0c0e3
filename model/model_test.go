package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConversationId(t *testing.T) {
	id, err := ParseConversationId("5")
	require.NoError(t, err)
	require.EqualValues(t, 5, id)

	id, err = ParseConversationId("9007199254740993")
	require.NoError(t, err)
	require.EqualValues(t, int64(9007199254740993), id)

	for _, raw := range []string{"", "0", "-1", "05", "+5", " 5", "5 ", "5.0", "not-a-number", "NaN", "Infinity", "0x5"} {
		_, err := ParseConversationId(raw)
		require.Equal(t, ErrInvalidConversationId, err, "%q should be rejected", raw)
	}
}

func TestKeyStateString(t *testing.T) {
	require.Equal(t, "available", KeyStateAvailable.String())
	require.Equal(t, "reserved", KeyStateReserved.String())
	require.Equal(t, "consumed", KeyStateConsumed.String())
	require.Equal(t, "unknown", KeyState(99).String())
}

func TestTypedError(t *testing.T) {
	require.Equal(t, ErrKeyNotFound, TypedError(ErrKeyNotFound))

	typed := TypedError(errors.New("boom"))
	require.EqualValues(t, ErrCodeUnknownError, typed.Code)
	require.Equal(t, "boom", typed.Description)
}

func TestWrapExternal(t *testing.T) {
	// coded errors pass through untouched
	require.Equal(t, ErrKeyNotFound, WrapExternal("unable to consume", ErrKeyNotFound))

	// context expiry surfaces as the timeout code, wrapped or not
	err := WrapExternal("unable to commit", context.DeadlineExceeded)
	require.True(t, errors.Is(err, ErrTimeout))
	err = WrapExternal("unable to commit", fmt.Errorf("rpc failed: %w", context.Canceled))
	require.True(t, errors.Is(err, ErrTimeout))

	// anything else keeps the caller's context in the message
	err = WrapExternal("unable to commit", errors.New("engine crashed"))
	require.False(t, errors.Is(err, ErrTimeout))
	require.Contains(t, err.Error(), "unable to commit")
	require.Contains(t, err.Error(), "engine crashed")
}

func TestErrorIs(t *testing.T) {
	annotated := ErrKeyNotFound.WithError(errors.New("redis: connection refused"))
	require.True(t, errors.Is(annotated, ErrKeyNotFound))
	require.False(t, errors.Is(annotated, ErrAlreadyAccepted))
	require.Contains(t, annotated.Error(), "connection refused")
}
