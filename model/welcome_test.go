package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWelcomeRoundTrip(t *testing.T) {
	w := &Welcome{
		SenderIdentityId: "alice",
		ConversationId:   "42",
		KeyPackage:       KeyPackageRef{IdentityId: "bob", KeyId: 7},
		HistoryShared:    true,
		Ciphertext:       []byte("sealed"),
	}
	welcomeBytes, err := w.Bytes()
	require.NoError(t, err)

	parsed, err := ParseWelcome(welcomeBytes)
	require.NoError(t, err)
	require.Equal(t, w, parsed)

	info := parsed.Info()
	require.Equal(t, "alice", info.SenderIdentityId)
	require.Equal(t, "42", info.ConversationId)
	require.True(t, info.HistoryShared)
}

func TestParseWelcomeRejectsMalformed(t *testing.T) {
	_, err := ParseWelcome([]byte("garbage"))
	require.Equal(t, uint8(102), TypedError(err).Code)

	// missing ciphertext
	w := &Welcome{
		SenderIdentityId: "alice",
		ConversationId:   "42",
		KeyPackage:       KeyPackageRef{IdentityId: "bob", KeyId: 7},
	}
	welcomeBytes, err := w.Bytes()
	require.NoError(t, err)
	_, err = ParseWelcome(welcomeBytes)
	require.Equal(t, ErrMalformedWelcome, err)

	// conversation id must be a positive integer
	w.Ciphertext = []byte("sealed")
	w.ConversationId = "5.0"
	welcomeBytes, err = w.Bytes()
	require.NoError(t, err)
	_, err = ParseWelcome(welcomeBytes)
	require.Equal(t, ErrMalformedWelcome, err)
}
