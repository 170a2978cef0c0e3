package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("hello world")
	signature, err := pair.Private.Sign(data)
	require.NoError(t, err)

	require.True(t, pair.Public.Verify(data, signature))
	require.False(t, pair.Public.Verify([]byte("tampered"), signature))
}

func TestStringRoundTrip(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	decoded, err := PublicKeyFromString(pair.Public.String())
	require.NoError(t, err)
	require.EqualValues(t, pair.Public, decoded)
}
