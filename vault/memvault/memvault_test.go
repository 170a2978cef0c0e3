package memvault

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getlantern/sesame/model"
)

func TestSaveAndUse(t *testing.T) {
	ctx := context.Background()
	v := New()
	defer v.Close()

	require.Equal(t, model.ErrEmptyKeyMaterial, v.SavePrivateKeyMaterial(ctx, "alice", 1, nil))

	original := []byte("secret scalar")
	require.NoError(t, v.SavePrivateKeyMaterial(ctx, "alice", 1, original))

	// the vault keeps its own copy
	original[0] = 'X'

	var seen []byte
	err := v.WithPrivateKeyMaterial(ctx, "alice", 1, func(material []byte) error {
		require.Equal(t, []byte("secret scalar"), material)
		seen = material
		return nil
	})
	require.NoError(t, err)

	// material is zeroed once the callback returns
	require.Equal(t, make([]byte, len(seen)), seen)
}

func TestCallbackErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	v := New()
	defer v.Close()

	require.NoError(t, v.SavePrivateKeyMaterial(ctx, "alice", 1, []byte("secret")))

	boom := errors.New("boom")
	var seen []byte
	err := v.WithPrivateKeyMaterial(ctx, "alice", 1, func(material []byte) error {
		seen = material
		return boom
	})
	require.Equal(t, boom, err)
	// zeroed on the error path too
	require.Equal(t, make([]byte, len(seen)), seen)
}

func TestMissingAndDeleted(t *testing.T) {
	ctx := context.Background()
	v := New()
	defer v.Close()

	err := v.WithPrivateKeyMaterial(ctx, "alice", 1, func(material []byte) error { return nil })
	require.Equal(t, model.ErrKeyNotFound, err)

	require.NoError(t, v.SavePrivateKeyMaterial(ctx, "alice", 1, []byte("secret")))
	require.NoError(t, v.DeletePrivateKeyMaterial(ctx, "alice", 1))
	err = v.WithPrivateKeyMaterial(ctx, "alice", 1, func(material []byte) error { return nil })
	require.Equal(t, model.ErrKeyNotFound, err)

	// deleting a missing key is a no-op
	require.NoError(t, v.DeletePrivateKeyMaterial(ctx, "alice", 99))
}
