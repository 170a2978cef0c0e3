package service

import (
	"context"

	"github.com/getlantern/sesame/model"
)

// Service is the application-facing surface of the key-lifecycle and
// group-handshake engine. Every expected failure is returned as a coded
// *model.Error; nothing here panics for conditions a caller can handle.
type Service interface {
	// PublishIdentity registers/overwrites the caller's identity keys.
	// Idempotent.
	PublishIdentity(ctx context.Context, ident *model.Identity) error

	// PublishPreKeys replaces the active signed prekey and appends one-time
	// prekeys.
	PublishPreKeys(ctx context.Context, identityId string, signedPreKey *model.SignedPreKey, oneTimePreKeys []*model.OneTimePreKey) error

	// GetBundle returns a connection-initiation bundle for the target
	// identity, reserving at most one one-time prekey.
	GetBundle(ctx context.Context, identityId string) (*model.PreKeyBundle, error)

	// Consume marks a one-time prekey as consumed. At most one Consume of a
	// given keyId ever succeeds.
	Consume(ctx context.Context, identityId string, keyId uint32) error

	// PreKeysRemaining reports the size of the identity's available pool.
	PreKeysRemaining(ctx context.Context, identityId string) (int, error)

	// EnsureCreated creates the conversation's underlying group exactly
	// once; subsequent calls are no-ops.
	EnsureCreated(ctx context.Context, conversationId string) error

	// AddMembers queues add-proposals for the given key packages.
	AddMembers(ctx context.Context, conversationId string, keyPackages [][]byte) error

	// RemoveMembers queues remove-proposals for the given clients.
	RemoveMembers(ctx context.Context, conversationId string, clientIds []string) error

	// CommitPending atomically applies all queued proposals.
	CommitPending(ctx context.Context, conversationId string) error

	EnableHistorySharing(ctx context.Context, conversationId string) error

	DisableHistorySharing(ctx context.Context, conversationId string) error

	// Stage stages an inbound welcome for the given identity and returns a
	// token for the staged state.
	Stage(ctx context.Context, identityId string, welcomeBytes []byte) (string, error)

	// Inspect returns the staged welcome's metadata without mutating it.
	Inspect(token string) (*model.WelcomeInfo, error)

	// Accept finalizes the staged welcome exactly once and returns the
	// joined conversation's id.
	Accept(ctx context.Context, token string) (string, error)

	// Discard abandons a staged welcome without restoring its key package.
	Discard(token string) error

	// Rotate replaces the identity's signed prekey, persisting the new
	// private material before publishing.
	Rotate(ctx context.Context, identityId string) (*model.SignedPreKey, error)

	// Close releases background resources.
	Close()
}
