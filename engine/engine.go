package engine

import (
	"context"
)

// Engine is the capability interface for the external group-cryptography
// engine. Implementations own the tree-based key derivation and AEAD work;
// sesame only sequences calls against it. The engine is injected explicitly
// wherever it is needed, never registered globally.
type Engine interface {
	// CreateGroup creates a new encrypted group and returns its handle.
	CreateGroup(ctx context.Context) (GroupHandle, error)

	// ProposeAdd queues a proposal to add the owner of the given key package.
	ProposeAdd(ctx context.Context, group GroupHandle, keyPackage []byte) (ProposalHandle, error)

	// ProposeRemove queues a proposal to remove the given client.
	ProposeRemove(ctx context.Context, group GroupHandle, clientId string) (ProposalHandle, error)

	// Commit applies the given proposals as a single new group state,
	// advancing the group's epoch by exactly one. Either every proposal
	// takes effect or none does.
	Commit(ctx context.Context, group GroupHandle, proposals []ProposalHandle) (EpochState, error)

	// StageWelcome decrypts an inbound welcome using the matching local key
	// package's private material and returns a handle to the live staged
	// state. The handle is only valid within this process.
	StageWelcome(ctx context.Context, welcomeCiphertext []byte, keyPackagePrivate []byte) (StagedHandle, error)

	// FinalizeStagedWelcome completes the join represented by the staged
	// handle and returns the joined group's handle.
	FinalizeStagedWelcome(ctx context.Context, staged StagedHandle) (GroupHandle, error)
}

// GroupHandle is an opaque reference to a group held by the engine.
type GroupHandle interface {
	GroupId() string
}

// ProposalHandle is an opaque reference to a pending membership-change
// proposal.
type ProposalHandle interface{}

// StagedHandle is an opaque reference to live, decrypted welcome state. It
// must never be serialized and re-derived; the key package that produced it
// has already been consumed.
type StagedHandle interface{}

// EpochState describes the group state resulting from a commit.
type EpochState struct {
	Epoch uint64
}
