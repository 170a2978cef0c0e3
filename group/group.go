// group sequences conversation membership changes against the external
// group-cryptography engine.
package group

import (
	"context"
	"sync"

	"github.com/getlantern/golog"

	"github.com/getlantern/sesame/engine"
	"github.com/getlantern/sesame/model"
)

var (
	log = golog.LoggerFor("group")
)

// Coordinator owns one state machine per conversation (Uninitialized ->
// Active) and guarantees that conversation ids are validated before the
// engine is ever invoked, that creation happens exactly once, and that
// commits on the same conversation never run concurrently.
type Coordinator struct {
	engine        engine.Engine
	conversations map[int64]*conversation
	mx            sync.Mutex
}

type conversation struct {
	// mx guards handle, pending and historyShared. commitMx serializes
	// CommitPending so two commits can never race for the same epoch;
	// different conversations commit independently.
	mx            sync.Mutex
	commitMx      sync.Mutex
	handle        engine.GroupHandle
	pending       []engine.ProposalHandle
	historyShared bool
	epoch         engine.EpochState
}

func NewCoordinator(eng engine.Engine) *Coordinator {
	return &Coordinator{
		engine:        eng,
		conversations: make(map[int64]*conversation),
	}
}

// EnsureCreated transitions the conversation to Active exactly once.
// Subsequent and concurrent calls are no-ops: of any number of racing
// callers, exactly one reaches the engine's CreateGroup.
func (c *Coordinator) EnsureCreated(ctx context.Context, conversationId string) error {
	id, err := model.ParseConversationId(conversationId)
	if err != nil {
		return err
	}

	conv := c.getOrCreate(id)
	conv.mx.Lock()
	defer conv.mx.Unlock()
	if conv.handle != nil {
		return nil
	}
	handle, err := c.engine.CreateGroup(ctx)
	if err != nil {
		return model.WrapExternal("unable to create group", err)
	}
	conv.handle = handle
	log.Debugf("created group %v for conversation %v", handle.GroupId(), conversationId)
	return nil
}

// AddMembers queues one add-proposal per key package. Empty input is a no-op
// so no vacuous proposal ever reaches the engine.
func (c *Coordinator) AddMembers(ctx context.Context, conversationId string, keyPackages [][]byte) error {
	conv, err := c.active(conversationId)
	if err != nil {
		return err
	}
	if len(keyPackages) == 0 {
		return nil
	}
	for _, keyPackage := range keyPackages {
		if len(keyPackage) == 0 {
			return model.ErrEmptyKeyMaterial
		}
	}

	conv.mx.Lock()
	defer conv.mx.Unlock()
	proposals := make([]engine.ProposalHandle, 0, len(keyPackages))
	for _, keyPackage := range keyPackages {
		proposal, err := c.engine.ProposeAdd(ctx, conv.handle, keyPackage)
		if err != nil {
			return model.WrapExternal("unable to propose add", err)
		}
		proposals = append(proposals, proposal)
	}
	conv.pending = append(conv.pending, proposals...)
	return nil
}

// RemoveMembers queues one remove-proposal per client id. Empty input is a
// no-op.
func (c *Coordinator) RemoveMembers(ctx context.Context, conversationId string, clientIds []string) error {
	conv, err := c.active(conversationId)
	if err != nil {
		return err
	}
	if len(clientIds) == 0 {
		return nil
	}

	conv.mx.Lock()
	defer conv.mx.Unlock()
	proposals := make([]engine.ProposalHandle, 0, len(clientIds))
	for _, clientId := range clientIds {
		proposal, err := c.engine.ProposeRemove(ctx, conv.handle, clientId)
		if err != nil {
			return model.WrapExternal("unable to propose remove", err)
		}
		proposals = append(proposals, proposal)
	}
	conv.pending = append(conv.pending, proposals...)
	return nil
}

// CommitPending applies all queued proposals as one new group state. On
// engine failure nothing takes effect and the proposals remain queued.
func (c *Coordinator) CommitPending(ctx context.Context, conversationId string) error {
	conv, err := c.active(conversationId)
	if err != nil {
		return err
	}

	conv.commitMx.Lock()
	defer conv.commitMx.Unlock()

	conv.mx.Lock()
	proposals := conv.pending
	handle := conv.handle
	conv.mx.Unlock()
	if len(proposals) == 0 {
		return nil
	}

	epoch, err := c.engine.Commit(ctx, handle, proposals)
	if err != nil {
		return model.WrapExternal("unable to commit proposals", err)
	}

	conv.mx.Lock()
	// proposals queued while the commit was in flight stay pending
	conv.pending = conv.pending[len(proposals):]
	conv.epoch = epoch
	conv.mx.Unlock()
	return nil
}

func (c *Coordinator) EnableHistorySharing(ctx context.Context, conversationId string) error {
	return c.setHistorySharing(conversationId, true)
}

func (c *Coordinator) DisableHistorySharing(ctx context.Context, conversationId string) error {
	return c.setHistorySharing(conversationId, false)
}

// HistorySharingEnabled reports whether new members receive prior history.
func (c *Coordinator) HistorySharingEnabled(conversationId string) (bool, error) {
	conv, err := c.active(conversationId)
	if err != nil {
		return false, err
	}
	conv.mx.Lock()
	defer conv.mx.Unlock()
	return conv.historyShared, nil
}

// PendingProposals reports how many proposals are queued but not committed.
func (c *Coordinator) PendingProposals(conversationId string) (int, error) {
	conv, err := c.active(conversationId)
	if err != nil {
		return 0, err
	}
	conv.mx.Lock()
	defer conv.mx.Unlock()
	return len(conv.pending), nil
}

// Epoch reports the conversation's last committed epoch.
func (c *Coordinator) Epoch(conversationId string) (engine.EpochState, error) {
	conv, err := c.active(conversationId)
	if err != nil {
		return engine.EpochState{}, err
	}
	conv.mx.Lock()
	defer conv.mx.Unlock()
	return conv.epoch, nil
}

// Adopt registers a conversation joined through an accepted welcome, using
// the group handle the engine produced during finalization. A conversation
// that is already Active keeps its existing handle.
func (c *Coordinator) Adopt(conversationId string, handle engine.GroupHandle, historyShared bool) error {
	id, err := model.ParseConversationId(conversationId)
	if err != nil {
		return err
	}

	conv := c.getOrCreate(id)
	conv.mx.Lock()
	defer conv.mx.Unlock()
	if conv.handle == nil {
		conv.handle = handle
		conv.historyShared = historyShared
	}
	return nil
}

func (c *Coordinator) setHistorySharing(conversationId string, enabled bool) error {
	conv, err := c.active(conversationId)
	if err != nil {
		return err
	}
	conv.mx.Lock()
	defer conv.mx.Unlock()
	conv.historyShared = enabled
	return nil
}

func (c *Coordinator) getOrCreate(id int64) *conversation {
	c.mx.Lock()
	defer c.mx.Unlock()
	conv := c.conversations[id]
	if conv == nil {
		conv = &conversation{}
		c.conversations[id] = conv
	}
	return conv
}

// active validates the conversation id and returns the conversation, which
// must already have been created.
func (c *Coordinator) active(conversationId string) (*conversation, error) {
	id, err := model.ParseConversationId(conversationId)
	if err != nil {
		return nil, err
	}

	c.mx.Lock()
	conv := c.conversations[id]
	c.mx.Unlock()
	if conv == nil {
		return nil, model.ErrConversationNotInitialized
	}
	conv.mx.Lock()
	uninitialized := conv.handle == nil
	conv.mx.Unlock()
	if uninitialized {
		return nil, model.ErrConversationNotInitialized
	}
	return conv, nil
}
