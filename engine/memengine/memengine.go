// memengine implements a memory-based engine.Engine. This is not a real
// cryptography engine and not intended for production; it tracks groups,
// members and epochs so that the coordination logic around it can be tested,
// and records invocation counts so tests can assert which engine operations
// were (or were not) reached.
package memengine

import (
	"context"
	"sync"

	"github.com/getlantern/trace"
	"github.com/google/uuid"

	"github.com/getlantern/sesame/engine"
	"github.com/getlantern/sesame/model"
)

var (
	tracer = trace.NewTracer("memengine")
)

func New() *MemEngine {
	return &MemEngine{
		groups: make(map[string]*memGroup),
		calls:  make(map[string]int),
	}
}

type MemEngine struct {
	groups      map[string]*memGroup
	calls       map[string]int
	commitErr   error
	stageErr    error
	finalizeErr error
	mx          sync.Mutex
}

type memGroup struct {
	id      string
	epoch   uint64
	members map[string]bool
}

func (g *memGroup) GroupId() string {
	return g.id
}

type memProposal struct {
	group    *memGroup
	addKey   []byte
	removeId string
}

type memStaged struct {
	ciphertext []byte
	finalized  bool
}

func (e *MemEngine) CreateGroup(ctx context.Context) (engine.GroupHandle, error) {
	_, span := tracer.Continue("create_group")
	defer span.End()

	e.mx.Lock()
	defer e.mx.Unlock()
	e.calls["CreateGroup"]++

	g := &memGroup{
		id:      uuid.New().String(),
		members: make(map[string]bool),
	}
	e.groups[g.id] = g
	return g, nil
}

func (e *MemEngine) ProposeAdd(ctx context.Context, group engine.GroupHandle, keyPackage []byte) (engine.ProposalHandle, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.calls["ProposeAdd"]++

	g, err := e.lookup(group)
	if err != nil {
		return nil, err
	}
	return &memProposal{group: g, addKey: keyPackage}, nil
}

func (e *MemEngine) ProposeRemove(ctx context.Context, group engine.GroupHandle, clientId string) (engine.ProposalHandle, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.calls["ProposeRemove"]++

	g, err := e.lookup(group)
	if err != nil {
		return nil, err
	}
	return &memProposal{group: g, removeId: clientId}, nil
}

func (e *MemEngine) Commit(ctx context.Context, group engine.GroupHandle, proposals []engine.ProposalHandle) (engine.EpochState, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.calls["Commit"]++

	g, err := e.lookup(group)
	if err != nil {
		return engine.EpochState{}, err
	}
	if e.commitErr != nil {
		return engine.EpochState{}, e.commitErr
	}

	// apply all proposals as one state change
	for _, p := range proposals {
		proposal := p.(*memProposal)
		if proposal.removeId != "" {
			delete(g.members, proposal.removeId)
		} else {
			g.members[string(proposal.addKey)] = true
		}
	}
	g.epoch++
	return engine.EpochState{Epoch: g.epoch}, nil
}

func (e *MemEngine) StageWelcome(ctx context.Context, welcomeCiphertext []byte, keyPackagePrivate []byte) (engine.StagedHandle, error) {
	_, span := tracer.Continue("stage_welcome")
	defer span.End()

	e.mx.Lock()
	defer e.mx.Unlock()
	e.calls["StageWelcome"]++

	if e.stageErr != nil {
		return nil, e.stageErr
	}
	if len(keyPackagePrivate) == 0 {
		return nil, model.ErrEmptyKeyMaterial
	}
	return &memStaged{ciphertext: welcomeCiphertext}, nil
}

func (e *MemEngine) FinalizeStagedWelcome(ctx context.Context, staged engine.StagedHandle) (engine.GroupHandle, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.calls["FinalizeStagedWelcome"]++

	if e.finalizeErr != nil {
		return nil, e.finalizeErr
	}
	s := staged.(*memStaged)
	if s.finalized {
		return nil, model.ErrAlreadyAccepted
	}
	s.finalized = true

	g := &memGroup{
		id:      uuid.New().String(),
		members: make(map[string]bool),
	}
	e.groups[g.id] = g
	return g, nil
}

// Calls reports how many times the named operation has been invoked.
func (e *MemEngine) Calls(op string) int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.calls[op]
}

// Members returns the current member set of the given group.
func (e *MemEngine) Members(group engine.GroupHandle) []string {
	e.mx.Lock()
	defer e.mx.Unlock()

	g, err := e.lookup(group)
	if err != nil {
		return nil
	}
	members := make([]string, 0, len(g.members))
	for member := range g.members {
		members = append(members, member)
	}
	return members
}

// Epoch returns the current epoch of the given group.
func (e *MemEngine) Epoch(group engine.GroupHandle) uint64 {
	e.mx.Lock()
	defer e.mx.Unlock()

	g, err := e.lookup(group)
	if err != nil {
		return 0
	}
	return g.epoch
}

// FailCommits makes subsequent Commit calls fail with the given error (nil to
// stop failing).
func (e *MemEngine) FailCommits(err error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.commitErr = err
}

// FailStaging makes subsequent StageWelcome calls fail with the given error.
func (e *MemEngine) FailStaging(err error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.stageErr = err
}

// FailFinalize makes subsequent FinalizeStagedWelcome calls fail with the
// given error.
func (e *MemEngine) FailFinalize(err error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.finalizeErr = err
}

func (e *MemEngine) lookup(group engine.GroupHandle) (*memGroup, error) {
	g, ok := e.groups[group.GroupId()]
	if !ok {
		return nil, model.ErrConversationNotInitialized
	}
	return g, nil
}
