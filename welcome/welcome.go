// welcome implements the two-phase join handshake: an inbound welcome is
// staged, inspected any number of times, then accepted exactly once or
// discarded. Staging consumes the key package the welcome was encrypted to,
// so the staged object holds the live decrypted state behind an opaque token
// and is never reconstructed from serialized bytes; a re-parse at accept time
// would need to consume the key package a second time, which is impossible.
package welcome

import (
	"context"
	"sync"
	"time"

	"github.com/getlantern/golog"
	"github.com/google/uuid"

	"github.com/getlantern/sesame/engine"
	"github.com/getlantern/sesame/group"
	"github.com/getlantern/sesame/keystore"
	"github.com/getlantern/sesame/model"
	"github.com/getlantern/sesame/util"
	"github.com/getlantern/sesame/vault"
)

var (
	log = golog.LoggerFor("welcome")
)

type stagedState uint8

const (
	stateStaged stagedState = iota + 1
	stateAccepted
	stateDiscarded
)

type stagedWelcome struct {
	welcome  *model.Welcome
	handle   engine.StagedHandle
	stagedAt int64
	state    stagedState
	mx       sync.Mutex
}

// Registry holds all in-flight staged welcomes for this process.
type Registry struct {
	store     keystore.Store
	engine    engine.Engine
	vault     vault.Vault
	groups    *group.Coordinator
	staged    map[string]*stagedWelcome
	mx        sync.Mutex
	closeCh   chan interface{}
	closeOnce sync.Once
}

func NewRegistry(store keystore.Store, eng engine.Engine, keyVault vault.Vault, groups *group.Coordinator) *Registry {
	return &Registry{
		store:   store,
		engine:  eng,
		vault:   keyVault,
		groups:  groups,
		staged:  make(map[string]*stagedWelcome),
		closeCh: make(chan interface{}),
	}
}

// Stage parses the inbound welcome, decrypts it via the engine using the
// private material of the key package it targets, consumes that key package
// and returns a token for the staged state. The store is only mutated after
// the engine has staged successfully, so a failed stage leaves no partial
// state behind.
func (r *Registry) Stage(ctx context.Context, identityId string, welcomeBytes []byte) (string, error) {
	w, err := model.ParseWelcome(welcomeBytes)
	if err != nil {
		return "", err
	}
	if w.KeyPackage.IdentityId != identityId {
		// the welcome targets a key package this identity does not hold
		return "", model.ErrKeyNotFound
	}

	var handle engine.StagedHandle
	err = r.vault.WithPrivateKeyMaterial(ctx, identityId, w.KeyPackage.KeyId, func(material []byte) error {
		staged, stageErr := r.engine.StageWelcome(ctx, w.Ciphertext, material)
		if stageErr != nil {
			return stageErr
		}
		handle = staged
		return nil
	})
	if err != nil {
		return "", model.WrapExternal("unable to stage welcome", err)
	}

	// burn the key package; a second stage of a welcome for the same
	// package now observes not-found
	err = r.store.Consume(ctx, identityId, w.KeyPackage.KeyId)
	if err != nil {
		return "", err
	}

	token := uuid.New().String()
	r.mx.Lock()
	r.staged[token] = &stagedWelcome{
		welcome:  w,
		handle:   handle,
		stagedAt: util.NowUnixMillis(),
		state:    stateStaged,
	}
	r.mx.Unlock()
	return token, nil
}

// Inspect returns the sender, conversation and history-sharing flag of a
// staged welcome without mutating anything.
func (r *Registry) Inspect(token string) (*model.WelcomeInfo, error) {
	staged, err := r.lookup(token)
	if err != nil {
		return nil, err
	}

	staged.mx.Lock()
	defer staged.mx.Unlock()
	if err := staged.requireStaged(); err != nil {
		return nil, err
	}
	return staged.welcome.Info(), nil
}

// Accept finalizes the join using the retained staged handle and registers
// the conversation with the coordinator. A second Accept of the same token
// fails with model.ErrAlreadyAccepted and does not re-run finalization.
func (r *Registry) Accept(ctx context.Context, token string) (string, error) {
	staged, err := r.lookup(token)
	if err != nil {
		return "", err
	}

	staged.mx.Lock()
	defer staged.mx.Unlock()
	if err := staged.requireStaged(); err != nil {
		return "", err
	}

	groupHandle, err := r.engine.FinalizeStagedWelcome(ctx, staged.handle)
	if err != nil {
		// still staged, the caller may retry
		return "", model.WrapExternal("unable to finalize staged welcome", err)
	}
	err = r.groups.Adopt(staged.welcome.ConversationId, groupHandle, staged.welcome.HistoryShared)
	if err != nil {
		return "", err
	}
	staged.state = stateAccepted
	return staged.welcome.ConversationId, nil
}

// Discard abandons a staged welcome. The consumed key package is not
// restored: its material was legitimately exposed to the peer and must never
// be reused.
func (r *Registry) Discard(token string) error {
	staged, err := r.lookup(token)
	if err != nil {
		return err
	}

	staged.mx.Lock()
	defer staged.mx.Unlock()
	if err := staged.requireStaged(); err != nil {
		return err
	}
	staged.state = stateDiscarded
	return nil
}

// SweepAbandoned discards staged welcomes older than maxAge and drops
// accepted/discarded tombstones of the same age. Returns how many staged
// entries were abandoned.
func (r *Registry) SweepAbandoned(maxAge time.Duration) int {
	r.mx.Lock()
	defer r.mx.Unlock()
	abandoned := 0
	for token, staged := range r.staged {
		staged.mx.Lock()
		expired := util.DurationSince(staged.stagedAt) >= maxAge
		wasStaged := staged.state == stateStaged
		if expired && wasStaged {
			staged.state = stateDiscarded
		}
		staged.mx.Unlock()
		if expired {
			delete(r.staged, token)
			if wasStaged {
				abandoned++
			}
		}
	}
	if abandoned > 0 {
		log.Debugf("abandoned %d staged welcomes older than %v", abandoned, maxAge)
	}
	return abandoned
}

// StartSweeping sweeps abandoned staged welcomes in the background until the
// registry is closed.
func (r *Registry) StartSweeping(interval time.Duration, maxAge time.Duration) {
	go func() {
		for {
			select {
			case <-time.After(interval):
				r.SweepAbandoned(maxAge)
			case <-r.closeCh:
				return
			}
		}
	}()
}

func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.closeCh)
	})
}

func (r *Registry) lookup(token string) (*stagedWelcome, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	staged := r.staged[token]
	if staged == nil {
		return nil, model.ErrStagedWelcomeNotFound
	}
	return staged, nil
}

func (s *stagedWelcome) requireStaged() error {
	switch s.state {
	case stateAccepted:
		return model.ErrAlreadyAccepted
	case stateDiscarded:
		return model.ErrStagedWelcomeDiscarded
	default:
		return nil
	}
}
