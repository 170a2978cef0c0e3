// memstore implements a memory-based keystore.Store. Suitable for tests and
// single-process embedding; state does not survive a restart.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/getlantern/trace"

	"github.com/getlantern/sesame/keystore"
	"github.com/getlantern/sesame/model"
	"github.com/getlantern/sesame/util"
)

var (
	tracer = trace.NewTracer("memstore")
)

func New() keystore.Store {
	return &memstore{
		identities: make(map[string]*identityRecord),
	}
}

type identityRecord struct {
	identity     *model.Identity
	signedPreKey *model.SignedPreKey
	oneTimeKeys  map[uint32]*model.OneTimePreKey
}

type memstore struct {
	identities map[string]*identityRecord
	mx         sync.Mutex
}

func (s *memstore) PublishIdentity(ctx context.Context, ident *model.Identity) error {
	if ident == nil || len(ident.IdentityKey) == 0 || len(ident.SigningKey) == 0 {
		return model.ErrEmptyKeyMaterial
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	record := s.identities[ident.Id]
	if record == nil {
		record = &identityRecord{
			oneTimeKeys: make(map[uint32]*model.OneTimePreKey),
		}
		s.identities[ident.Id] = record
	}
	record.identity = &model.Identity{
		Id:          ident.Id,
		IdentityKey: append([]byte{}, ident.IdentityKey...),
		SigningKey:  append([]byte{}, ident.SigningKey...),
	}
	return nil
}

func (s *memstore) GetIdentity(ctx context.Context, identityId string) (*model.Identity, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	record := s.identities[identityId]
	if record == nil || record.identity == nil {
		return nil, model.ErrIdentityNotFound
	}
	return record.identity, nil
}

func (s *memstore) PublishPreKeys(ctx context.Context, identityId string, signedPreKey *model.SignedPreKey, oneTimePreKeys []*model.OneTimePreKey) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	record := s.identities[identityId]
	if record == nil || record.identity == nil {
		return model.ErrIdentityNotFound
	}

	// validate every keyId before mutating anything
	seen := make(map[uint32]bool, len(oneTimePreKeys))
	for _, key := range oneTimePreKeys {
		if _, exists := record.oneTimeKeys[key.KeyId]; exists || seen[key.KeyId] {
			return model.ErrDuplicateKeyId
		}
		seen[key.KeyId] = true
	}

	if signedPreKey != nil {
		record.signedPreKey = signedPreKey
	}
	for _, key := range oneTimePreKeys {
		record.oneTimeKeys[key.KeyId] = &model.OneTimePreKey{
			KeyId:     key.KeyId,
			PublicKey: append([]byte{}, key.PublicKey...),
			State:     model.KeyStateAvailable,
		}
	}
	return nil
}

func (s *memstore) ActiveSignedPreKey(ctx context.Context, identityId string) (*model.SignedPreKey, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	record := s.identities[identityId]
	if record == nil || record.identity == nil {
		return nil, model.ErrIdentityNotFound
	}
	if record.signedPreKey == nil {
		return nil, model.ErrKeyNotFound
	}
	return record.signedPreKey, nil
}

func (s *memstore) ReserveBundle(ctx context.Context, identityId string) (*model.PreKeyBundle, error) {
	_, span := tracer.Continue("reserve_bundle")
	defer span.End()

	s.mx.Lock()
	defer s.mx.Unlock()

	record := s.identities[identityId]
	if record == nil || record.identity == nil {
		return nil, model.ErrIdentityNotFound
	}

	bundle := &model.PreKeyBundle{
		IdentityId:   identityId,
		IdentityKey:  record.identity.IdentityKey,
		SignedPreKey: record.signedPreKey,
	}

	// reserve the lowest available keyId so selection is deterministic
	var selected *model.OneTimePreKey
	for _, key := range record.oneTimeKeys {
		if key.State != model.KeyStateAvailable {
			continue
		}
		if selected == nil || key.KeyId < selected.KeyId {
			selected = key
		}
	}
	if selected != nil {
		selected.State = model.KeyStateReserved
		selected.ReservedAt = util.NowUnixMillis()
		bundle.OneTimePreKey = &model.OneTimePreKey{
			KeyId:      selected.KeyId,
			PublicKey:  selected.PublicKey,
			State:      model.KeyStateReserved,
			ReservedAt: selected.ReservedAt,
		}
	}
	return bundle, nil
}

func (s *memstore) Consume(ctx context.Context, identityId string, keyId uint32) error {
	_, span := tracer.Continue("consume")
	defer span.End()

	s.mx.Lock()
	defer s.mx.Unlock()

	record := s.identities[identityId]
	if record == nil {
		return model.ErrKeyNotFound
	}
	key := record.oneTimeKeys[keyId]
	if key == nil {
		return model.ErrKeyNotFound
	}
	// consumed keys are removed outright, so a repeat consume of the same
	// keyId can never silently succeed
	delete(record.oneTimeKeys, keyId)
	return nil
}

func (s *memstore) PreKeysRemaining(ctx context.Context, identityId string) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	record := s.identities[identityId]
	if record == nil || record.identity == nil {
		return 0, model.ErrIdentityNotFound
	}
	remaining := 0
	for _, key := range record.oneTimeKeys {
		if key.State == model.KeyStateAvailable {
			remaining++
		}
	}
	return remaining, nil
}

func (s *memstore) SweepExpiredReservations(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	swept := 0
	for _, record := range s.identities {
		for _, key := range record.oneTimeKeys {
			if key.State == model.KeyStateReserved && util.DurationSince(key.ReservedAt) >= maxAge {
				key.State = model.KeyStateAvailable
				key.ReservedAt = 0
				swept++
			}
		}
	}
	return swept, nil
}

func (s *memstore) Close() error {
	return nil
}
