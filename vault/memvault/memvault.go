// memvault implements a memory-based vault.Vault. This is not encrypted at
// rest and not intended for production.
package memvault

import (
	"context"
	"fmt"
	"sync"

	"github.com/getlantern/sesame/model"
	"github.com/getlantern/sesame/vault"
)

func New() vault.Vault {
	return &memvault{
		material: make(map[string][]byte),
	}
}

type memvault struct {
	material map[string][]byte
	mx       sync.Mutex
}

func (v *memvault) SavePrivateKeyMaterial(ctx context.Context, identityId string, keyId uint32, material []byte) error {
	if len(material) == 0 {
		return model.ErrEmptyKeyMaterial
	}

	v.mx.Lock()
	defer v.mx.Unlock()
	v.material[materialKey(identityId, keyId)] = append([]byte{}, material...)
	return nil
}

func (v *memvault) WithPrivateKeyMaterial(ctx context.Context, identityId string, keyId uint32, fn func(material []byte) error) error {
	v.mx.Lock()
	stored, found := v.material[materialKey(identityId, keyId)]
	var material []byte
	if found {
		material = append([]byte{}, stored...)
	}
	v.mx.Unlock()

	if !found {
		return model.ErrKeyNotFound
	}
	defer vault.Zero(material)
	return fn(material)
}

func (v *memvault) DeletePrivateKeyMaterial(ctx context.Context, identityId string, keyId uint32) error {
	v.mx.Lock()
	defer v.mx.Unlock()

	key := materialKey(identityId, keyId)
	if material, found := v.material[key]; found {
		vault.Zero(material)
		delete(v.material, key)
	}
	return nil
}

func (v *memvault) Close() error {
	v.mx.Lock()
	defer v.mx.Unlock()

	for key, material := range v.material {
		vault.Zero(material)
		delete(v.material, key)
	}
	return nil
}

func materialKey(identityId string, keyId uint32) string {
	return fmt.Sprintf("%v:%d", identityId, keyId)
}
