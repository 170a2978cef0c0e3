// bundle assembles connection-initiation bundles for target identities.
package bundle

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/getlantern/sesame/keystore"
	"github.com/getlantern/sesame/model"
)

const (
	defaultCacheSize = 1000
)

// Assembler builds prekey bundles by delegating to the key material store.
// Published identities are cached because an identity is immutable once
// published; the one-time prekey is always reserved fresh.
type Assembler struct {
	store         keystore.Store
	identityCache *lru.Cache
}

func NewAssembler(store keystore.Store, cacheSize int) (*Assembler, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	identityCache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Assembler{
		store:         store,
		identityCache: identityCache,
	}, nil
}

// GetBundle returns a bundle for the target identity, reserving at most one
// available one-time prekey as a side effect. Fails with
// model.ErrIdentityNotFound if the target has never published an identity.
func (a *Assembler) GetBundle(ctx context.Context, identityId string) (*model.PreKeyBundle, error) {
	if _, found := a.identityCache.Get(identityId); !found {
		ident, err := a.store.GetIdentity(ctx, identityId)
		if err != nil {
			return nil, err
		}
		a.identityCache.Add(identityId, ident)
	}
	return a.store.ReserveBundle(ctx, identityId)
}
