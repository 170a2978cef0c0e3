// redisstore provides an implementation of the ../keystore.Store interface
// backed by a Redis database. It can run on a cluster.
//
// It uses the following data model:
//
//   identity:{<identityId>}       - a Map holding the identity and signing keys
//   spk:{<identityId>}            - a Map holding the active signed prekey
//   otpk:{<identityId>}:<keyId>   - a Map holding one one-time prekey (publicKey, state, reservedAt)
//   otpk-avail:{<identityId>}     - a Sorted Set of available keyIds, scored by keyId so the lowest is handed out first
//   otpk-reserved:{<identityId>}  - a Sorted Set of reserved keyIds, scored by reservation time for sweeping
//
// The {} braces around identityId indicate that the identityId is used as the
// sharding key when running on a Redis cluster. Every state transition is
// performed inside a Lua script so that reservation and consumption are single
// atomic steps.
package redisstore

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/getlantern/errors"
	"github.com/getlantern/golog"

	"github.com/getlantern/sesame/keystore"
	"github.com/getlantern/sesame/model"
	"github.com/getlantern/sesame/util"
)

var (
	log = golog.LoggerFor("redisstore")
)

//go:embed publish_prekeys.lua
var publishPreKeysScript []byte

//go:embed reserve_bundle.lua
var reserveBundleScript []byte

//go:embed consume.lua
var consumeScript []byte

//go:embed sweep.lua
var sweepScript []byte

// New constructs a new Redis-backed Store that connects with the given client.
func New(client *redis.Client) (keystore.Store, error) {
	ctx := context.Background()

	publishPreKeysScriptSHA, err := client.ScriptLoad(ctx, string(publishPreKeysScript)).Result()
	if err != nil {
		return nil, errors.New("unable to load publishPreKeysScript: %v", err)
	}
	reserveBundleScriptSHA, err := client.ScriptLoad(ctx, string(reserveBundleScript)).Result()
	if err != nil {
		return nil, errors.New("unable to load reserveBundleScript: %v", err)
	}
	consumeScriptSHA, err := client.ScriptLoad(ctx, string(consumeScript)).Result()
	if err != nil {
		return nil, errors.New("unable to load consumeScript: %v", err)
	}
	sweepScriptSHA, err := client.ScriptLoad(ctx, string(sweepScript)).Result()
	if err != nil {
		return nil, errors.New("unable to load sweepScript: %v", err)
	}
	return &redisStore{
		client:                  client,
		publishPreKeysScriptSHA: publishPreKeysScriptSHA,
		reserveBundleScriptSHA:  reserveBundleScriptSHA,
		consumeScriptSHA:        consumeScriptSHA,
		sweepScriptSHA:          sweepScriptSHA,
	}, nil
}

type redisStore struct {
	client                  *redis.Client
	publishPreKeysScriptSHA string
	reserveBundleScriptSHA  string
	consumeScriptSHA        string
	sweepScriptSHA          string
}

func (s *redisStore) PublishIdentity(ctx context.Context, ident *model.Identity) error {
	if ident == nil || len(ident.IdentityKey) == 0 || len(ident.SigningKey) == 0 {
		return model.ErrEmptyKeyMaterial
	}
	return s.client.HSet(ctx, identityKey(ident.Id),
		"identityKey", string(ident.IdentityKey),
		"signingKey", string(ident.SigningKey)).Err()
}

func (s *redisStore) GetIdentity(ctx context.Context, identityId string) (*model.Identity, error) {
	fields, err := s.client.HGetAll(ctx, identityKey(identityId)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, model.ErrIdentityNotFound
	}
	return &model.Identity{
		Id:          identityId,
		IdentityKey: []byte(fields["identityKey"]),
		SigningKey:  []byte(fields["signingKey"]),
	}, nil
}

func (s *redisStore) PublishPreKeys(ctx context.Context, identityId string, signedPreKey *model.SignedPreKey, oneTimePreKeys []*model.OneTimePreKey) error {
	_, err := s.GetIdentity(ctx, identityId)
	if err != nil {
		return err
	}

	args := make([]interface{}, 0, 4+2*len(oneTimePreKeys))
	if signedPreKey != nil {
		args = append(args,
			strconv.FormatUint(uint64(signedPreKey.KeyId), 10),
			string(signedPreKey.PublicKey),
			string(signedPreKey.Signature))
	} else {
		args = append(args, "", "", "")
	}
	args = append(args, oneTimePreKeyPrefix(identityId))
	seen := make(map[uint32]bool, len(oneTimePreKeys))
	for _, key := range oneTimePreKeys {
		if seen[key.KeyId] {
			return model.ErrDuplicateKeyId
		}
		seen[key.KeyId] = true
		args = append(args, strconv.FormatUint(uint64(key.KeyId), 10), string(key.PublicKey))
	}

	result, err := s.client.EvalSha(ctx,
		s.publishPreKeysScriptSHA,
		[]string{signedPreKeyKey(identityId), availableKey(identityId)},
		args...).Result()
	if err != nil {
		return err
	}
	if added, ok := result.(int64); ok && added == -1 {
		return model.ErrDuplicateKeyId
	}
	return nil
}

func (s *redisStore) ActiveSignedPreKey(ctx context.Context, identityId string) (*model.SignedPreKey, error) {
	fields, err := s.client.HGetAll(ctx, signedPreKeyKey(identityId)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		_, err := s.GetIdentity(ctx, identityId)
		if err != nil {
			return nil, err
		}
		return nil, model.ErrKeyNotFound
	}
	keyId, err := strconv.ParseUint(fields["keyId"], 10, 32)
	if err != nil {
		return nil, errors.New("unable to parse signed prekey id '%v': %v", fields["keyId"], err)
	}
	return &model.SignedPreKey{
		KeyId:     uint32(keyId),
		PublicKey: []byte(fields["publicKey"]),
		Signature: []byte(fields["signature"]),
	}, nil
}

func (s *redisStore) ReserveBundle(ctx context.Context, identityId string) (*model.PreKeyBundle, error) {
	result, err := s.client.EvalSha(ctx,
		s.reserveBundleScriptSHA,
		[]string{identityKey(identityId), signedPreKeyKey(identityId), availableKey(identityId), reservedKey(identityId)},
		util.NowUnixMillis(),
		oneTimePreKeyPrefix(identityId)).Result()
	if err != nil {
		return nil, err
	}
	if missing, ok := result.(int64); ok && missing == -1 {
		return nil, model.ErrIdentityNotFound
	}

	out := result.([]interface{})
	bundle := &model.PreKeyBundle{
		IdentityId:  identityId,
		IdentityKey: []byte(out[0].(string)),
	}
	if out[1] != nil {
		spkKeyId, err := strconv.ParseUint(out[1].(string), 10, 32)
		if err != nil {
			return nil, errors.New("unable to parse signed prekey id '%v': %v", out[1], err)
		}
		bundle.SignedPreKey = &model.SignedPreKey{
			KeyId:     uint32(spkKeyId),
			PublicKey: []byte(out[2].(string)),
			Signature: []byte(out[3].(string)),
		}
	}
	if out[4] != nil {
		otpkKeyId, err := strconv.ParseUint(out[4].(string), 10, 32)
		if err != nil {
			return nil, errors.New("unable to parse one-time prekey id '%v': %v", out[4], err)
		}
		bundle.OneTimePreKey = &model.OneTimePreKey{
			KeyId:     uint32(otpkKeyId),
			PublicKey: []byte(out[5].(string)),
			State:     model.KeyStateReserved,
		}
	}
	return bundle, nil
}

func (s *redisStore) Consume(ctx context.Context, identityId string, keyId uint32) error {
	keyIdString := strconv.FormatUint(uint64(keyId), 10)
	result, err := s.client.EvalSha(ctx,
		s.consumeScriptSHA,
		[]string{oneTimePreKeyPrefix(identityId) + keyIdString, availableKey(identityId), reservedKey(identityId)},
		keyIdString).Result()
	if err != nil {
		return err
	}
	if consumed, ok := result.(int64); !ok || consumed != 1 {
		return model.ErrKeyNotFound
	}
	return nil
}

func (s *redisStore) PreKeysRemaining(ctx context.Context, identityId string) (int, error) {
	p := s.client.Pipeline()
	identityExistsCmd := p.Exists(ctx, identityKey(identityId))
	numAvailableCmd := p.ZCard(ctx, availableKey(identityId))
	_, err := p.Exec(ctx)
	if err != nil {
		return 0, err
	}

	identityExists, _ := identityExistsCmd.Result()
	if identityExists == 0 {
		return 0, model.ErrIdentityNotFound
	}
	numAvailable, _ := numAvailableCmd.Result()
	return int(numAvailable), nil
}

func (s *redisStore) SweepExpiredReservations(ctx context.Context, maxAge time.Duration) (int, error) {
	reservedKeys, err := s.client.Keys(ctx, "otpk-reserved:*").Result()
	if err != nil {
		return 0, err
	}

	cutoff := util.UnixMillis(time.Now().Add(-maxAge))
	swept := 0
	for _, reserved := range reservedKeys {
		identityId := strings.Trim(strings.TrimPrefix(reserved, "otpk-reserved:"), "{}")
		result, err := s.client.EvalSha(ctx,
			s.sweepScriptSHA,
			[]string{reserved, availableKey(identityId)},
			cutoff,
			oneTimePreKeyPrefix(identityId)).Result()
		if err != nil {
			return swept, err
		}
		count := result.(int64)
		if count > 0 {
			log.Debugf("returned %d expired reservations to the pool for %v", count, identityId)
		}
		swept += int(count)
	}
	return swept, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func identityKey(identityId string) string {
	return fmt.Sprintf("identity:{%v}", identityId)
}

func signedPreKeyKey(identityId string) string {
	return fmt.Sprintf("spk:{%v}", identityId)
}

func availableKey(identityId string) string {
	return fmt.Sprintf("otpk-avail:{%v}", identityId)
}

func reservedKey(identityId string) string {
	return fmt.Sprintf("otpk-reserved:{%v}", identityId)
}

func oneTimePreKeyPrefix(identityId string) string {
	return fmt.Sprintf("otpk:{%v}:", identityId)
}
