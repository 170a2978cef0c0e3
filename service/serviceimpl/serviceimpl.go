package serviceimpl

import (
	"context"
	"time"

	"github.com/getlantern/errors"
	"github.com/getlantern/golog"

	"github.com/getlantern/sesame/bundle"
	"github.com/getlantern/sesame/engine"
	"github.com/getlantern/sesame/group"
	"github.com/getlantern/sesame/keystore"
	"github.com/getlantern/sesame/model"
	"github.com/getlantern/sesame/rotation"
	"github.com/getlantern/sesame/service"
	"github.com/getlantern/sesame/vault"
	"github.com/getlantern/sesame/welcome"
)

var (
	log = golog.LoggerFor("service")
)

type Opts struct {
	// The Store holding published key material. Required.
	Store keystore.Store
	// The external group-cryptography engine. Required.
	Engine engine.Engine
	// The Vault holding private key material. Required.
	Vault vault.Vault
	// How many identity records the bundle assembler caches, defaults to 1000
	IdentityCacheSize int
	// How long a staged welcome may sit unaccepted before the sweeper
	// abandons it, defaults to 24 hours
	StagedWelcomeTTL time.Duration
	// How frequently to sweep abandoned staged welcomes, defaults to
	// StagedWelcomeTTL / 24. Set below 0 to disable sweeping.
	SweepInterval time.Duration
	// How many available one-time prekeys to consider low enough to warn
	// about, defaults to 10
	LowPreKeysLimit int
}

func (opts *Opts) ApplyDefaults() {
	if opts.IdentityCacheSize <= 0 {
		opts.IdentityCacheSize = 1000
		log.Debugf("Defaulted IdentityCacheSize to: %d", opts.IdentityCacheSize)
	}
	if opts.StagedWelcomeTTL == 0 {
		opts.StagedWelcomeTTL = 24 * time.Hour
		log.Debugf("Defaulted StagedWelcomeTTL to: %v", opts.StagedWelcomeTTL)
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = opts.StagedWelcomeTTL / 24
		log.Debugf("Defaulted SweepInterval to: %v", opts.SweepInterval)
	}
	if opts.LowPreKeysLimit == 0 {
		opts.LowPreKeysLimit = 10
		log.Debugf("Defaulted LowPreKeysLimit to: %d", opts.LowPreKeysLimit)
	}
}

type Service struct {
	store           keystore.Store
	assembler       *bundle.Assembler
	groups          *group.Coordinator
	welcomes        *welcome.Registry
	rotator         *rotation.Manager
	lowPreKeysLimit int
}

func New(opts *Opts) (*Service, error) {
	opts.ApplyDefaults()
	if opts.Store == nil {
		return nil, errors.New("please specify a Store for this Service")
	}
	if opts.Engine == nil {
		return nil, errors.New("please specify an Engine for this Service")
	}
	if opts.Vault == nil {
		return nil, errors.New("please specify a Vault for this Service")
	}

	assembler, err := bundle.NewAssembler(opts.Store, opts.IdentityCacheSize)
	if err != nil {
		return nil, err
	}
	groups := group.NewCoordinator(opts.Engine)
	welcomes := welcome.NewRegistry(opts.Store, opts.Engine, opts.Vault, groups)
	if opts.SweepInterval > 0 {
		welcomes.StartSweeping(opts.SweepInterval, opts.StagedWelcomeTTL)
	}

	return &Service{
		store:           opts.Store,
		assembler:       assembler,
		groups:          groups,
		welcomes:        welcomes,
		rotator:         rotation.NewManager(opts.Store, opts.Vault),
		lowPreKeysLimit: opts.LowPreKeysLimit,
	}, nil
}

func (srvc *Service) PublishIdentity(ctx context.Context, ident *model.Identity) error {
	return srvc.store.PublishIdentity(ctx, ident)
}

func (srvc *Service) PublishPreKeys(ctx context.Context, identityId string, signedPreKey *model.SignedPreKey, oneTimePreKeys []*model.OneTimePreKey) error {
	return srvc.store.PublishPreKeys(ctx, identityId, signedPreKey, oneTimePreKeys)
}

func (srvc *Service) GetBundle(ctx context.Context, identityId string) (*model.PreKeyBundle, error) {
	bundle, err := srvc.assembler.GetBundle(ctx, identityId)
	if err != nil {
		return nil, err
	}
	if bundle.OneTimePreKey == nil {
		log.Debugf("no one-time prekey available for %v, bundle degrades to signed prekey only", identityId)
	}
	srvc.warnPreKeysLowIfNecessary(ctx, identityId)
	return bundle, nil
}

func (srvc *Service) Consume(ctx context.Context, identityId string, keyId uint32) error {
	return srvc.store.Consume(ctx, identityId, keyId)
}

func (srvc *Service) PreKeysRemaining(ctx context.Context, identityId string) (int, error) {
	return srvc.store.PreKeysRemaining(ctx, identityId)
}

func (srvc *Service) EnsureCreated(ctx context.Context, conversationId string) error {
	return srvc.groups.EnsureCreated(ctx, conversationId)
}

func (srvc *Service) AddMembers(ctx context.Context, conversationId string, keyPackages [][]byte) error {
	return srvc.groups.AddMembers(ctx, conversationId, keyPackages)
}

func (srvc *Service) RemoveMembers(ctx context.Context, conversationId string, clientIds []string) error {
	return srvc.groups.RemoveMembers(ctx, conversationId, clientIds)
}

func (srvc *Service) CommitPending(ctx context.Context, conversationId string) error {
	return srvc.groups.CommitPending(ctx, conversationId)
}

func (srvc *Service) EnableHistorySharing(ctx context.Context, conversationId string) error {
	return srvc.groups.EnableHistorySharing(ctx, conversationId)
}

func (srvc *Service) DisableHistorySharing(ctx context.Context, conversationId string) error {
	return srvc.groups.DisableHistorySharing(ctx, conversationId)
}

func (srvc *Service) Stage(ctx context.Context, identityId string, welcomeBytes []byte) (string, error) {
	return srvc.welcomes.Stage(ctx, identityId, welcomeBytes)
}

func (srvc *Service) Inspect(token string) (*model.WelcomeInfo, error) {
	return srvc.welcomes.Inspect(token)
}

func (srvc *Service) Accept(ctx context.Context, token string) (string, error) {
	return srvc.welcomes.Accept(ctx, token)
}

func (srvc *Service) Discard(token string) error {
	return srvc.welcomes.Discard(token)
}

func (srvc *Service) Rotate(ctx context.Context, identityId string) (*model.SignedPreKey, error) {
	return srvc.rotator.Rotate(ctx, identityId)
}

// Groups exposes the membership coordinator, mostly so callers can query
// history-sharing and pending-proposal state.
func (srvc *Service) Groups() *group.Coordinator {
	return srvc.groups
}

func (srvc *Service) Close() {
	srvc.welcomes.Close()
}

func (srvc *Service) warnPreKeysLowIfNecessary(ctx context.Context, identityId string) {
	remaining, err := srvc.store.PreKeysRemaining(ctx, identityId)
	if err == nil && remaining < srvc.lowPreKeysLimit {
		log.Debugf("identity %v is low on one-time prekeys (%d remaining)", identityId, remaining)
	}
}

var _ service.Service = (*Service)(nil)
