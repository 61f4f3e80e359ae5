package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/opsbase/tally/internal/byok/domain"
	"github.com/opsbase/tally/internal/cache"
	"github.com/opsbase/tally/internal/clock"
	"github.com/opsbase/tally/internal/config"
	"github.com/opsbase/tally/internal/observability/metrics"
	"github.com/opsbase/tally/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config  config.Config
	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Cache   cache.RouteResolverCache `optional:"true"`
	Metrics *metrics.Metrics         `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	cache   cache.RouteResolverCache
	sealer  *sealer
	metrics *metrics.Metrics
}

func New(p Params) (domain.Service, error) {
	s := &Service{
		db:      p.DB,
		log:     p.Log.Named("byok.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		cache:   p.Cache,
		metrics: p.Metrics,
	}

	// Without a seal key the resolver still works; credential writes fail
	// with ErrSealKeyMissing.
	if key := strings.TrimSpace(p.Config.BYOKSealKey); key != "" {
		sl, err := newSealer(key)
		if err != nil {
			return nil, err
		}
		s.sealer = sl
	}
	return s, nil
}

func (s *Service) Resolve(ctx context.Context, req domain.ResolveRequest) (*domain.ResolveResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, domain.ErrInvalidModel
	}

	creds, err := s.enabledCredentials(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}

	provider := domain.DetectProvider(model)
	var match *domain.BYOKCredential
	for i := range creds {
		cred := &creds[i]
		if cred.Provider == domain.ProviderOpenRouter {
			match = cred
			break
		}
		if provider != "" && cred.Provider == provider && match == nil {
			match = cred
		}
	}

	if match == nil {
		s.metrics.RecordRouteResolution(ctx, string(domain.RoutePlatform))
		return &domain.ResolveResponse{Route: domain.RoutePlatform}, nil
	}

	s.metrics.RecordRouteResolution(ctx, string(domain.RouteBYOK))
	s.log.Debug("byok route resolved",
		zap.String("org_id", orgID.String()),
		zap.String("user_id", userID.String()),
		zap.String("provider", match.Provider),
	)

	return &domain.ResolveResponse{
		Route:         domain.RouteBYOK,
		Provider:      match.Provider,
		CredentialRef: match.ID.String(),
	}, nil
}

func (s *Service) UpsertCredential(ctx context.Context, req domain.UpsertCredentialRequest) (*domain.CredentialResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if !domain.KnownProvider(provider) {
		return nil, domain.ErrInvalidProvider
	}
	value := strings.TrimSpace(req.Value)
	if value == "" {
		return nil, domain.ErrInvalidValue
	}
	if s.sealer == nil {
		return nil, domain.ErrSealKeyMissing
	}

	sealed, err := s.sealer.Seal(value)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	cred := &domain.BYOKCredential{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		UserID:         userID,
		Provider:       provider,
		EncryptedValue: sealed,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Upsert(ctx, s.db, cred); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(orgID.String(), userID.String())
	}

	stored, err := s.repo.Find(ctx, s.db, orgID, userID, provider)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrCredentialNotFound
	}

	s.log.Info("byok credential stored",
		zap.String("org_id", orgID.String()),
		zap.String("user_id", userID.String()),
		zap.String("provider", provider),
	)

	return toResponse(stored), nil
}

func (s *Service) SetEnabled(ctx context.Context, rawUserID, provider string, enabled bool) (*domain.CredentialResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	userID, err := parseUserID(rawUserID)
	if err != nil {
		return nil, err
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !domain.KnownProvider(provider) {
		return nil, domain.ErrInvalidProvider
	}

	flipped, err := s.repo.SetEnabled(ctx, s.db, orgID, userID, provider, enabled)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, domain.ErrCredentialNotFound
	}
	if s.cache != nil {
		s.cache.Invalidate(orgID.String(), userID.String())
	}

	cred, err := s.repo.Find(ctx, s.db, orgID, userID, provider)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, domain.ErrCredentialNotFound
	}
	return toResponse(cred), nil
}

// enabledCredentials reads through the resolver cache when one is wired.
func (s *Service) enabledCredentials(ctx context.Context, orgID, userID snowflake.ID) ([]domain.BYOKCredential, error) {
	if s.cache != nil {
		if creds, ok := s.cache.GetCredentials(orgID.String(), userID.String()); ok {
			return creds, nil
		}
	}

	creds, err := s.repo.ListEnabled(ctx, s.db, orgID, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetCredentials(orgID.String(), userID.String(), creds)
	}
	return creds, nil
}

func toResponse(c *domain.BYOKCredential) *domain.CredentialResponse {
	return &domain.CredentialResponse{
		ID:        c.ID.String(),
		UserID:    c.UserID.String(),
		Provider:  c.Provider,
		Enabled:   c.Enabled,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func parseUserID(value string) (snowflake.ID, error) {
	userID, err := snowflake.ParseString(value)
	if err != nil || userID == 0 {
		return 0, domain.ErrInvalidUser
	}
	return userID, nil
}
