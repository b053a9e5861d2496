package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/stagedesk/stagedesk/internal/clock"
	"github.com/stagedesk/stagedesk/internal/organization/domain"
	"github.com/stagedesk/stagedesk/internal/orgcontext"
	"github.com/stagedesk/stagedesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Repo  domain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
	Log   *zap.Logger
}

type service struct {
	db    *gorm.DB
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
	log   *zap.Logger
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		log:   p.Log.Named("organization.service"),
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	org := domain.Organization{
		ID:           s.genID.Generate(),
		Name:         name,
		Slug:         slug.Make(name),
		SupportEmail: strings.TrimSpace(req.SupportEmail),
		Metadata:     datatypes.JSONMap{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}
		return repo.AddMember(ctx, domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     org.ID,
			UserID:    userID,
			Role:      domain.RoleOwner,
			CreatedAt: now,
		})
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrOrganizationExists
		}
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("slug", org.Slug),
	)

	return &domain.OrganizationResponse{
		ID:           org.ID.String(),
		Name:         org.Name,
		Slug:         org.Slug,
		SupportEmail: org.SupportEmail,
	}, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	orgID, err := parseID(id, domain.ErrInvalidOrganization)
	if err != nil {
		return nil, err
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrNotFound
	}

	return &domain.OrganizationResponse{
		ID:           org.ID.String(),
		Name:         org.Name,
		Slug:         org.Slug,
		SupportEmail: org.SupportEmail,
	}, nil
}

func (s *service) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}
	return out, nil
}

func (s *service) AddMember(ctx context.Context, actorID snowflake.ID, req domain.AddMemberRequest) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidOrganization
	}

	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if !domain.ValidRole(role) {
		return domain.ErrInvalidRole
	}

	userID, err := parseID(req.UserID, domain.ErrInvalidUser)
	if err != nil {
		return err
	}

	actorRole, err := s.repo.RoleOf(ctx, orgID, actorID)
	if err != nil {
		return err
	}
	if actorRole != domain.RoleOwner && actorRole != domain.RoleAdmin {
		return domain.ErrForbidden
	}

	return s.repo.AddMember(ctx, domain.OrganizationMember{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      role,
		CreatedAt: s.clock.Now(),
	})
}

func (s *service) RoleOf(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	if orgID == 0 {
		return "", domain.ErrInvalidOrganization
	}
	if userID == 0 {
		return "", domain.ErrInvalidUser
	}

	role, err := s.repo.RoleOf(ctx, orgID, userID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(role) == "" {
		return "", domain.ErrNotMember
	}
	return role, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, invalidErr
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil {
		return 0, invalidErr
	}
	return parsed, nil
}
