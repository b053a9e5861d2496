package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/stagedesk/stagedesk/internal/clock"
	"github.com/stagedesk/stagedesk/internal/orgcontext"
	"github.com/stagedesk/stagedesk/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Repo  domain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
	Log   *zap.Logger
}

type service struct {
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
	log   *zap.Logger
}

func NewService(p Params) domain.Service {
	return &service{
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		log:   p.Log.Named("usage.service"),
	}
}

func (s *service) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Snapshot{}, domain.ErrInvalidOrganization
	}

	users, err := s.repo.CountMembers(ctx, orgID)
	if err != nil {
		return domain.Snapshot{}, storeErr("count members", err)
	}
	projects, err := s.repo.CountProjects(ctx, orgID)
	if err != nil {
		return domain.Snapshot{}, storeErr("count projects", err)
	}
	contacts, err := s.repo.CountContacts(ctx, orgID)
	if err != nil {
		return domain.Snapshot{}, storeErr("count contacts", err)
	}
	storageBytes, err := s.repo.SumDocumentBytes(ctx, orgID)
	if err != nil {
		return domain.Snapshot{}, storeErr("sum document bytes", err)
	}

	return domain.Snapshot{
		Users:         users,
		Projects:      projects,
		Contacts:      contacts,
		StorageMB:     bytesToMB(storageBytes),
		Organizations: 1,
	}, nil
}

func (s *service) CreateProject(ctx context.Context, req domain.CreateProjectRequest) (*domain.Project, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	project := &domain.Project{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      name,
		Status:    "active",
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (s *service) CreateContact(ctx context.Context, req domain.CreateContactRequest) (*domain.Contact, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	contact := &domain.Contact{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      name,
		Email:     strings.TrimSpace(req.Email),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertContact(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

func bytesToMB(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return int64(math.Round(float64(total) / (1024 * 1024)))
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}
