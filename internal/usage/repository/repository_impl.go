package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/stagedesk/stagedesk/internal/usage/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) CountMembers(ctx context.Context, orgID snowflake.ID) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM organization_members WHERE org_id = ?`, orgID)
}

func (r *repository) CountProjects(ctx context.Context, orgID snowflake.ID) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM projects WHERE org_id = ?`, orgID)
}

func (r *repository) CountContacts(ctx context.Context, orgID snowflake.ID) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM contacts WHERE org_id = ?`, orgID)
}

func (r *repository) SumDocumentBytes(ctx context.Context, orgID snowflake.ID) (int64, error) {
	return r.count(ctx, `SELECT COALESCE(SUM(file_size), 0) FROM documents WHERE org_id = ?`, orgID)
}

func (r *repository) InsertProject(ctx context.Context, project *domain.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

func (r *repository) InsertContact(ctx context.Context, contact *domain.Contact) error {
	return r.db.WithContext(ctx).Create(contact).Error
}

func (r *repository) count(ctx context.Context, query string, orgID snowflake.ID) (int64, error) {
	var value int64
	err := r.db.WithContext(ctx).Raw(query, orgID).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	return value, nil
}
