package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stagedesk/stagedesk/internal/clock"
	orgdomain "github.com/stagedesk/stagedesk/internal/organization/domain"
	"github.com/stagedesk/stagedesk/internal/orgcontext"
	"github.com/stagedesk/stagedesk/internal/usage/domain"
	"github.com/stagedesk/stagedesk/internal/usage/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.OrganizationMember{},
		&domain.Project{},
		&domain.Contact{},
		&domain.Document{},
	))
	return db
}

func newService(db *gorm.DB) domain.Service {
	node, err := snowflake.NewNode(5)
	if err != nil {
		panic(err)
	}
	return NewService(Params{
		Repo:  repository.NewRepository(db),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		Log:   zap.NewNop(),
	})
}

func TestSnapshotCountsPerOrg(t *testing.T) {
	db := newTestDB(t)
	svc := newService(db)

	require.NoError(t, db.Exec(`INSERT INTO organization_members (id, org_id, user_id, role) VALUES (1, 10, 100, 'OWNER'), (2, 10, 101, 'MEMBER'), (3, 20, 102, 'OWNER')`).Error)
	require.NoError(t, db.Exec(`INSERT INTO projects (id, org_id, name, status) VALUES (1, 10, 'tour', 'active'), (2, 10, 'festival', 'active'), (3, 20, 'other', 'active')`).Error)
	require.NoError(t, db.Exec(`INSERT INTO contacts (id, org_id, name, email) VALUES (1, 10, 'venue', 'venue@example.com')`).Error)
	// 3 MiB and 512 KiB of documents: rounds to 4 MB.
	require.NoError(t, db.Exec(`INSERT INTO documents (id, org_id, name, file_size) VALUES (1, 10, 'rider.pdf', 3145728), (2, 10, 'stageplot.pdf', 524288)`).Error)

	ctx := orgcontext.WithOrgID(context.Background(), 10)
	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	require.Equal(t, domain.Snapshot{
		Users:         2,
		Projects:      2,
		Contacts:      1,
		StorageMB:     4,
		Organizations: 1,
	}, snap)
}

func TestSnapshotEmptyOrg(t *testing.T) {
	db := newTestDB(t)
	svc := newService(db)

	ctx := orgcontext.WithOrgID(context.Background(), 99)
	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), snap.Projects)
	require.Equal(t, int64(0), snap.StorageMB)
	require.Equal(t, int64(1), snap.Organizations)
}

func TestSnapshotRequiresOrgContext(t *testing.T) {
	svc := newService(newTestDB(t))

	_, err := svc.Snapshot(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestCreateProjectAndContact(t *testing.T) {
	db := newTestDB(t)
	svc := newService(db)
	ctx := orgcontext.WithOrgID(context.Background(), 10)

	project, err := svc.CreateProject(ctx, domain.CreateProjectRequest{Name: "  spring tour "})
	require.NoError(t, err)
	require.Equal(t, "spring tour", project.Name)
	require.Equal(t, "active", project.Status)

	contact, err := svc.CreateContact(ctx, domain.CreateContactRequest{Name: "venue", Email: "venue@example.com"})
	require.NoError(t, err)
	require.NotZero(t, contact.ID)

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Projects)
	require.Equal(t, int64(1), snap.Contacts)

	_, err = svc.CreateProject(ctx, domain.CreateProjectRequest{Name: "  "})
	require.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = svc.CreateProject(context.Background(), domain.CreateProjectRequest{Name: "x"})
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestSnapshotStoreFailure(t *testing.T) {
	db := newTestDB(t)
	svc := newService(db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	ctx := orgcontext.WithOrgID(context.Background(), 10)
	_, err = svc.Snapshot(ctx)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
