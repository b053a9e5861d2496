package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stagedesk/stagedesk/internal/clock"
	"github.com/stagedesk/stagedesk/internal/orgcontext"
	"github.com/stagedesk/stagedesk/internal/plan"
	"github.com/stagedesk/stagedesk/internal/subscription/domain"
	"github.com/stagedesk/stagedesk/internal/subscription/repository"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	gdb := newTestDB(t)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:      gdb,
		Repo:    repository.NewRepository(),
		Catalog: plan.NewStaticHolder(plan.DefaultCatalog()),
		GenID:   node,
		Clock:   fake,
		Log:     zap.NewNop(),
	})
	return svc, gdb, fake
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&domain.Subscription{}))

	// AutoMigrate cannot express the partial one-live-row index; create it
	// the way the migration does so unique violations surface in tests.
	require.NoError(t, gdb.Exec(
		`CREATE UNIQUE INDEX idx_subscriptions_org_live ON subscriptions (org_id)
		 WHERE status IN ('trialing', 'active', 'past_due', 'incomplete')`,
	).Error)
	return gdb
}

func orgCtx(orgID int64) context.Context {
	return orgcontext.WithOrgID(context.Background(), orgID)
}

func countByStatus(t *testing.T, gdb *gorm.DB, orgID int64, status domain.Status) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Raw(
		`SELECT COUNT(*) FROM subscriptions WHERE org_id = ? AND status = ?`,
		orgID, status,
	).Scan(&n).Error)
	return n
}

func TestCreateFreePlanIsActive(t *testing.T) {
	svc, _, _ := newTestService(t)

	resp, err := svc.Create(orgCtx(10), domain.CreateSubscriptionRequest{PlanID: "FREE"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, resp.Status)
	require.Equal(t, "FREE", resp.PlanID)
	require.Equal(t, domain.CycleMonthly, resp.BillingCycle)
}

func TestCreatePaidPlanIsIncompleteUntilConfirmed(t *testing.T) {
	svc, _, fake := newTestService(t)

	resp, err := svc.Create(orgCtx(10), domain.CreateSubscriptionRequest{PlanID: "starter", BillingCycle: "yearly"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusIncomplete, resp.Status)
	require.Equal(t, "STARTER", resp.PlanID)
	require.Equal(t, fake.Now().AddDate(1, 0, 0), resp.CurrentPeriodEnd)
}

func TestCreateRejectsUnknownPlanAndCycle(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(orgCtx(10), domain.CreateSubscriptionRequest{PlanID: "GOLD"})
	require.ErrorIs(t, err, domain.ErrInvalidPlan)

	_, err = svc.Create(orgCtx(10), domain.CreateSubscriptionRequest{PlanID: "FREE", BillingCycle: "weekly"})
	require.ErrorIs(t, err, domain.ErrInvalidBillingCycle)

	_, err = svc.Create(context.Background(), domain.CreateSubscriptionRequest{PlanID: "FREE"})
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestCreateCancelsPreviousLiveSubscription(t *testing.T) {
	svc, gdb, _ := newTestService(t)
	ctx := orgCtx(10)

	first, err := svc.Create(ctx, domain.CreateSubscriptionRequest{PlanID: "FREE"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.CreateSubscriptionRequest{PlanID: "PROFESSIONAL"})
	require.NoError(t, err)

	require.Equal(t, int64(1), countByStatus(t, gdb, 10, domain.StatusCanceled))
	require.Equal(t, int64(1), countByStatus(t, gdb, 10, domain.StatusIncomplete))

	got, err := svc.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanceled, got.Status)
	require.NotNil(t, got.CanceledAt)
}

func TestCancelAtPeriodEndIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := orgCtx(10)

	created, err := svc.Create(ctx, domain.CreateSubscriptionRequest{PlanID: "FREE"})
	require.NoError(t, err)

	resp, err := svc.CancelAtPeriodEnd(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, resp.CancelAtPeriodEnd)

	again, err := svc.CancelAtPeriodEnd(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, again.CancelAtPeriodEnd)
}

func TestCancelOnCanceledIsTerminal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := orgCtx(10)

	first, err := svc.Create(ctx, domain.CreateSubscriptionRequest{PlanID: "FREE"})
	require.NoError(t, err)
	// Replacing the subscription cancels the first row.
	_, err = svc.Create(ctx, domain.CreateSubscriptionRequest{PlanID: "STARTER"})
	require.NoError(t, err)

	_, err = svc.CancelAtPeriodEnd(ctx, first.ID)
	require.ErrorIs(t, err, domain.ErrTerminalState)
}

func TestResume(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := orgCtx(10)

	created, err := svc.Create(ctx, domain.CreateSubscriptionRequest{PlanID: "FREE"})
	require.NoError(t, err)

	_, err = svc.CancelAtPeriodEnd(ctx, created.ID)
	require.NoError(t, err)

	resp, err := svc.Resume(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, resp.CancelAtPeriodEnd)

	// Resuming an already live row is a no-op.
	resp, err = svc.Resume(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, resp.CancelAtPeriodEnd)
}

func TestResumeClearsProviderCanceledAt(t *testing.T) {
	svc, gdb, fake := newTestService(t)
	ctx := orgCtx(10)

	canceledAt := fake.Now().Add(-time.Hour)
	snap := snapshotFixture(fake)
	snap.CancelAtPeriodEnd = true
	snap.CanceledAt = &canceledAt

	applied, err := svc.ApplyExternalSnapshot(context.Background(), snap)
	require.NoError(t, err)
	require.True(t, applied)

	current, err := svc.Current(ctx)
	require.NoError(t, err)
	require.True(t, current.CancelAtPeriodEnd)
	require.NotNil(t, current.CanceledAt)

	resp, err := svc.Resume(ctx, current.ID)
	require.NoError(t, err)
	require.False(t, resp.CancelAtPeriodEnd)
	require.Nil(t, resp.CanceledAt)

	var stored int64
	require.NoError(t, gdb.Raw(
		`SELECT COUNT(*) FROM subscriptions WHERE id = ? AND canceled_at IS NULL`,
		current.ID,
	).Scan(&stored).Error)
	require.Equal(t, int64(1), stored)
}

func TestResumeOnCanceledFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := orgCtx(10)

	first, err := svc.Create(ctx, domain.CreateSubscriptionRequest{PlanID: "FREE"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.CreateSubscriptionRequest{PlanID: "STARTER"})
	require.NoError(t, err)

	_, err = svc.Resume(ctx, first.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyCanceled)
}

func snapshotFixture(fake *clock.FakeClock) domain.ExternalSnapshot {
	start := fake.Now()
	return domain.ExternalSnapshot{
		ExternalSubscriptionID: "sub_123",
		ExternalCustomerID:     "cus_123",
		OrgID:                  10,
		PlanID:                 "STARTER",
		Status:                 domain.StatusActive,
		BillingCycle:           domain.CycleMonthly,
		CurrentPeriodStart:     start,
		CurrentPeriodEnd:       start.AddDate(0, 1, 0),
	}
}

func TestApplyExternalSnapshotInsertsAndUpdates(t *testing.T) {
	svc, gdb, fake := newTestService(t)
	ctx := context.Background()

	applied, err := svc.ApplyExternalSnapshot(ctx, snapshotFixture(fake))
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, int64(1), countByStatus(t, gdb, 10, domain.StatusActive))

	// A newer snapshot for the same external id updates in place.
	next := snapshotFixture(fake)
	next.CurrentPeriodStart = next.CurrentPeriodStart.AddDate(0, 1, 0)
	next.CurrentPeriodEnd = next.CurrentPeriodEnd.AddDate(0, 1, 0)
	next.Status = domain.StatusPastDue

	applied, err = svc.ApplyExternalSnapshot(ctx, next)
	require.NoError(t, err)
	require.True(t, applied)

	var total int64
	require.NoError(t, gdb.Raw(`SELECT COUNT(*) FROM subscriptions`).Scan(&total).Error)
	require.Equal(t, int64(1), total)
	require.Equal(t, int64(1), countByStatus(t, gdb, 10, domain.StatusPastDue))
}

func TestApplyExternalSnapshotIsIdempotent(t *testing.T) {
	svc, gdb, fake := newTestService(t)
	ctx := context.Background()

	snap := snapshotFixture(fake)
	for i := 0; i < 2; i++ {
		applied, err := svc.ApplyExternalSnapshot(ctx, snap)
		require.NoError(t, err)
		require.True(t, applied)
	}

	var total int64
	require.NoError(t, gdb.Raw(`SELECT COUNT(*) FROM subscriptions`).Scan(&total).Error)
	require.Equal(t, int64(1), total)
}

func TestApplyExternalSnapshotDiscardsStale(t *testing.T) {
	svc, gdb, fake := newTestService(t)
	ctx := context.Background()

	current := snapshotFixture(fake)
	current.CurrentPeriodStart = current.CurrentPeriodStart.AddDate(0, 1, 0)
	current.CurrentPeriodEnd = current.CurrentPeriodEnd.AddDate(0, 1, 0)
	applied, err := svc.ApplyExternalSnapshot(ctx, current)
	require.NoError(t, err)
	require.True(t, applied)

	stale := snapshotFixture(fake)
	stale.Status = domain.StatusCanceled
	applied, err = svc.ApplyExternalSnapshot(ctx, stale)
	require.NoError(t, err)
	require.False(t, applied)

	// The newer period and status survive.
	require.Equal(t, int64(1), countByStatus(t, gdb, 10, domain.StatusActive))
	require.Equal(t, int64(0), countByStatus(t, gdb, 10, domain.StatusCanceled))
}

func TestApplyExternalSnapshotReplacesLocalIncomplete(t *testing.T) {
	svc, gdb, fake := newTestService(t)

	_, err := svc.Create(orgCtx(10), domain.CreateSubscriptionRequest{PlanID: "STARTER"})
	require.NoError(t, err)
	require.Equal(t, int64(1), countByStatus(t, gdb, 10, domain.StatusIncomplete))

	applied, err := svc.ApplyExternalSnapshot(context.Background(), snapshotFixture(fake))
	require.NoError(t, err)
	require.True(t, applied)

	// The provider-confirmed row is now the only live one.
	require.Equal(t, int64(1), countByStatus(t, gdb, 10, domain.StatusActive))
	require.Equal(t, int64(1), countByStatus(t, gdb, 10, domain.StatusCanceled))
	require.Equal(t, int64(0), countByStatus(t, gdb, 10, domain.StatusIncomplete))
}

func TestApplyExternalSnapshotValidation(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	snap := snapshotFixture(fake)
	snap.ExternalSubscriptionID = ""
	_, err := svc.ApplyExternalSnapshot(ctx, snap)
	require.ErrorIs(t, err, domain.ErrInvalidSnapshot)

	snap = snapshotFixture(fake)
	snap.PlanID = "GOLD"
	_, err = svc.ApplyExternalSnapshot(ctx, snap)
	require.ErrorIs(t, err, domain.ErrInvalidPlan)

	snap = snapshotFixture(fake)
	snap.Status = domain.Status("paused")
	_, err = svc.ApplyExternalSnapshot(ctx, snap)
	require.ErrorIs(t, err, domain.ErrInvalidStatus)

	snap = snapshotFixture(fake)
	snap.CurrentPeriodEnd = snap.CurrentPeriodStart.Add(-time.Hour)
	_, err = svc.ApplyExternalSnapshot(ctx, snap)
	require.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestCurrentReturnsLiveSubscription(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := orgCtx(10)

	_, err := svc.Current(ctx)
	require.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

	created, err := svc.Create(ctx, domain.CreateSubscriptionRequest{PlanID: "FREE"})
	require.NoError(t, err)

	current, err := svc.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, created.ID, current.ID)
}

func TestApplyExternalSnapshotEqualPeriodApplies(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	applied, err := svc.ApplyExternalSnapshot(ctx, snapshotFixture(fake))
	require.NoError(t, err)
	require.True(t, applied)

	// Same period end but a changed cancel flag still lands.
	snap := snapshotFixture(fake)
	snap.CancelAtPeriodEnd = true
	applied, err = svc.ApplyExternalSnapshot(ctx, snap)
	require.NoError(t, err)
	require.True(t, applied)

	current, err := svc.Current(orgCtx(10))
	require.NoError(t, err)
	require.True(t, current.CancelAtPeriodEnd)
}

// skippingRepo drops the first CancelLive calls so a live row survives into
// Insert, the way a competing creator lands between another worker's cancel
// and insert.
type skippingRepo struct {
	domain.Repository
	skips int
}

func (r *skippingRepo) CancelLive(ctx context.Context, db *gorm.DB, orgID snowflake.ID, spareExternalID *string, at time.Time) error {
	if r.skips > 0 {
		r.skips--
		return nil
	}
	return r.Repository.CancelLive(ctx, db, orgID, spareExternalID, at)
}

func newContendedService(t *testing.T, skips int) (domain.Service, *gorm.DB) {
	t.Helper()

	gdb := newTestDB(t)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	// Seed the live row directly so the skip budget is spent only on the
	// contended Create.
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repository.NewRepository().Insert(context.Background(), gdb, &domain.Subscription{
		ID:                 node.Generate(),
		OrgID:              10,
		PlanID:             "FREE",
		Status:             domain.StatusActive,
		BillingCycle:       domain.CycleMonthly,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		Metadata:           datatypes.JSONMap{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}))

	svc := NewService(Params{
		DB:      gdb,
		Repo:    &skippingRepo{Repository: repository.NewRepository(), skips: skips},
		Catalog: plan.NewStaticHolder(plan.DefaultCatalog()),
		GenID:   node,
		Clock:   clock.NewFakeClock(now),
		Log:     zap.NewNop(),
	})
	return svc, gdb
}

func TestCreateRetriesAfterLosingLiveRowUniqueIndex(t *testing.T) {
	svc, gdb := newContendedService(t, 1)

	// First attempt hits the unique index against the surviving row; the
	// retry cancels it and wins.
	resp, err := svc.Create(orgCtx(10), domain.CreateSubscriptionRequest{PlanID: "STARTER"})
	require.NoError(t, err)
	require.Equal(t, "STARTER", resp.PlanID)

	var live int64
	require.NoError(t, gdb.Raw(
		`SELECT COUNT(*) FROM subscriptions WHERE org_id = 10 AND status != 'canceled'`,
	).Scan(&live).Error)
	require.Equal(t, int64(1), live)
	require.Equal(t, int64(1), countByStatus(t, gdb, 10, domain.StatusCanceled))
}

func TestCreateGivesUpAfterSecondUniqueIndexLoss(t *testing.T) {
	svc, gdb := newContendedService(t, 2)

	_, err := svc.Create(orgCtx(10), domain.CreateSubscriptionRequest{PlanID: "STARTER"})
	require.ErrorIs(t, err, domain.ErrConflict)

	var total int64
	require.NoError(t, gdb.Raw(`SELECT COUNT(*) FROM subscriptions`).Scan(&total).Error)
	require.Equal(t, int64(1), total)
}
