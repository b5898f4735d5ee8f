package dispute

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbazaar/escrow-engine/internal/audit"
	"github.com/devbazaar/escrow-engine/internal/config"
	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/metrics"
	"github.com/devbazaar/escrow-engine/internal/repository"
	"github.com/devbazaar/escrow-engine/internal/service/escrow"
	"github.com/devbazaar/escrow-engine/internal/testutil"
)

func newTestEngine(t *testing.T, db *sql.DB) (*Engine, *escrow.Service) {
	t.Helper()

	cfg := &config.Config{
		DisputeSplitBps: 5000,
		StoreMaxRetries: 3,
	}
	recorder := audit.NewRecorder(repository.NewAuditRepository(db))
	escrowSvc := escrow.NewService(
		repository.NewProjectRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewPaymentRepository(db),
		repository.NewMilestoneRepository(db),
		repository.NewDisputeRepository(db),
		repository.NewNotificationRepository(db),
		recorder,
		db,
		cfg,
	)
	engine := NewEngine(
		repository.NewProjectRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewDisputeRepository(db),
		repository.NewNotificationRepository(db),
		recorder,
		escrowSvc,
		db,
		cfg,
	)
	return engine, escrowSvc
}

// fundProject deposits `amount` into a fresh project's escrow through the
// normal verification path.
func fundProject(t *testing.T, ctx context.Context, svc *escrow.Service, db *sql.DB, amount int64) *domain.Project {
	t.Helper()

	project := testutil.SeedProject(t, db, domain.ProjectStatusDepositPending, amount)
	payment := testutil.SeedPendingPayment(t, db, project.ID, amount, "ref-"+uuid.NewString())

	_, err := svc.VerifyPayment(ctx, payment.ID, testutil.Admin())
	require.NoError(t, err)

	funded, err := svc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	return funded
}

func TestRaise(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	project := fundProject(t, ctx, escrowSvc, db, 10_000)

	d, err := engine.Raise(ctx, project.ID, "deliverable rejected", "the dashboard does not load", testutil.Client())
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusOpen, d.Status)
	assert.Equal(t, testutil.ClientID, d.RaisedBy)
	assert.Equal(t, domain.RoleClient, d.RaisedByRole)

	updated, err := escrowSvc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusInDispute, updated.Status)

	_, err = engine.Raise(ctx, project.ID, "second complaint", "", testutil.Developer())
	require.ErrorIs(t, err, domain.ErrDisputeOpen)
}

func TestRaise_Eligibility(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	project := fundProject(t, ctx, escrowSvc, db, 10_000)

	// A client who is not on the project cannot raise.
	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleClient}
	_, err := engine.Raise(ctx, project.ID, "not my project", "", stranger)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = engine.Raise(ctx, project.ID, "", "", testutil.Client())
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

type failingDisputeCreate struct {
	*repository.DisputeRepository
	createErr error
}

func (f *failingDisputeCreate) Create(_ context.Context, _ *sql.Tx, _ *domain.Dispute) error {
	return f.createErr
}

func TestRaise_FailedInsertRollsBackStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	project := fundProject(t, ctx, escrowSvc, db, 10_000)

	cfg := &config.Config{DisputeSplitBps: 5000, StoreMaxRetries: 3}
	broken := NewEngine(
		repository.NewProjectRepository(db),
		repository.NewLedgerRepository(db),
		&failingDisputeCreate{repository.NewDisputeRepository(db), errors.New("insert refused")},
		repository.NewNotificationRepository(db),
		audit.NewRecorder(repository.NewAuditRepository(db)),
		escrowSvc,
		db,
		cfg,
	)

	_, err := broken.Raise(ctx, project.ID, "doomed", "", testutil.Client())
	require.Error(t, err)

	// The status flip rolls back with the failed insert; the project is never
	// left in in_dispute without a dispute row.
	updated, err := escrowSvc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusActive, updated.Status)

	open, err := repository.NewDisputeRepository(db).OpenByProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	_, err = engine.Raise(ctx, project.ID, "deliverable rejected", "", testutil.Client())
	require.NoError(t, err)
}

func TestRaise_RequiresVerifiedDeposit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, db)

	project := testutil.SeedProject(t, db, domain.ProjectStatusDepositPending, 10_000)

	_, err := engine.Raise(ctx, project.ID, "premature", "", testutil.Client())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestResolve_RefundClient(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	// Deposit 43,000; release a 10,000 milestone; dispute the 33,000 remainder.
	project := fundProject(t, ctx, escrowSvc, db, 43_000)
	released := testutil.SeedMilestone(t, db, project.ID, 10_000, domain.MilestoneStatusApproved)
	testutil.SeedMilestone(t, db, project.ID, 33_000, domain.MilestoneStatusPending)

	_, err := escrowSvc.ReleaseMilestone(ctx, project.ID, released.ID, testutil.Client())
	require.NoError(t, err)
	require.Equal(t, int64(33_000), testutil.LedgerBalance(t, db, project.ID))

	d, err := engine.Raise(ctx, project.ID, "work abandoned", "", testutil.Client())
	require.NoError(t, err)

	resolution, err := engine.Resolve(ctx, d.ID, domain.ResolutionRefundClient, "developer unreachable for 30 days", testutil.Admin())
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionRefundClient, resolution.Action)
	require.Len(t, resolution.Entries, 1)
	assert.Equal(t, int64(-33_000), resolution.Entries[0].Amount)
	assert.Equal(t, domain.EntryTypeRefund, resolution.Entries[0].EntryType)
	assert.Equal(t, int64(0), resolution.Entries[0].BalanceAfter)
	assert.Equal(t, domain.ProjectStatusCancelled, resolution.ProjectStatus)

	assert.Equal(t, int64(0), testutil.LedgerBalance(t, db, project.ID))

	updated, err := escrowSvc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusCancelled, updated.Status)
	assert.Equal(t, domain.EscrowStatusReleased, updated.EscrowStatus)

	resolved, annotations, err := engine.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, testutil.AdminID, *resolved.ResolvedBy)
	require.Len(t, annotations, 1)
	assert.Equal(t, "developer unreachable for 30 days", annotations[0].Note)
}

func TestResolve_ReleaseDeveloper(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	project := fundProject(t, ctx, escrowSvc, db, 5_000)

	d, err := engine.Raise(ctx, project.ID, "client refuses signoff", "", testutil.Developer())
	require.NoError(t, err)

	resolution, err := engine.Resolve(ctx, d.ID, domain.ResolutionReleaseDeveloper, "deliverables meet the agreed scope", testutil.Admin())
	require.NoError(t, err)
	require.Len(t, resolution.Entries, 1)
	assert.Equal(t, int64(-5_000), resolution.Entries[0].Amount)
	assert.Equal(t, domain.EntryTypeMilestoneRelease, resolution.Entries[0].EntryType)
	assert.Equal(t, domain.ProjectStatusCompleted, resolution.ProjectStatus)

	updated, err := escrowSvc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusCompleted, updated.Status)
	assert.Equal(t, int64(0), testutil.LedgerBalance(t, db, project.ID))
}

func TestResolve_Split(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	project := fundProject(t, ctx, escrowSvc, db, 10_000)

	d, err := engine.Raise(ctx, project.ID, "partial delivery", "", testutil.Client())
	require.NoError(t, err)

	resolution, err := engine.Resolve(ctx, d.ID, domain.ResolutionSplit, "half the milestones were delivered", testutil.Admin())
	require.NoError(t, err)
	require.Len(t, resolution.Entries, 2)
	assert.Equal(t, int64(-5_000), resolution.Entries[0].Amount)
	assert.Equal(t, domain.EntryTypeRefund, resolution.Entries[0].EntryType)
	assert.Equal(t, int64(-5_000), resolution.Entries[1].Amount)
	assert.Equal(t, domain.EntryTypeSplit, resolution.Entries[1].EntryType)
	assert.Equal(t, domain.ProjectStatusCompleted, resolution.ProjectStatus)
	assert.Equal(t, int64(0), testutil.LedgerBalance(t, db, project.ID))
}

func TestResolve_SplitOddRemainder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	project := fundProject(t, ctx, escrowSvc, db, 10_001)

	d, err := engine.Raise(ctx, project.ID, "partial delivery", "", testutil.Client())
	require.NoError(t, err)

	// The developer leg absorbs the unit that floor division drops.
	resolution, err := engine.Resolve(ctx, d.ID, domain.ResolutionSplit, "split per the assessment", testutil.Admin())
	require.NoError(t, err)
	require.Len(t, resolution.Entries, 2)
	assert.Equal(t, int64(-5_000), resolution.Entries[0].Amount)
	assert.Equal(t, int64(-5_001), resolution.Entries[1].Amount)
	assert.Equal(t, int64(0), testutil.LedgerBalance(t, db, project.ID))
}

func TestResolve_EmptyEscrow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	// Funded, then fully released before the dispute: nothing left to settle.
	project := fundProject(t, ctx, escrowSvc, db, 4_000)
	first := testutil.SeedMilestone(t, db, project.ID, 4_000, domain.MilestoneStatusApproved)
	testutil.SeedMilestone(t, db, project.ID, 1_000, domain.MilestoneStatusPending)
	_, err := escrowSvc.ReleaseMilestone(ctx, project.ID, first.ID, testutil.Client())
	require.NoError(t, err)

	d, err := engine.Raise(ctx, project.ID, "refund demanded", "", testutil.Client())
	require.NoError(t, err)

	resolution, err := engine.Resolve(ctx, d.ID, domain.ResolutionRefundClient, "nothing held in escrow", testutil.Admin())
	require.NoError(t, err)
	assert.Empty(t, resolution.Entries)
	assert.Equal(t, domain.ProjectStatusCancelled, resolution.ProjectStatus)
	assert.Equal(t, int64(0), testutil.LedgerBalance(t, db, project.ID))
}

func TestResolve_AlreadyResolved(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	project := fundProject(t, ctx, escrowSvc, db, 5_000)
	d, err := engine.Raise(ctx, project.ID, "quality", "", testutil.Client())
	require.NoError(t, err)

	_, err = engine.Resolve(ctx, d.ID, domain.ResolutionRefundClient, "first ruling", testutil.Admin())
	require.NoError(t, err)

	_, err = engine.Resolve(ctx, d.ID, domain.ResolutionReleaseDeveloper, "second ruling", testutil.Admin())
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	// The first ruling's refund is the only settlement.
	assert.Equal(t, 2, testutil.LedgerEntryCount(t, db, project.ID))
	assert.Equal(t, int64(0), testutil.LedgerBalance(t, db, project.ID))
}

func TestResolve_TerminalProjectNoOp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	project := fundProject(t, ctx, escrowSvc, db, 5_000)
	d, err := engine.Raise(ctx, project.ID, "quality", "", testutil.Client())
	require.NoError(t, err)

	// Force-cancelled underneath the open dispute.
	_, err = db.Exec(`UPDATE projects SET status = 'cancelled' WHERE id = $1`, project.ID)
	require.NoError(t, err)

	noop := metrics.OperationsTotal.WithLabelValues("resolve_dispute", metrics.OutcomeNoop)
	settled := metrics.OperationsTotal.WithLabelValues("resolve_dispute", metrics.OutcomeOK)
	noopBefore := promtest.ToFloat64(noop)
	settledBefore := promtest.ToFloat64(settled)

	resolution, err := engine.Resolve(ctx, d.ID, domain.ResolutionRefundClient, "moot, project cancelled", testutil.Admin())
	require.ErrorIs(t, err, domain.ErrNoOpResolution)
	require.NotNil(t, resolution)
	assert.Empty(t, resolution.Entries)

	// Counted as a no-op, not a settlement.
	assert.Equal(t, noopBefore+1, promtest.ToFloat64(noop))
	assert.Equal(t, settledBefore, promtest.ToFloat64(settled))

	// The decision is on record but no money moved.
	resolved, annotations, err := engine.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusResolved, resolved.Status)
	require.Len(t, annotations, 1)
	assert.Equal(t, 1, testutil.LedgerEntryCount(t, db, project.ID))
	assert.Equal(t, int64(5_000), testutil.LedgerBalance(t, db, project.ID))
}

func TestResolve_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, db)

	d := testutil.SeedOpenDispute(t, db, testutil.SeedProject(t, db, domain.ProjectStatusInDispute, 5_000).ID)

	_, err := engine.Resolve(ctx, d.ID, domain.ResolutionRefundClient, "note", testutil.Client())
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = engine.Resolve(ctx, d.ID, domain.ResolutionAction("escalate"), "note", testutil.Admin())
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = engine.Resolve(ctx, d.ID, domain.ResolutionRefundClient, "", testutil.Admin())
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestAnnotate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	engine, escrowSvc := newTestEngine(t, db)

	project := fundProject(t, ctx, escrowSvc, db, 5_000)
	d, err := engine.Raise(ctx, project.ID, "quality", "", testutil.Client())
	require.NoError(t, err)

	_, err = engine.Annotate(ctx, d.ID, "requested evidence from both parties", testutil.Admin())
	require.NoError(t, err)

	_, err = engine.Annotate(ctx, d.ID, "not an admin", testutil.Client())
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = engine.Resolve(ctx, d.ID, domain.ResolutionReleaseDeveloper, "evidence favors the developer", testutil.Admin())
	require.NoError(t, err)

	_, err = engine.Annotate(ctx, d.ID, "too late", testutil.Admin())
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	_, annotations, err := engine.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, annotations, 2)
	assert.Equal(t, "requested evidence from both parties", annotations[0].Note)
	assert.Equal(t, "evidence favors the developer", annotations[1].Note)
}
