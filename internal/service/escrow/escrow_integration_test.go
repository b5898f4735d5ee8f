package escrow

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbazaar/escrow-engine/internal/audit"
	"github.com/devbazaar/escrow-engine/internal/config"
	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/repository"
	"github.com/devbazaar/escrow-engine/internal/testutil"
)

func newTestService(t *testing.T, db *sql.DB) *Service {
	t.Helper()
	return NewService(
		repository.NewProjectRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewPaymentRepository(db),
		repository.NewMilestoneRepository(db),
		repository.NewDisputeRepository(db),
		repository.NewNotificationRepository(db),
		audit.NewRecorder(repository.NewAuditRepository(db)),
		db,
		&config.Config{
			DisputeSplitBps: 5000,
			StoreMaxRetries: 3,
		},
	)
}

// fundProject walks a project through gateway confirmation and admin
// verification so the escrow holds `amount`.
func fundProject(t *testing.T, ctx context.Context, svc *Service, db *sql.DB, amount int64) *domain.Project {
	t.Helper()

	project := testutil.SeedProject(t, db, domain.ProjectStatusDepositPending, amount)
	payment := testutil.SeedPendingPayment(t, db, project.ID, amount, "ref-"+uuid.NewString())

	_, err := svc.VerifyPayment(ctx, payment.ID, testutil.Admin())
	require.NoError(t, err)

	funded, err := svc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	return funded
}

func TestVerifyPayment(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := testutil.SeedProject(t, db, domain.ProjectStatusDepositPending, 43_000)
	payment := testutil.SeedPendingPayment(t, db, project.ID, 43_000, "ref-verify-1")

	verified, err := svc.VerifyPayment(ctx, payment.ID, testutil.Admin())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusVerified, verified.Status)
	require.NotNil(t, verified.VerifiedByAdminID)
	assert.Equal(t, testutil.AdminID, *verified.VerifiedByAdminID)
	require.NotNil(t, verified.VerifiedAt)

	updated, err := svc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusActive, updated.Status)
	assert.Equal(t, domain.EscrowStatusDepositVerified, updated.EscrowStatus)

	entries, err := svc.GetLedgerHistory(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryTypeDeposit, entries[0].EntryType)
	assert.Equal(t, int64(43_000), entries[0].Amount)
	assert.Equal(t, int64(43_000), entries[0].BalanceAfter)
	require.NotNil(t, entries[0].PaymentID)
	assert.Equal(t, payment.ID, *entries[0].PaymentID)

	assert.Equal(t, int64(43_000), testutil.LedgerBalance(t, db, project.ID))
}

func TestVerifyPayment_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := testutil.SeedProject(t, db, domain.ProjectStatusDepositPending, 5_000)
	payment := testutil.SeedPendingPayment(t, db, project.ID, 5_000, "ref-verify-2")

	_, err := svc.VerifyPayment(ctx, payment.ID, testutil.Admin())
	require.NoError(t, err)

	_, err = svc.VerifyPayment(ctx, payment.ID, testutil.Admin())
	require.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	assert.Equal(t, 1, testutil.LedgerEntryCount(t, db, project.ID))
	assert.Equal(t, int64(5_000), testutil.LedgerBalance(t, db, project.ID))
}

func TestVerifyPayment_AdminOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := testutil.SeedProject(t, db, domain.ProjectStatusDepositPending, 5_000)
	payment := testutil.SeedPendingPayment(t, db, project.ID, 5_000, "ref-verify-3")

	_, err := svc.VerifyPayment(ctx, payment.ID, testutil.Client())
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, 0, testutil.LedgerEntryCount(t, db, project.ID))
}

func TestRejectPayment(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := testutil.SeedProject(t, db, domain.ProjectStatusDepositPending, 5_000)
	payment := testutil.SeedPendingPayment(t, db, project.ID, 5_000, "ref-reject-1")

	err := svc.RejectPayment(ctx, payment.ID, "amount does not match invoice", testutil.Admin())
	require.NoError(t, err)

	rejected, err := svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "amount does not match invoice", *rejected.RejectionReason)

	// A rejected payment can no longer be verified and never touched the ledger.
	_, err = svc.VerifyPayment(ctx, payment.ID, testutil.Admin())
	require.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.Equal(t, 0, testutil.LedgerEntryCount(t, db, project.ID))

	updated, err := svc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusDepositPending, updated.Status)
}

func TestReleaseMilestone(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := fundProject(t, ctx, svc, db, 10_000)
	first := testutil.SeedMilestone(t, db, project.ID, 4_000, domain.MilestoneStatusApproved)
	second := testutil.SeedMilestone(t, db, project.ID, 6_000, domain.MilestoneStatusPending)

	entry, err := svc.ReleaseMilestone(ctx, project.ID, first.ID, testutil.Client())
	require.NoError(t, err)
	assert.Equal(t, int64(-4_000), entry.Amount)
	assert.Equal(t, int64(6_000), entry.BalanceAfter)
	assert.Equal(t, domain.EntryTypeMilestoneRelease, entry.EntryType)

	updated, err := svc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusActive, updated.Status)
	assert.Equal(t, 50, updated.Progress)

	// Releasing the final milestone drains escrow and completes the project.
	_, err = svc.ApproveMilestone(ctx, second.ID, testutil.Client())
	require.NoError(t, err)
	entry, err = svc.ReleaseMilestone(ctx, project.ID, second.ID, testutil.Client())
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.BalanceAfter)

	updated, err = svc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusCompleted, updated.Status)
	assert.Equal(t, domain.EscrowStatusReleased, updated.EscrowStatus)
	assert.Equal(t, 100, updated.Progress)

	milestones, err := svc.ListMilestones(ctx, project.ID)
	require.NoError(t, err)
	for _, m := range milestones {
		assert.Equal(t, domain.MilestoneStatusReleased, m.Status)
	}
}

func TestReleaseMilestone_RequiresApproval(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := fundProject(t, ctx, svc, db, 10_000)
	pending := testutil.SeedMilestone(t, db, project.ID, 4_000, domain.MilestoneStatusPending)

	_, err := svc.ReleaseMilestone(ctx, project.ID, pending.ID, testutil.Admin())
	require.ErrorIs(t, err, domain.ErrMilestoneNotApproved)
	assert.Equal(t, int64(10_000), testutil.LedgerBalance(t, db, project.ID))
}

func TestReleaseMilestone_InsufficientEscrow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := fundProject(t, ctx, svc, db, 10_000)
	oversized := testutil.SeedMilestone(t, db, project.ID, 20_000, domain.MilestoneStatusApproved)

	_, err := svc.ReleaseMilestone(ctx, project.ID, oversized.ID, testutil.Admin())
	require.ErrorIs(t, err, domain.ErrInsufficientEscrow)
	assert.Equal(t, 1, testutil.LedgerEntryCount(t, db, project.ID))
}

func TestReleaseMilestone_BlockedByOpenDispute(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := testutil.SeedProject(t, db, domain.ProjectStatusInDispute, 10_000)
	testutil.SeedOpenDispute(t, db, project.ID)

	_, err := svc.ReleaseMilestone(ctx, project.ID, uuid.New(), testutil.Admin())
	require.ErrorIs(t, err, domain.ErrProjectLocked)
}

func TestReleaseMilestone_DisputeRowWithoutStatusBlocks(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	// The project never transitioned to in_dispute, but a dispute row exists.
	project := testutil.SeedProject(t, db, domain.ProjectStatusActive, 10_000)
	testutil.SeedOpenDispute(t, db, project.ID)

	_, err := svc.ReleaseMilestone(ctx, project.ID, uuid.New(), testutil.Admin())
	require.ErrorIs(t, err, domain.ErrProjectLocked)
}

func TestReleaseMilestone_DeveloperForbidden(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := fundProject(t, ctx, svc, db, 10_000)
	approved := testutil.SeedMilestone(t, db, project.ID, 4_000, domain.MilestoneStatusApproved)

	_, err := svc.ReleaseMilestone(ctx, project.ID, approved.ID, testutil.Developer())
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAdjustLedger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := fundProject(t, ctx, svc, db, 1_000)

	entry, err := svc.AdjustLedger(ctx, project.ID, 500, "gateway fee refund", testutil.Admin())
	require.NoError(t, err)
	assert.Equal(t, int64(1_500), entry.BalanceAfter)
	assert.Equal(t, domain.EntryTypeAdjustment, entry.EntryType)

	entry, err = svc.AdjustLedger(ctx, project.ID, -200, "chargeback correction", testutil.Admin())
	require.NoError(t, err)
	assert.Equal(t, int64(1_300), entry.BalanceAfter)

	balance, err := svc.GetBalance(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_300), balance)

	_, err = svc.AdjustLedger(ctx, project.ID, 0, "noop", testutil.Admin())
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.AdjustLedger(ctx, project.ID, 100, "not an admin", testutil.Commissioner())
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAdjustLedger_TerminalProject(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := testutil.SeedProject(t, db, domain.ProjectStatusCancelled, 1_000)

	_, err := svc.AdjustLedger(ctx, project.ID, 100, "late correction", testutil.Admin())
	require.ErrorIs(t, err, domain.ErrTerminalState)
}

func TestCorruptionFreezesLedger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := fundProject(t, ctx, svc, db, 1_000)

	// Entries are immutable, so corruption can only be simulated by appending
	// a row whose balance_after disagrees with the running total.
	_, err := db.Exec(
		`INSERT INTO ledger_entries (id, project_id, amount, balance_after, entry_type, description)
		VALUES ($1, $2, 50, 9999, 'adjustment', 'bogus')`,
		uuid.New(), project.ID,
	)
	require.NoError(t, err)

	_, err = svc.AdjustLedger(ctx, project.ID, 100, "should not land", testutil.Admin())
	require.ErrorIs(t, err, domain.ErrCorruptionDetected)

	updated, err := svc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.True(t, updated.LedgerFrozen)

	// The freeze blocks every later write before any derivation happens.
	_, err = svc.AdjustLedger(ctx, project.ID, 100, "still frozen", testutil.Admin())
	require.ErrorIs(t, err, domain.ErrLedgerFrozen)

	result, err := svc.Reconcile(ctx, project.ID, testutil.Admin())
	require.NoError(t, err)
	assert.False(t, result.Consistent)
	assert.Equal(t, int64(9999), result.Balance)
	assert.Equal(t, int64(1_050), result.RecomputedSum)
}

func TestReconcile_UnfreezesConsistentLedger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := fundProject(t, ctx, svc, db, 1_000)

	_, err := db.Exec(`UPDATE projects SET ledger_frozen = true WHERE id = $1`, project.ID)
	require.NoError(t, err)

	result, err := svc.Reconcile(ctx, project.ID, testutil.Admin())
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	assert.Equal(t, int64(1_000), result.Balance)
	assert.Equal(t, int64(1_000), result.RecomputedSum)

	updated, err := svc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.False(t, updated.LedgerFrozen)

	_, err = svc.AdjustLedger(ctx, project.ID, 100, "post-reconcile correction", testutil.Admin())
	require.NoError(t, err)
}

func TestReconcile_CompletesStaleVerification(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := testutil.SeedProject(t, db, domain.ProjectStatusDepositPending, 2_000)
	payment := testutil.SeedPendingPayment(t, db, project.ID, 2_000, "ref-stale-1")

	_, err := svc.VerifyPayment(ctx, payment.ID, testutil.Admin())
	require.NoError(t, err)

	// Simulate a crash between the ledger write and the payment status flip.
	_, err = db.Exec(
		`UPDATE payments SET status = 'pending_verification', verified_by_admin_id = NULL, verified_at = NULL WHERE id = $1`,
		payment.ID,
	)
	require.NoError(t, err)

	result, err := svc.Reconcile(ctx, project.ID, testutil.Admin())
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	assert.Equal(t, 1, result.CompletedVerifications)

	completed, err := svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusVerified, completed.Status)

	// The entry was never re-applied.
	assert.Equal(t, 1, testutil.LedgerEntryCount(t, db, project.ID))
	assert.Equal(t, int64(2_000), testutil.LedgerBalance(t, db, project.ID))
}

func TestConcurrentAdjustmentsSerialize(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := fundProject(t, ctx, svc, db, 10_000)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AdjustLedger(ctx, project.ID, 100, "concurrent correction", testutil.Admin())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := svc.GetLedgerHistory(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, entries, workers+1)

	// Every balance_after must equal the running sum in (created_at, seq) order.
	var running int64
	for _, e := range entries {
		running += e.Amount
		assert.Equal(t, running, e.BalanceAfter)
	}
	assert.Equal(t, int64(10_000+workers*100), testutil.LedgerBalance(t, db, project.ID))
}

func TestProjectLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project, err := svc.CreateProject(ctx, CreateProjectRequest{
		ClientID:    testutil.ClientID,
		DeveloperID: testutil.DeveloperID,
		Title:       "Inventory dashboard",
		TotalValue:  12_000,
	}, testutil.Commissioner())
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusLead, project.Status)
	assert.Equal(t, testutil.CommissionerID, project.CommissionerID)

	project, err = svc.SubmitProposal(ctx, project.ID, testutil.Commissioner())
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusProposed, project.Status)

	// Only the client on the project may accept.
	_, err = svc.AcceptProposal(ctx, project.ID, testutil.Developer())
	require.ErrorIs(t, err, domain.ErrForbidden)

	project, err = svc.AcceptProposal(ctx, project.ID, testutil.Client())
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusDepositPending, project.Status)
	assert.Equal(t, domain.EscrowStatusDepositPending, project.EscrowStatus)

	// Both columns are written by the same commit; a fresh read never sees a
	// deposit_pending project with escrow_status still none.
	stored, err := svc.GetProjectStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusDepositPending, stored.Status)
	assert.Equal(t, domain.EscrowStatusDepositPending, stored.EscrowStatus)

	// Re-submitting an already accepted proposal is an illegal move.
	_, err = svc.SubmitProposal(ctx, project.ID, testutil.Commissioner())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	payment := testutil.SeedPendingPayment(t, db, project.ID, 12_000, "ref-lifecycle-1")
	_, err = svc.VerifyPayment(ctx, payment.ID, testutil.Admin())
	require.NoError(t, err)

	project, err = svc.HoldProject(ctx, project.ID, testutil.Admin())
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusOnHold, project.Status)

	project, err = svc.ResumeProject(ctx, project.ID, testutil.Admin())
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusActive, project.Status)

	project, err = svc.CancelProject(ctx, project.ID, testutil.Admin())
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusCancelled, project.Status)

	_, err = svc.CancelProject(ctx, project.ID, testutil.Admin())
	require.ErrorIs(t, err, domain.ErrTerminalState)
}

func TestAddAndApproveMilestone(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	project := fundProject(t, ctx, svc, db, 8_000)

	m, err := svc.AddMilestone(ctx, project.ID, "API integration", 3_000, testutil.Commissioner())
	require.NoError(t, err)
	assert.Equal(t, domain.MilestoneStatusPending, m.Status)

	_, err = svc.AddMilestone(ctx, project.ID, "", 3_000, testutil.Commissioner())
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = svc.AddMilestone(ctx, project.ID, "Free work", -1, testutil.Commissioner())
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = svc.AddMilestone(ctx, project.ID, "Not my project", 100, testutil.Developer())
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.ApproveMilestone(ctx, m.ID, testutil.Developer())
	require.ErrorIs(t, err, domain.ErrForbidden)

	approved, err := svc.ApproveMilestone(ctx, m.ID, testutil.Client())
	require.NoError(t, err)
	assert.Equal(t, domain.MilestoneStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	assert.WithinDuration(t, time.Now().UTC(), *approved.ApprovedAt, 5*time.Second)
}
